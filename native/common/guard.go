package common

import "errors"

// ErrModulePaused is returned when a protocol module is halted by the global
// circuit breaker.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module-wide circuit breaker is engaged. The
// fine-grained per-market mint/borrow pauses live in the risk engine; this
// guard is the coarse emergency stop in front of every engine entry point.
type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
