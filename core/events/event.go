package events

import (
	"log/slog"

	"anchorledger/core/types"
	"anchorledger/observability/logging"
)

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// LogEmitter writes every emitted event to the structured logger. The node
// uses it as the default downstream subscriber. Attribute keys outside the
// logging redaction allowlist, account addresses in particular, are masked
// before the line is written.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements the Emitter interface.
func (l LogEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("component", "events")}
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		if e := payload.Event(); e != nil {
			for k, v := range e.Attributes {
				attrs = append(attrs, logging.MaskField(k, v))
			}
		}
	}
	logger.Info(evt.EventType(), attrs...)
}
