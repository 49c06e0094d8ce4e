package modules

import (
	"net/http"
	"strings"
)

const (
	codeInvalidParams = -32602
	codeServerError   = -32000
)

type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// wrapEngineError maps engine failures onto RPC errors. Engine sentinels are
// prefixed with their module name and count as client errors; anything else
// is a server fault.
func wrapEngineError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := err.Error()
	for _, prefix := range []string{"market engine:", "risk engine:", "escrow:", "vote ledger:", "token:", "protocol:"} {
		if strings.HasPrefix(message, prefix) {
			status = http.StatusBadRequest
			code = codeInvalidParams
			break
		}
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: message}
}
