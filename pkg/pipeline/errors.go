package pipeline

import (
	"errors"
	"fmt"
)

// Error codes surfaced in a failed job's error body. A recovered panic
// reports the panic value's type name as its code instead.
const (
	CodeNotFound     = "NotFound"
	CodeNoCandidates = "NoCandidates"
	CodeNoInsights   = "NoInsights"
)

// ErrCancelled signals a cooperative exit after a cancel was observed.
// The runner converts it to CANCELLED without recording a failure.
var ErrCancelled = errors.New("job cancelled")

// Error is a pipeline failure with a stable, client-visible code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func failf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
