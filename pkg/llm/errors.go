package llm

import (
	"errors"
	"fmt"
)

// ErrNoProvider is returned when no LLM provider is configured for a call
// that requires one.
var ErrNoProvider = errors.New("no LLM provider configured")

// BadOutputError indicates the model produced output that could not be
// parsed as JSON (or did not validate against the requested schema) even
// after the cleanup retry.
type BadOutputError struct {
	Task string
	Raw  string
	Err  error
}

func (e *BadOutputError) Error() string {
	return fmt.Sprintf("task %s did not return valid structured output: %v", e.Task, e.Err)
}

func (e *BadOutputError) Unwrap() error { return e.Err }

// IsBadOutput reports whether err is a BadOutputError.
func IsBadOutput(err error) bool {
	var bo *BadOutputError
	return errors.As(err, &bo)
}

// ProviderError wraps a failure from a specific provider so the router can
// log which link in the preference chain failed.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
