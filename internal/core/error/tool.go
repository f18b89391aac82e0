package errx

import (
	"errors"
	"fmt"
)

// ToolError classifies a failed analytics service invocation.
// Retryable errors exhausted the retry budget on transient failures
// (timeouts, connection errors, 5xx); fatal errors were rejected by the
// remote service or produced an unreadable body and were not retried.
type ToolError struct {
	Tool      string
	Err       error
	Retryable bool
	Attempts  int
}

func (e *ToolError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s invocation failed (%s, %d attempt(s)): %v", e.Tool, kind, e.Attempts, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError wraps err as a classified tool invocation failure.
func NewToolError(tool string, err error, retryable bool, attempts int) *ToolError {
	return &ToolError{Tool: tool, Err: err, Retryable: retryable, Attempts: attempts}
}

// AsToolError extracts a ToolError from an error chain, if present.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRetryable reports whether the error chain contains a retryable ToolError.
func IsRetryable(err error) bool {
	te, ok := AsToolError(err)
	return ok && te.Retryable
}
