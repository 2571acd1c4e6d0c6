package domain

import "github.com/pkg/errors"

// ExecErrorKind classifies order submission failures so the scheduler can
// decide between requeue and terminal failure.
type ExecErrorKind int

const (
	// ExecRetryable transient venue error, safe to requeue with decayed priority.
	ExecRetryable ExecErrorKind = iota
	// ExecFatal permanent failure such as insufficient funds, never retried.
	ExecFatal
)

// ExecError wraps an order submission failure with its retry classification.
type ExecError struct {
	Kind ExecErrorKind
	Err  error
}

func (e *ExecError) Error() string {
	return e.Err.Error()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// NewRetryableExecError marks err as retryable.
func NewRetryableExecError(err error) *ExecError {
	return &ExecError{Kind: ExecRetryable, Err: err}
}

// NewFatalExecError marks err as permanent.
func NewFatalExecError(err error) *ExecError {
	return &ExecError{Kind: ExecFatal, Err: err}
}

// IsRetryableExec reports whether err is a retryable execution error.
// Unclassified errors are treated as retryable so that transient venue
// glitches are not promoted to terminal failures.
func IsRetryableExec(err error) bool {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind == ExecRetryable
	}
	return true
}
