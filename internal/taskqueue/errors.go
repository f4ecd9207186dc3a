package taskqueue

import "github.com/pkg/errors"

// nonRetryableError marks failures that retrying cannot fix
type nonRetryableError struct {
	cause error
}

func (e *nonRetryableError) Error() string { return e.cause.Error() }
func (e *nonRetryableError) Cause() error  { return e.cause }
func (e *nonRetryableError) Unwrap() error { return e.cause }

// NonRetryable wraps an error so the consumer dead-letters immediately
// instead of scheduling another attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{cause: err}
}

// IsRetryable reports whether a handler failure may be retried. Errors are
// retryable unless explicitly marked otherwise.
func IsRetryable(err error) bool {
	var nr *nonRetryableError
	return !errors.As(err, &nr)
}
