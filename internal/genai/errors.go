// v2
// internal/genai/errors.go

package genai

import "errors"

// TransientError marks a failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps an error as retryable.
func NewTransientError(err error) error { return &TransientError{err: err} }

// FatalError marks a failure that will not succeed on retry.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps an error as non-retryable.
func NewFatalError(err error) error { return &FatalError{err: err} }

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether the error should not be retried.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
