// Package apperr defines the error taxonomy surfaced by the service. Every
// failure leaving a component carries one of these kinds so the HTTP layer
// can map it to a status code and a structured body without inspecting
// collaborator-specific error types.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation policy and HTTP mapping.
type Kind string

const (
	// KindInvalidInput marks malformed or missing request fields.
	KindInvalidInput Kind = "invalid_input"
	// KindInvalidConfig marks a rejected threshold or interval value.
	KindInvalidConfig Kind = "invalid_config"
	// KindUnauthenticated marks a missing or unverifiable credential.
	KindUnauthenticated Kind = "unauthenticated"
	// KindPersistence marks a failure reported by the datastore.
	KindPersistence Kind = "persistence"
	// KindClassificationParse marks completion output with no extractable JSON.
	KindClassificationParse Kind = "classification_parse"
	// KindEmptyHistory marks a classification request with no readings to work from.
	KindEmptyHistory Kind = "empty_history"
	// KindInternal marks any other collaborator failure passed through to the caller.
	KindInternal Kind = "internal"
)

// Error pairs a kind with a human-readable detail and an optional cause.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf builds an error of the given kind with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and detail to an underlying cause.
func Wrap(err error, kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, cause: err}
}

// KindOf reports the kind carried by err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailOf returns the detail message carried by err, falling back to
// err.Error() for untyped failures.
func DetailOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
