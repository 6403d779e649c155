// Package errors defines the typed failure taxonomy shared by every
// transcription backend. Backends never return raw engine errors; they
// convert them into one *Error of a known Kind.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindFile means the input file is missing, unreadable, malformed or too large.
	KindFile Kind = "FileError"
	// KindEnvironment means no usable backend exists for the request.
	KindEnvironment Kind = "EnvironmentError"
	// KindModel means the requested model is unknown or unavailable.
	KindModel Kind = "ModelError"
	// KindProcessing means the backend failed while running.
	KindProcessing Kind = "ProcessingError"
	// KindAuthentication means a cloud credential is missing or was rejected.
	KindAuthentication Kind = "AuthenticationError"
)

// Error is the typed error returned by backends and the selector.
type Error struct {
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Timeout   bool           `json:"timeout,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsRetryable marks the error as safe to retry later.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

// AsTimeout marks the error as caused by an expired deadline.
func (e *Error) AsTimeout() *Error {
	e.Timeout = true
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// File creates a FileError.
func File(format string, args ...any) *Error { return New(KindFile, format, args...) }

// Environment creates an EnvironmentError.
func Environment(format string, args ...any) *Error { return New(KindEnvironment, format, args...) }

// Model creates a ModelError.
func Model(format string, args ...any) *Error { return New(KindModel, format, args...) }

// Processing creates a ProcessingError.
func Processing(format string, args ...any) *Error { return New(KindProcessing, format, args...) }

// Authentication creates an AuthenticationError.
func Authentication(format string, args ...any) *Error {
	return New(KindAuthentication, format, args...)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or an empty Kind if err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap converts an arbitrary error into an *Error. Errors that already carry
// a Kind are returned unchanged.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return New(kind, format, args...).WithCause(err)
}
