// Package errs defines the typed error kinds surfaced across the engine,
// document layer and binary protocol. They carry enough structure for the
// protocol server to fill an ERROR response's {error, kind} payload without
// string-sniffing.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from the wire protocol's error taxonomy.
type Kind string

const (
	BadFrame        Kind = "BAD_FRAME"
	BadPayload      Kind = "BAD_PAYLOAD"
	BadQuery        Kind = "BAD_QUERY"
	BadVector       Kind = "BAD_VECTOR"
	NotFound        Kind = "NOT_FOUND"
	Duplicate       Kind = "DUPLICATE"
	Unauthorized    Kind = "UNAUTHORIZED"
	WriteFailed     Kind = "WRITE_FAILED"
	StorageDegraded Kind = "STORAGE_DEGRADED"
	Internal        Kind = "INTERNAL"
)

// Error is the error type returned by every exported operation in this
// module. It wraps an underlying cause when one exists, so callers can
// still errors.Is/errors.As through to it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around an existing error, preserving it for Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to Internal for anything else so callers always have a kind to report.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
