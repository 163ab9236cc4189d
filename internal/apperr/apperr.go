// Package apperr defines the error kinds shared across the ingestion core.
//
// Every exported operation in internal/ingest, internal/collector,
// internal/canon, internal/watch and internal/store returns (or wraps) an
// *Error so callers can branch on Kind without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error classification. Kinds are carried on the
// value, never inferred from a type switch over concrete error structs.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	PermissionDenied Kind = "permission_denied"
	DuplicateFile   Kind = "duplicate_file"
	UnknownFormat   Kind = "unknown_format"
	ParseError      Kind = "parse_error"
	GapDetected     Kind = "gap_detected"
	Conflict        Kind = "conflict"
	Transient       Kind = "transient"
	Internal        Kind = "internal"
	Cancelled       Kind = "cancelled"
)

// Error is the shared error value for the whole core. Message is a
// human-readable description; Hint is optional remediation guidance.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithHint returns a copy of e with Hint set.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to Internal when err carries no classification.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// IsTransient reports whether err should be retried by a caller with
// backoff (watch retry thread, collector HTTP 5xx mapping).
func IsTransient(err error) bool {
	return KindOf(err) == Transient
}
