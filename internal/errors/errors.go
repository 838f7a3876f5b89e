// Package errors defines the semantic error kinds the engines and the
// service surface classify failures into. Callers branch on Kind, not on
// concrete types.
package errors

import (
	"errors"
	"fmt"
)

// Kind represents the semantic class of an error
type Kind string

const (
	// KindValidation represents bad request shape: missing approver,
	// non-remediable control, malformed filter.
	KindValidation Kind = "validation"
	// KindNotFound represents a missing finding, account, or control.
	KindNotFound Kind = "not_found"
	// KindConflict represents a finding not in a legal source state for
	// the requested transition.
	KindConflict Kind = "conflict"
	// KindAdapterTransient represents cloud API throttling or timeouts,
	// retried inside the adapter before surfacing.
	KindAdapterTransient Kind = "adapter_transient"
	// KindAdapterPermanent represents access denied or malformed cloud
	// requests that retrying cannot fix.
	KindAdapterPermanent Kind = "adapter_permanent"
	// KindInternal represents database, object storage, or catalog faults.
	KindInternal Kind = "internal"
)

// Error is a structured error carrying a semantic kind and optional detail.
type Error struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// New creates an Error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewValidation creates a validation error
func NewValidation(message string) *Error {
	return New(KindValidation, message)
}

// NewNotFound creates a not-found error
func NewNotFound(message string) *Error {
	return New(KindNotFound, message)
}

// NewConflict creates a conflict error
func NewConflict(message string) *Error {
	return New(KindConflict, message)
}

// NewInternal creates an internal error
func NewInternal(message string) *Error {
	return New(KindInternal, message)
}

// WithCause attaches the underlying cause
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail attaches one detail key
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the semantic kind of err, or KindInternal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether the first *Error in err's chain has the given kind.
// Kinds of *Error values further down the chain are not consulted.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Wrap annotates err with a kind and message, preserving the chain.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}
