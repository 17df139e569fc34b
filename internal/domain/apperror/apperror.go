// Package apperror defines the stable error kinds surfaced by the match
// service and helpers to attach them to operation errors.
//
// Every error returned across the service boundary carries exactly one kind.
// Callers branch on the kind with errors.Is and may additionally match the
// precise reason (e.g. ErrMatchFull) the same way.
package apperror

import (
	"errors"
	"strings"
)

// Kinds.
var (
	// ErrValidation marks malformed input. Never retried automatically.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated marks a missing, invalid or expired credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAuthorization marks a caller without rights for the operation.
	ErrAuthorization = errors.New("not authorized")
	// ErrNotFound marks an absent entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a lost concurrency race or a conflicting request.
	// Safe to retry against fresh state.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState marks an entity in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrTransient marks an infrastructure hiccup. Safe to retry with backoff.
	ErrTransient = errors.New("transient store error")
)

var kinds = []error{
	ErrValidation,
	ErrUnauthenticated,
	ErrAuthorization,
	ErrNotFound,
	ErrConflict,
	ErrInvalidState,
	ErrTransient,
}

// Error is an operation error tagged with a kind and an optional reason.
type Error struct {
	Op     string
	Kind   error
	Reason error
	Err    error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	switch {
	case e.Reason != nil:
		parts = append(parts, e.Reason.Error())
	case e.Kind != nil:
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes kind, reason and cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	for _, err := range []error{e.Kind, e.Reason, e.Err} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// NewKind returns an error of kind for op without further detail.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// New returns an error of kind for op with a precise reason.
func New(op string, kind, reason error) error {
	return &Error{Op: op, Kind: kind, Reason: reason}
}

// WrapKind tags cause with kind for op.
func WrapKind(op string, kind, cause error) error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Wrap prefixes op to cause. The kind of cause, if any, stays reachable.
func Wrap(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Err: cause}
}

// Validation is shorthand for a validation error with a message.
func Validation(op, msg string) error {
	return &Error{Op: op, Kind: ErrValidation, Reason: errors.New(msg)}
}

// KindOf returns the kind carried by err, or nil if it has none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns a stable snake_case identifier for the kind of err.
func Code(err error) string {
	switch KindOf(err) {
	case ErrValidation:
		return "validation_error"
	case ErrUnauthenticated:
		return "unauthenticated"
	case ErrAuthorization:
		return "forbidden"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrInvalidState:
		return "invalid_state"
	case ErrTransient:
		return "unavailable"
	default:
		return "internal_error"
	}
}
