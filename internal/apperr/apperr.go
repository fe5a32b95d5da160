// Package apperr holds the error kinds shared by the scheduling, availability
// and chat services. Callers classify failures with errors.Is against one of
// the four kind sentinels; domain packages declare their own specific
// sentinels on top of these.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("service unavailable")

	// ErrForbidden marks a conflict caused by acting on someone else's
	// resource. It never appears without ErrConflict.
	ErrForbidden = errors.New("forbidden")
)

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Validationf reports malformed caller input.
func Validationf(format string, args ...any) error {
	return &kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFound reports that the named entity does not exist.
func NotFound(entity string) error {
	return &kindError{kind: ErrNotFound, msg: entity + " not found"}
}

func Conflict(msg string) error {
	return &kindError{kind: ErrConflict, msg: msg}
}

// Forbidden is a conflict raised when the caller does not own the resource
// or lacks the role the operation needs.
func Forbidden(msg string) error {
	return &kindError{kind: ErrConflict, msg: msg, cause: ErrForbidden}
}

// Unavailable wraps a downstream store or transport failure. The op string
// ends up in logs only; HTTP responses never echo it.
func Unavailable(op string, err error) error {
	return &kindError{kind: ErrUnavailable, msg: fmt.Sprintf("%s: %v", op, err), cause: err}
}

// Kind returns the kind sentinel err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
