// Package apperr holds the station error taxonomy. Each error carries a
// kind, usable with errors.Is, and a message that is safe to narrate back
// to the train origin.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrFetch        = errors.New("fetch")
	ErrValidation   = errors.New("validation")
	ErrAccessDenied = errors.New("access denied")
	ErrExecution    = errors.New("execution")
	ErrStorage      = errors.New("storage")
	ErrNotFound     = errors.New("not found")
	ErrDelivery     = errors.New("delivery")
)

var prefixes = map[error]string{
	ErrFetch:        "Fetch",
	ErrValidation:   "Validation",
	ErrAccessDenied: "Access Control",
	ErrExecution:    "Execution",
	ErrStorage:      "Storage",
	ErrNotFound:     "Not Found",
	ErrDelivery:     "Delivery",
}

// Error is a classified failure.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return prefixes[e.Kind] + ": " + e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func Fetch(cause error, format string, args ...any) *Error {
	return newf(ErrFetch, cause, format, args...)
}

func Validation(cause error, format string, args ...any) *Error {
	return newf(ErrValidation, cause, format, args...)
}

func AccessDenied(cause error, format string, args ...any) *Error {
	return newf(ErrAccessDenied, cause, format, args...)
}

func Execution(cause error, format string, args ...any) *Error {
	return newf(ErrExecution, cause, format, args...)
}

func Storage(cause error, format string, args ...any) *Error {
	return newf(ErrStorage, cause, format, args...)
}

func NotFound(entity string, id any) *Error {
	return newf(ErrNotFound, nil, "%s with id %v not found", entity, id)
}

func Delivery(cause error, format string, args ...any) *Error {
	return newf(ErrDelivery, cause, format, args...)
}

// Message returns the narration for err: the classified message when err
// is an *Error, err.Error() otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
