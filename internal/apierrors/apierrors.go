// Package apierrors defines the error kinds shared by every service and the
// mapping from kind to HTTP status used by the handlers.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a service failure.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindImmutable
	KindBackendUnavailable
	KindInternal
)

// Error carries a kind tag alongside a user-facing message. The wrapped cause
// is logged but never returned to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new Error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// InvalidInput is shorthand for a 422-class error.
func InvalidInput(format string, args ...interface{}) *Error {
	return Newf(KindInvalidInput, format, args...)
}

// NotFound is shorthand for a 404-class error.
func NotFound(format string, args ...interface{}) *Error {
	return Newf(KindNotFound, format, args...)
}

// Forbidden is shorthand for a 403-class error.
func Forbidden(format string, args ...interface{}) *Error {
	return Newf(KindForbidden, format, args...)
}

// Unauthenticated is shorthand for a 401-class error.
func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, message)
}

// StatusCode maps an error to its HTTP status. Unrecognised errors map to 500.
func StatusCode(err error) int {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Kind {
	case KindInvalidInput, KindImmutable:
		return http.StatusUnprocessableEntity
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the client-facing message for an error. Internal causes are
// collapsed to a generic message.
func Detail(err error) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return "internal server error"
	}
	if apiErr.Kind == KindInternal && apiErr.Message == "" {
		return "internal server error"
	}
	return apiErr.Message
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
