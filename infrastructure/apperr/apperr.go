// Package apperr defines the structured error type shared by every POS
// service. Each error carries a stable numeric code inside the range assigned
// to the owning service (account 10xxx, terminal 20xxx, master data 30xxx,
// cart 40xxx, stock 60xxx, cross-cutting 90xxx) and maps onto an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for recovery purposes.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInvalidState   Kind = "invalid_state"
	KindDependency     Kind = "dependency"
	KindInternal       Kind = "internal"
)

// httpStatusByKind maps each kind to its HTTP status code.
var httpStatusByKind = map[Kind]int{
	KindAuthentication: http.StatusUnauthorized,
	KindAuthorization:  http.StatusForbidden,
	KindValidation:     http.StatusBadRequest,
	KindNotFound:       http.StatusNotFound,
	KindConflict:       http.StatusConflict,
	KindInvalidState:   http.StatusConflict,
	KindDependency:     http.StatusServiceUnavailable,
	KindInternal:       http.StatusInternalServerError,
}

// Error is a structured error with a stable numeric code.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for the error kind.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithDetails attaches a detail entry and returns the error for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// New creates a new Error.
func New(kind Kind, code int, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Authentication creates an authentication error.
func Authentication(code int, message string) *Error {
	return New(KindAuthentication, code, message)
}

// Authorization creates an authorization error.
func Authorization(code int, message string) *Error {
	return New(KindAuthorization, code, message)
}

// Validation creates a validation error.
func Validation(code int, message string) *Error {
	return New(KindValidation, code, message)
}

// NotFound creates a not-found error.
func NotFound(code int, message string) *Error {
	return New(KindNotFound, code, message)
}

// Conflict creates a conflict error (ETag mismatch, duplicate key).
func Conflict(code int, message string) *Error {
	return New(KindConflict, code, message)
}

// InvalidState creates an illegal-transition error.
func InvalidState(code int, message string) *Error {
	return New(KindInvalidState, code, message)
}

// Dependency creates a dependency-unavailable error.
func Dependency(code int, message string, err error) *Error {
	return New(KindDependency, code, message).WithCause(err)
}

// Internal creates an internal error.
func Internal(code int, message string, err error) *Error {
	return New(KindInternal, code, message).WithCause(err)
}

// From extracts an *Error from an error chain, or nil.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsKind reports whether the error chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	if appErr := From(err); appErr != nil {
		return appErr.Kind == kind
	}
	return false
}

// Common cross-cutting codes (90xxx).
const (
	CodeInternal          = 90001
	CodeDependency        = 90002
	CodeConflict          = 90003
	CodeValidation        = 90004
	CodeUnauthorized      = 90005
	CodeForbidden         = 90006
	CodeNotFound          = 90007
	CodeRateLimitExceeded = 90008
)
