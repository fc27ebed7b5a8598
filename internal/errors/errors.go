// Package errors provides coded domain errors for the circulation API.
//
// Services return *Error values built with the constructors below; the API
// layer maps the Code to an HTTP status. Matching works on the code, so a
// wrapped or re-messaged error still satisfies errors.Is against a sentinel:
//
//	if errors.Is(err, domainerrors.ErrPreconditionFailed) {
//	    // business rule rejected the request, caller must re-decide
//	}
//
//	var domainErr *domainerrors.Error
//	if errors.As(err, &domainErr) && domainErr.Retryable() {
//	    // storage fault, safe to retry the whole request
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents a machine-readable error code.
type Code string

// Error codes. The string values appear in API error bodies, so they must
// not change once published.
const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeValidation         Code = "VALIDATION"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodeConflict           Code = "CONFLICT"
	CodeForbidden          Code = "FORBIDDEN"
	CodeStorageFailure     Code = "STORAGE_FAILURE" // the record store failed, nothing was written
	CodeInternal           Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status code for an error code.
// Business-rule rejections are client errors (400), matching the lend and
// return endpoints' documented responses.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict:
		// Conflict also covers a lost optimistic race; the request may be retried.
		return http.StatusConflict
	case CodeValidation, CodePreconditionFailed:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // never serialized
}

// Error implements the error interface. The cause is appended for logs;
// API responses use Message alone.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code. Messages and
// causes are ignored, which is what lets the sentinels below match.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// Retryable reports whether the caller may safely repeat the request.
// Only storage failures qualify: the unit of work was rolled back in full.
func (e *Error) Retryable() bool {
	return e.Code == CodeStorageFailure
}

// WithDetails returns a copy of the error carrying details.
// The receiver is left untouched, so sentinels stay safe to share.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.cause = err
	return &c
}

// Sentinels for errors.Is. Only the Code is compared.
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrPreconditionFailed = &Error{Code: CodePreconditionFailed, Message: "precondition failed"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrStorageFailure     = &Error{Code: CodeStorageFailure, Message: "storage failure"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
)

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf is Validation with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error carrying per-field messages.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// PreconditionFailed creates a business-rule rejection, such as lending a
// book that is already out.
func PreconditionFailed(msg string) *Error {
	return &Error{Code: CodePreconditionFailed, Message: msg}
}

// Conflict creates a conflict error.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// StorageFailure wraps an infrastructure error from the record store.
// msg is what the client sees; err only reaches the logs.
func StorageFailure(err error, msg string) *Error {
	return &Error{Code: CodeStorageFailure, Message: msg, cause: err}
}

// Internal creates an internal error for faults that are not the caller's.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}
