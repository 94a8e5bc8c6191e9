// Package domainerrors provides coded errors shared by services and transports.
//
// Stores return sentinel errors (pkg/platform/sentinel); services translate
// them into coded errors here; transports map codes to HTTP statuses in
// pkg/platform/httputil. Codes are stable strings so they can travel through
// logs and API bodies without leaking internals.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and branching.
type Code string

const (
	// CodeValidation marks malformed or missing input; no mutation was attempted.
	CodeValidation Code = "validation"
	// CodeBadRequest marks a request the transport could not even hand to a service.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput marks a value that failed parsing at a trust boundary.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound marks a referenced entity that does not exist.
	CodeNotFound Code = "not_found"
	// CodeForbidden marks a permission or funding denial.
	CodeForbidden Code = "forbidden"
	// CodeUnauthorized marks a missing or invalid credential.
	CodeUnauthorized Code = "unauthorized"
	// CodeConflict marks a uniqueness or concurrent-write conflict.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation marks a broken aggregate invariant.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal marks an infrastructure failure, including failed store writes.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. It may wrap an underlying cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match two coded errors by code and message, so tests can
// compare against a freshly constructed value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New builds a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			break
		}
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability:
// dErrors.Is(err, dErrors.CodeNotFound).
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost message of err, or an empty string.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
