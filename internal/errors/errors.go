package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeValidation    ErrorType = "VALIDATION"
	ErrorTypeInternal      ErrorType = "INTERNAL"
	ErrorTypeUnauthorized  ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden     ErrorType = "FORBIDDEN"
	ErrorTypeIntegrity     ErrorType = "INTEGRITY"
	ErrorTypeRange         ErrorType = "RANGE"
	ErrorTypeNotApplicable ErrorType = "NOT_APPLICABLE"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypeTransport     ErrorType = "TRANSPORT"
	ErrorTypeConfig        ErrorType = "CONFIG"
)

// Error is the single error shape used across the engine. Type is the
// category callers branch on; Code is the HTTP status it maps to when it
// crosses the wire.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same type, so errors.Is(err, &Error{Type: ErrorTypeConflict})
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

func newError(t ErrorType, code int, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Code: code, Err: cause}
}

func NotFound(message string) *Error {
	return newError(ErrorTypeNotFound, http.StatusNotFound, message, nil)
}

func ValidationError(message string, details any) *Error {
	e := newError(ErrorTypeValidation, http.StatusBadRequest, message, nil)
	e.Details = details
	return e
}

func Internal(message string, cause error) *Error {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

func Unauthorized(message string) *Error {
	return newError(ErrorTypeUnauthorized, http.StatusUnauthorized, message, nil)
}

func Forbidden(message string) *Error {
	return newError(ErrorTypeForbidden, http.StatusForbidden, message, nil)
}

// Integrity reports a hash mismatch. These are never retried.
func Integrity(message string, expected, actual string) *Error {
	e := newError(ErrorTypeIntegrity, http.StatusUnprocessableEntity, message, nil)
	e.Details = map[string]string{"expected": expected, "actual": actual}
	return e
}

func Range(message string) *Error {
	return newError(ErrorTypeRange, http.StatusRequestedRangeNotSatisfiable, message, nil)
}

func NotApplicable(message string) *Error {
	return newError(ErrorTypeNotApplicable, http.StatusOK, message, nil)
}

func Conflict(message string, details any) *Error {
	e := newError(ErrorTypeConflict, http.StatusConflict, message, nil)
	e.Details = details
	return e
}

// Transport wraps a failed remote call. status is the HTTP status when the
// remote answered, 0 when it did not.
func Transport(message string, status int, cause error) *Error {
	e := newError(ErrorTypeTransport, http.StatusBadGateway, message, cause)
	if status != 0 {
		e.Details = map[string]int{"status": status}
	}
	return e
}

func Config(message string) *Error {
	return newError(ErrorTypeConfig, http.StatusInternalServerError, message, nil)
}

// Wrap attaches a cause to a new error of the given type.
func Wrap(t ErrorType, message string, cause error) *Error {
	code := http.StatusInternalServerError
	switch t {
	case ErrorTypeNotFound:
		code = http.StatusNotFound
	case ErrorTypeValidation:
		code = http.StatusBadRequest
	case ErrorTypeConflict:
		code = http.StatusConflict
	case ErrorTypeIntegrity:
		code = http.StatusUnprocessableEntity
	case ErrorTypeRange:
		code = http.StatusRequestedRangeNotSatisfiable
	case ErrorTypeTransport:
		code = http.StatusBadGateway
	}
	return newError(t, code, message, cause)
}

// TypeOf returns the category of err, or ErrorTypeInternal when err does not
// carry one.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether err, or anything it wraps, is an *Error of type t.
func IsType(err error, t ErrorType) bool {
	if err == nil {
		return false
	}
	var e *Error
	for stderrors.As(err, &e) {
		if e.Type == t {
			return true
		}
		if e.Err == nil {
			return false
		}
		err = e.Err
	}
	return false
}

// StatusCode returns the HTTP status to report for err.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}

// As is errors.As from the standard library, re-exported so callers can
// import this package alone.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
