// Package apperr defines the error taxonomy surfaced by the table-session
// API. Services map these onto HTTP status codes; the REST client decodes
// them back so callers can branch on the code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error category on the wire
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimit    Code = "RATE_LIMITED"
	CodeServer       Code = "SERVER_ERROR"
)

// Error is an API error with a wire code and a human-readable message
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(CodeUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(CodeForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

func RateLimited(format string, args ...any) *Error {
	return New(CodeRateLimit, format, args...)
}

func Server(format string, args ...any) *Error {
	return New(CodeServer, format, args...)
}

// HTTPStatus maps an error to the status code the API responds with.
// Unrecognized errors are treated as internal.
func HTTPStatus(err error) int {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// AsError unwraps err to an *Error, or nil if it is not one
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// CodeOf returns the wire code for an error, defaulting to SERVER_ERROR
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeServer
}

// IsRetryable reports whether the caller may retry with backoff. Only
// actual SERVER_ERROR taxonomy errors qualify; errors outside the
// taxonomy (decode failures, programming errors) will not get better on
// a retry.
func IsRetryable(err error) bool {
	apiErr := AsError(err)
	return apiErr != nil && apiErr.Code == CodeServer
}
