package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes.
const (
	CodeTransport   = "TRANSPORT_ERROR"
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeStale       = "STALE_RESPONSE"
	CodeRateLimited = "RATE_LIMITED"
	CodeConflict    = "CONFLICT"
	CodeInternal    = "INTERNAL_ERROR"
)

// ErrStaleResponse signals that a response arrived after the context it was
// issued under was invalidated. It is never shown to a user.
var ErrStaleResponse = &AppError{Code: CodeStale, Message: "response belongs to an obsolete context", Status: 409}

// Standard domain error constructors.

func ErrTransport(msg string, cause error) *AppError {
	return &AppError{Code: CodeTransport, Message: msg, Status: 502, Cause: cause}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTransport reports whether err is a network/HTTP failure.
func IsTransport(err error) bool { return HasCode(err, CodeTransport) }

// IsValidation reports whether err is a malformed-input failure.
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }

// IsStale reports whether err is a discarded stale response.
func IsStale(err error) bool { return errors.Is(err, ErrStaleResponse) }
