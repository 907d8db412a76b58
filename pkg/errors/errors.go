package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an application error into one of the rejection
// categories the chat server reports to clients.
type Kind string

const (
	KindAuth            Kind = "auth_error"
	KindPermission      Kind = "permission_error"
	KindState           Kind = "state_error"
	KindValidation      Kind = "validation_error"
	KindRateLimit       Kind = "rate_limit_error"
	KindModerationBlock Kind = "moderation_block_error"
	KindPersistence     Kind = "persistence_error"
	KindInternal        Kind = "internal_error"
)

// AppError represents an application error with HTTP status code, kind and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Kind       Kind   `json:"kind"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`

	// RetryAfter is set for rate-limit rejections and tells the client
	// how long to wait before sending again.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Expiry is set for moderation rejections backed by a timed sanction.
	Expiry *time.Time `json:"expiry,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithExpiry attaches the expiry of the sanction that caused the rejection
func (e *AppError) WithExpiry(expiry time.Time) *AppError {
	e.Expiry = &expiry
	return e
}

// NewError creates a new application error
func NewError(statusCode int, kind Kind, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Kind:       kind,
		Code:       code,
		Message:    message,
	}
}

// NewAuthError creates an error for missing, invalid or expired tokens
func NewAuthError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, KindAuth, code, message)
}

// NewPermissionError creates an error for insufficient role
func NewPermissionError(code string, message string) *AppError {
	return NewError(http.StatusForbidden, KindPermission, code, message)
}

// NewStateError creates an error for an invalid state transition
func NewStateError(code string, message string) *AppError {
	return NewError(http.StatusConflict, KindState, code, message)
}

// NewValidationError creates an error for malformed payloads or markup
func NewValidationError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, KindValidation, code, message)
}

// NewRateLimitError creates a rate-limit rejection carrying a retry-after hint
func NewRateLimitError(code string, message string, retryAfter time.Duration) *AppError {
	err := NewError(http.StatusTooManyRequests, KindRateLimit, code, message)
	err.RetryAfter = retryAfter
	return err
}

// NewModerationBlockError creates a moderation rejection (profanity, spam,
// active mute/ban) that is returned to the sender only
func NewModerationBlockError(code string, message string) *AppError {
	return NewError(http.StatusForbidden, KindModerationBlock, code, message)
}

// NewPersistenceError creates an error for an unavailable durable store
func NewPersistenceError(code string, message string) *AppError {
	return NewError(http.StatusServiceUnavailable, KindPersistence, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, KindInternal, code, message)
}

// FromError converts an arbitrary error into an AppError, wrapping unknown
// errors as internal errors so handlers always have a status and code.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalServerError("INTERNAL_ERROR", err.Error())
}

// KindOf returns the kind of an error, or KindInternal for plain errors
func KindOf(err error) Kind {
	return FromError(err).Kind
}

// IsKind reports whether err is an AppError of the given kind
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// Is checks if the target error is of type AppError with the same code
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == target.Code
}
