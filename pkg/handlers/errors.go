package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType classifies failures so callers can decide whether to retry,
// surface, or swallow them.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeTransport  ErrorType = "transport_error"
	ErrorTypeCache      ErrorType = "cache_unavailable"
	ErrorTypeInternal   ErrorType = "internal_error"
	ErrorTypeFatal      ErrorType = "fatal"
)

// AppError is the typed error carried across module boundaries.
type AppError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Code    int            `json:"code"`
	Details map[string]any `json:"details,omitempty"`

	// RetryAfter is set on rate-limit errors when the upstream told us
	// how long to wait.
	RetryAfter time.Duration `json:"-"`

	cause error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// Retryable reports whether the failure class is worth retrying.
func (e *AppError) Retryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeTransport:
		return true
	}
	return false
}

func newError(t ErrorType, code int, msg string, cause error) *AppError {
	return &AppError{Type: t, Message: msg, Code: code, cause: cause}
}

func ValidationError(msg string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, msg, nil)
}

func NotFoundError(msg string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, msg, nil)
}

func TimeoutError(msg string, cause error) *AppError {
	return newError(ErrorTypeTimeout, http.StatusGatewayTimeout, msg, cause)
}

func RateLimitError(msg string, retryAfter time.Duration) *AppError {
	e := newError(ErrorTypeRateLimit, http.StatusTooManyRequests, msg, nil)
	e.RetryAfter = retryAfter
	return e
}

func TransportError(msg string, cause error) *AppError {
	return newError(ErrorTypeTransport, http.StatusBadGateway, msg, cause)
}

func CacheError(msg string) *AppError {
	return newError(ErrorTypeCache, http.StatusServiceUnavailable, msg, nil)
}

func InternalError(msg string, cause error) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, msg, cause)
}

// FatalError marks an invariant violation. Callers are expected to let the
// process die so the supervisor restarts it clean.
func FatalError(msg string, cause error) *AppError {
	return newError(ErrorTypeFatal, http.StatusInternalServerError, msg, cause)
}

// AsAppError extracts an *AppError from an error chain, wrapping unknown
// errors as internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError("unexpected error", err)
}
