package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeProvider      ErrorType = "provider_unavailable"
	ErrorTypeExhausted     ErrorType = "all_providers_exhausted"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
	ErrorTypeTimeout       ErrorType = "timeout"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, "CONFLICT", message)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", message)
}

func NewConfigurationError(message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, "CONFIGURATION_ERROR", message)
}

func NewProviderError(provider, message string) *AppError {
	return NewAppError(ErrorTypeProvider, "PROVIDER_UNAVAILABLE", message).
		WithDetail("provider", provider)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

// NewExhaustedError reports that every provider in a failover chain failed.
// The last error is kept as the cause so callers can still inspect it.
func NewExhaustedError(endpoint string, tried []string, lastErr error) *AppError {
	e := NewAppError(ErrorTypeExhausted, "ALL_PROVIDERS_EXHAUSTED",
		fmt.Sprintf("all providers failed for endpoint %s: tried [%s]", endpoint, strings.Join(tried, ", "))).
		WithDetail("endpoint", endpoint).
		WithDetail("providers_tried", strings.Join(tried, ","))
	if lastErr != nil {
		e = e.WithCause(lastErr)
	}
	return e
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetType returns the error type, or ErrorTypeInternal for unknown errors
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// Classification is the retryable-or-fatal decision made once at the boundary.
type Classification int

const (
	// Fatal means the error must not be retried.
	Fatal Classification = iota
	// Retryable means another attempt may succeed.
	Retryable
)

func (c Classification) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Classify makes the single retryable-or-fatal decision for an error.
// Matchers are case-insensitive substrings checked against the error's
// message and, for AppErrors, the type and code. Admission, validation
// and configuration errors are always fatal regardless of matchers.
// With no matchers configured, timeouts and external failures are
// treated as retryable.
func Classify(err error, matchers []string) Classification {
	if err == nil {
		return Fatal
	}

	switch GetType(err) {
	case ErrorTypeRateLimit, ErrorTypeValidation, ErrorTypeConfiguration, ErrorTypeNotFound, ErrorTypeConflict:
		return Fatal
	}

	if len(matchers) == 0 {
		switch GetType(err) {
		case ErrorTypeTimeout, ErrorTypeExternal, ErrorTypeProvider:
			return Retryable
		}
		return Fatal
	}

	haystack := strings.ToLower(err.Error())
	var appErr *AppError
	if errors.As(err, &appErr) {
		haystack += " " + strings.ToLower(string(appErr.Type)) + " " + strings.ToLower(appErr.Code)
	}

	for _, m := range matchers {
		if m == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(m)) {
			return Retryable
		}
	}
	return Fatal
}
