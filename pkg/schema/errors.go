package schema

import (
	"fmt"
	"net/http"
)

// Error codes for structured error reporting.
const (
	ErrCodeSchemaDerivation = "SCHEMA_DERIVATION_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTimeout          = "TIMEOUT_ERROR"
	ErrCodeExecution        = "EXECUTION_ERROR"
)

// ActionError is the structured error type for all actuator operations.
type ActionError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Action  string         `json:"action,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ActionError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("[%s] action %s: %s", e.Code, e.Action, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ActionError.
func NewError(code, message string) *ActionError {
	return &ActionError{Code: code, Message: message}
}

// NewErrorf creates a new ActionError with a formatted message.
func NewErrorf(code, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAction attaches an action name to the error.
func (e *ActionError) WithAction(name string) *ActionError {
	e.Action = name
	return e
}

// WithCause attaches an underlying cause.
func (e *ActionError) WithCause(err error) *ActionError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ActionError) WithDetails(details map[string]any) *ActionError {
	e.Details = details
	return e
}

// Status maps the error code to the HTTP status a binding should answer with.
func (e *ActionError) Status() int {
	switch e.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the request as-is.
// The framework itself never retries.
func (e *ActionError) Retryable() bool {
	return e.Code == ErrCodeTimeout
}

// IsClientError reports whether the error was caused by the request rather
// than by the server or the action.
func (e *ActionError) IsClientError() bool {
	s := e.Status()
	return s >= 400 && s < 500
}
