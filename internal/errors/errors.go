package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeRouting       ErrorType = "routing"
	ErrorTypeDetection     ErrorType = "detection"
	ErrorTypeGeneration    ErrorType = "generation"
	ErrorTypeRender        ErrorType = "render"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newError(t ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewConfigurationError reports an empty or invalid setup, e.g. no candidate labels
func NewConfigurationError(message string, cause error) *AppError {
	return newError(ErrorTypeConfiguration, http.StatusInternalServerError, message, cause)
}

// NewRoutingError reports an embedding failure while choosing a label
func NewRoutingError(message string, cause error) *AppError {
	return newError(ErrorTypeRouting, http.StatusBadGateway, message, cause)
}

// NewDetectionError reports a detector call failure
func NewDetectionError(message string, cause error) *AppError {
	return newError(ErrorTypeDetection, http.StatusBadGateway, message, cause)
}

// NewGenerationError reports a failed filter synthesis or explanation
func NewGenerationError(message string, cause error) *AppError {
	return newError(ErrorTypeGeneration, http.StatusUnprocessableEntity, message, cause)
}

// NewRenderError reports malformed coordinates or image encoding failures
func NewRenderError(message string, cause error) *AppError {
	return newError(ErrorTypeRender, http.StatusInternalServerError, message, cause)
}

// NewValidationError reports bad caller input
func NewValidationError(message string, cause error) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

// IsType checks if the error chain carries an AppError of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
