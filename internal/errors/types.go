// Package errors provides the structured error type shared by verdrift's
// build-time and runtime components.
//
// Build-time failures (missing version metadata, unreadable HTML) are fatal and
// surface to the CLI. Runtime failures inside the drift monitor are classified
// as recoverable and only ever logged.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// DriftError is a structured error type with context.
type DriftError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *DriftError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *DriftError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel-style comparisons work with
// errors.Is regardless of message or cause.
func (e *DriftError) Is(target error) bool {
	var t *DriftError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *DriftError) WithContext(key string, value interface{}) *DriftError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile attaches the file the error relates to.
func (e *DriftError) WithFile(path string) *DriftError {
	e.FilePath = path

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *DriftError {
	return &DriftError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewBuildError creates a build error. Build errors abort page generation.
func NewBuildError(code, message string, cause error) *DriftError {
	return &DriftError{
		Type:        ErrorTypeBuild,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *DriftError {
	return &DriftError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewNetworkError creates a network error. Network errors are transient.
func NewNetworkError(code, message string, cause error) *DriftError {
	return &DriftError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *DriftError {
	return &DriftError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *DriftError {
	return &DriftError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var de *DriftError
	if errors.As(err, &de) {
		return de.Recoverable
	}

	return false
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	var de *DriftError
	if errors.As(err, &de) {
		return de.Type == ErrorTypeBuild
	}

	return false
}

// IsNetworkError checks if an error came from the network layer.
func IsNetworkError(err error) bool {
	var de *DriftError
	if errors.As(err, &de) {
		return de.Type == ErrorTypeNetwork
	}

	return false
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler routes errors to the logger according to their type.
type ErrorHandler struct {
	logger Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err. Recoverable errors are logged as warnings, everything
// else as errors. Handle never panics and never returns the error.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var de *DriftError
	if !errors.As(err, &de) {
		h.logger.Error(ctx, err, "Unhandled error")
		return
	}

	fields := []interface{}{"type", de.Type, "code", de.Code}
	if de.FilePath != "" {
		fields = append(fields, "file", de.FilePath)
	}
	for k, v := range de.Context {
		fields = append(fields, k, v)
	}

	if de.Recoverable {
		h.logger.Warn(ctx, err, "Recoverable error", fields...)
		return
	}
	h.logger.Error(ctx, err, "Error occurred", fields...)
}

// Common error constructors.

// ErrVersionUnavailable reports that no usable version string could be found.
func ErrVersionUnavailable(source string, cause error) *DriftError {
	return NewBuildError("VERSION_UNAVAILABLE", "version metadata unavailable", cause).
		WithFile(source)
}

// ErrInvalidConfig reports an invalid configuration value.
func ErrInvalidConfig(field string, value interface{}, reason string) *DriftError {
	return NewConfigError("INVALID_CONFIG", fmt.Sprintf("%s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value)
}

// ErrFetchFailed reports a failed page fetch during a drift check.
func ErrFetchFailed(url string, cause error) *DriftError {
	return NewNetworkError("FETCH_FAILED", "failed to fetch "+url, cause).
		WithContext("url", url)
}
