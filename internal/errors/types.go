// Package errors defines the structured error taxonomy used across the
// extensibility loader, the template engine and the search data sources.
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
	// ErrorTypeLoad covers module fetch failures and ambiguous entry points.
	ErrorTypeLoad ErrorType = "load"
	// ErrorTypeExtension covers failures while enumerating or instantiating
	// extensions of a loaded library.
	ErrorTypeExtension ErrorType = "extension"
	// ErrorTypeTemplate covers template compile and runtime failures.
	ErrorTypeTemplate ErrorType = "template"
	// ErrorTypeValidation covers invalid template files and configuration.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotImplemented marks operations a data source does not support.
	ErrorTypeNotImplemented ErrorType = "not_implemented"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeInternal       ErrorType = "internal"
)

// Error is a structured error type with context.
type Error struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same type and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component

	return e
}

// NewLoadError creates a library load error.
func NewLoadError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeLoad,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewExtensionError creates an extension enumeration or instantiation error.
func NewExtensionError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeExtension,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTemplateError creates a template compile or runtime error.
func NewTemplateError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeTemplate,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *Error {
	return &Error{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return &Error{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrNotImplemented is returned by data sources for operations they do not
// support. Match it with errors.Is.
var ErrNotImplemented = &Error{
	Type:    ErrorTypeNotImplemented,
	Code:    ErrCodeNotImplemented,
	Message: "method not implemented",
}

// NotImplemented returns an ErrNotImplemented variant naming the operation.
func NotImplemented(operation string) *Error {
	return &Error{
		Type:    ErrorTypeNotImplemented,
		Code:    ErrCodeNotImplemented,
		Message: "method not implemented",
		Context: map[string]interface{}{"operation": operation},
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}

	return false
}

// IsType reports whether err is a structured error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}

	return false
}

// Marker renders err as the inline marker substituted for a field value
// whose expression failed to evaluate.
func Marker(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var e *Error
	if errors.As(err, &e) && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return "###Error: " + msg + "###"
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err at a severity chosen by its type. Load, extension and
// template failures are isolated per unit and only warrant a warning.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var e *Error
	if !errors.As(err, &e) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch e.Type {
	case ErrorTypeLoad, ErrorTypeExtension:
		h.logger.Warn(ctx, e, "Extensibility error occurred",
			"type", e.Type,
			"code", e.Code,
			"component", e.Component)
	case ErrorTypeTemplate, ErrorTypeValidation:
		h.logger.Warn(ctx, e, "Template error occurred",
			"type", e.Type,
			"code", e.Code,
			"component", e.Component)
	default:
		h.logger.Error(ctx, e, "Error occurred",
			"type", e.Type,
			"code", e.Code,
			"component", e.Component)
	}
}

// Common error codes.
const (
	ErrCodeModuleFetch        = "ERR_MODULE_FETCH"
	ErrCodeNoEntryPoint       = "ERR_NO_ENTRY_POINT"
	ErrCodeAmbiguousEntry     = "ERR_AMBIGUOUS_ENTRY_POINT"
	ErrCodeInstantiate        = "ERR_INSTANTIATE"
	ErrCodeExtensionList      = "ERR_EXTENSION_LIST"
	ErrCodeTemplateCompile    = "ERR_TEMPLATE_COMPILE"
	ErrCodeTemplateExec       = "ERR_TEMPLATE_EXEC"
	ErrCodeFieldEvaluation    = "ERR_FIELD_EVALUATION"
	ErrCodeInvalidTemplateExt = "ERR_INVALID_TEMPLATE_EXTENSION"
	ErrCodeTemplateNotFound   = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeNotImplemented     = "ERR_NOT_IMPLEMENTED"
	ErrCodeInternalError      = "ERR_INTERNAL"
)
