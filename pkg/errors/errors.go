package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of a versioning failure
type ErrorType string

const (
	// Fatal before any work is done
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"
	ErrorTypeValidation    ErrorType = "VALIDATION"

	// Raised while diffing or replaying a changeset
	ErrorTypeConflict       ErrorType = "CONFLICT"
	ErrorTypeReconstruction ErrorType = "RECONSTRUCTION"
	ErrorTypeFieldAccess    ErrorType = "FIELD_ACCESS"

	ErrorTypeInternal ErrorType = "INTERNAL"
)

// severity orders error types when several failures are folded into one.
var severity = map[ErrorType]int{
	ErrorTypeConfiguration:  6,
	ErrorTypeConflict:       5,
	ErrorTypeReconstruction: 4,
	ErrorTypeFieldAccess:    3,
	ErrorTypeValidation:     2,
	ErrorTypeInternal:       1,
}

// AppError represents a versioning error with a path into the record graph
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Path       string                 `json:"path,omitempty"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (at %q)", e.Message, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithPath records the path key the error belongs to
func (e *AppError) WithPath(path string) *AppError {
	e.Path = path
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Clone returns a shallow copy of e. Errors handed out more than once are
// cloned before the builders above touch them.
func (e *AppError) Clone() *AppError {
	c := *e
	return &c
}

// AtPath returns err located at path. An AppError without a path is copied
// with the path set; err itself is never modified.
func AtPath(err error, path string) error {
	appErr, ok := err.(*AppError)
	if !ok || appErr.Path != "" || path == "" {
		return err
	}
	return appErr.Clone().WithPath(path)
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

func newError(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// Constructor functions for the error taxonomy

// NewConfigurationError creates an error for an unusable record type,
// e.g. a collection element without a valid iterator id field.
func NewConfigurationError(message string) *AppError {
	return newError(ErrorTypeConfiguration, message)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, message)
}

// NewConflictError creates an error for a base object that no longer
// matches the recorded old value.
func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, message)
}

// NewReconstructionError creates an error for a serialized value that
// could not be turned back into a typed value.
func NewReconstructionError(message string, err error) *AppError {
	e := newError(ErrorTypeReconstruction, message)
	e.Cause = err
	return e
}

// NewFieldAccessError creates a field access error
func NewFieldAccessError(message string) *AppError {
	return newError(ErrorTypeFieldAccess, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, message)
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return IsType(err, ErrorTypeConfiguration)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsReconstruction checks if an error is a reconstruction error
func IsReconstruction(err error) bool {
	return IsType(err, ErrorTypeReconstruction)
}

// IsFieldAccess checks if an error is a field access error
func IsFieldAccess(err error) bool {
	return IsType(err, ErrorTypeFieldAccess)
}

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool {
	return IsType(err, ErrorTypeInternal)
}

// TypeOf returns the error type of err, INTERNAL for foreign errors
func TypeOf(err error) ErrorType {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		wrapped := appErr.Clone()
		wrapped.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return wrapped
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
