// Package errors provides structured error handling for mcscan operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Probe and scanning errors.
	CodeProbeUnexpected ErrorCode = "PROBE_UNEXPECTED"
	CodeProtocol        ErrorCode = "PROTOCOL"
	CodeScanFailed      ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid   ErrorCode = "TARGET_INVALID"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"
	CodeFlushFailed        ErrorCode = "FLUSH_FAILED"

	// Input errors.
	CodeFileNotFound  ErrorCode = "FILE_NOT_FOUND"
	CodeFileFormat    ErrorCode = "FILE_FORMAT"
	CodeMalformedSeed ErrorCode = "MALFORMED_SEED"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// InputError represents a problem with a seed or input file.
type InputError struct {
	Code    ErrorCode
	Message string
	Path    string
	Line    int
	Cause   error
}

// Error implements the error interface.
func (e *InputError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("[%s] %s (%s:%d)", e.Code, e.Message, e.Path, e.Line)
	case e.Path != "":
		return fmt.Sprintf("[%s] %s (file: %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error {
	return e.Cause
}

// NewInputError creates an input error for the given file.
func NewInputError(code ErrorCode, message, path string) *InputError {
	return &InputError{
		Code:    code,
		Message: message,
		Path:    path,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// New returns a plain error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from the first coded error in the chain.
// Joined errors are searched in order.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case nil:
		return CodeUnknown
	case *ScanError:
		return e.Code
	case *DatabaseError:
		return e.Code
	case *InputError:
		return e.Code
	case *ConfigError:
		return e.Code
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if code := GetCode(inner); code != CodeUnknown {
				return code
			}
		}
		return CodeUnknown
	default:
		return GetCode(errors.Unwrap(err))
	}
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeDatabaseTimeout, CodeDatabaseConnection, CodeConflict:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeProbeUnexpected, CodeConfiguration, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrUnexpectedProbe creates the fatal error raised when a probe fails in an
// unclassified way.
func ErrUnexpectedProbe(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeProbeUnexpected, "Unexpected probe failure", target, err)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrFlushFailed creates an error for a persistence cycle that could not be applied.
func ErrFlushFailed(err error) *DatabaseError {
	return WrapDatabaseError(CodeFlushFailed, "Failed to flush pending results", err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
