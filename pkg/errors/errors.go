// Package errors defines the error taxonomy shared by the shrinker packages.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the shrinker.
const (
	CodeUnknown               = "UNKNOWN_ERROR"
	CodeIncrementalImpossible = "INCREMENTAL_IMPOSSIBLE"
	CodeInconsistentGraph     = "INCONSISTENT_GRAPH"
	CodeParseError            = "PARSE_ERROR"
	CodeIOError               = "IO_ERROR"
	CodeStaleState            = "STALE_STATE"
	CodeInterrupted           = "INTERRUPTED"
	CodeConfigError           = "CONFIG_ERROR"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeStorageError          = "STORAGE_ERROR"
	CodeDatabaseError         = "DATABASE_ERROR"
)

// AppError represents a shrinker error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinel values, compared by code.
var (
	ErrIncrementalImpossible = New(CodeIncrementalImpossible, "incremental run impossible")
	ErrInconsistentGraph     = New(CodeInconsistentGraph, "inconsistent dependency graph")
	ErrParseError            = New(CodeParseError, "parse error")
	ErrIOError               = New(CodeIOError, "i/o error")
	ErrStaleState            = New(CodeStaleState, "stale persisted state")
	ErrInterrupted           = New(CodeInterrupted, "interrupted")
	ErrConfigError           = New(CodeConfigError, "configuration error")
	ErrInvalidInput          = New(CodeInvalidInput, "invalid input")
	ErrStorageError          = New(CodeStorageError, "storage error")
	ErrDatabaseError         = New(CodeDatabaseError, "database error")
)

// Todo reports a case the incremental updater does not handle yet. The caller
// is expected to fall back to a full run.
func Todo(message string) *AppError {
	return New(CodeIncrementalImpossible, "TODO: "+message)
}

// IsIncrementalImpossible checks if the error forces a full run.
func IsIncrementalImpossible(err error) bool {
	return errors.Is(err, ErrIncrementalImpossible)
}

// IsInconsistentGraph checks if the error is a graph consistency error.
func IsInconsistentGraph(err error) bool {
	return errors.Is(err, ErrInconsistentGraph)
}

// IsParseError checks if the error is a class-file parse error.
func IsParseError(err error) bool {
	return errors.Is(err, ErrParseError)
}

// IsStaleState checks if persisted state could not be used.
func IsStaleState(err error) bool {
	return errors.Is(err, ErrStaleState)
}

// IsInterrupted checks if the run was cancelled.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
