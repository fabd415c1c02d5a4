// Package errors provides coded application errors for the fieldsync core.
package errors

import "fmt"

// ErrorCode identifies a class of failure so callers and display surfaces
// can react without parsing messages.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Local store errors
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// Identifier errors
	ErrIDConflict ErrorCode = "ID_CONFLICT"

	// Sync errors
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncOffline    ErrorCode = "SYNC_OFFLINE"
	ErrRemoteRejected ErrorCode = "REMOTE_REJECTED"
	ErrQueueFull      ErrorCode = "QUEUE_FULL"

	// Photo analysis errors
	ErrAnalysisFailed ErrorCode = "ANALYSIS_FAILED"
)

// AppError carries an error code alongside a message and optional cause.
type AppError struct {
	Code    ErrorCode
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

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error's code, or ErrInternal for uncoded errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
