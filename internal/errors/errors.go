// Package errors provides error codes shared by the queue, store, and API layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to API and CLI callers.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrStorage   ErrorCode = "STORAGE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Queue errors
	ErrUnknownActionType ErrorCode = "UNKNOWN_ACTION_TYPE"
	ErrInvalidPayload    ErrorCode = "INVALID_PAYLOAD"
	ErrDrainInProgress   ErrorCode = "DRAIN_IN_PROGRESS"

	// Remote errors
	ErrRemoteTransient ErrorCode = "REMOTE_TRANSIENT"
	ErrOffline         ErrorCode = "OFFLINE"

	// Configuration errors
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// AppError represents an application error with code and message.
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
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsPermanent reports whether a failed dispatch can never succeed: the action
// type is unknown or its payload is malformed. Remote failures never qualify.
func IsPermanent(err error) bool {
	return Is(err, ErrUnknownActionType) || Is(err, ErrInvalidPayload)
}

// IsRetryable reports whether a failed dispatch may succeed on a later attempt.
// Errors without a permanent code, including plain network errors, qualify.
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}
