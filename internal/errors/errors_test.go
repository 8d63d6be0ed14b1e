// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrorCodeValues verifies all error codes have non-empty, distinct values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation,
		ErrStorage, ErrMigration,
		ErrUnknownActionType, ErrInvalidPayload, ErrDrainInProgress,
		ErrRemoteTransient, ErrOffline,
		ErrConfigInvalid,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		assert.NotEmpty(t, string(code))
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

// TestAppError_Error verifies message formatting with and without a cause.
func TestAppError_Error(t *testing.T) {
	plain := New(ErrStorage, "store unavailable")
	assert.Equal(t, "[STORAGE_ERROR] store unavailable", plain.Error())

	wrapped := Wrap(ErrStorage, "insert action", errors.New("disk full"))
	assert.Equal(t, "[STORAGE_ERROR] insert action: disk full", wrapped.Error())
}

// TestAppError_Unwrap verifies the cause is reachable via errors.Is.
func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := Wrap(ErrStorage, "insert action", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, err.Unwrap())
	assert.Nil(t, New(ErrInvalid, "x").Unwrap())
}

// TestIs verifies code matching through wrapping layers.
func TestIs(t *testing.T) {
	inner := New(ErrRemoteTransient, "503")
	outer := Wrap(ErrStorage, "drain aborted", inner)
	fmtWrapped := fmt.Errorf("pass: %w", outer)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct", inner, ErrRemoteTransient, true},
		{"outer code", outer, ErrStorage, true},
		{"inner code through outer", outer, ErrRemoteTransient, true},
		{"through fmt wrap", fmtWrapped, ErrRemoteTransient, true},
		{"absent code", outer, ErrOffline, false},
		{"plain error", errors.New("x"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Is(tt.err, tt.code))
		})
	}
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Wrap(ErrUnknownActionType, "lookup", nil))
	require.Equal(t, ErrUnknownActionType, CodeOf(err))
	assert.Equal(t, ErrInternal, CodeOf(errors.New("plain")))
}

// TestIsRetryable verifies permanent codes are excluded from retry.
func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrRemoteTransient, "timeout")))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(New(ErrRemoteTransient, "404 not found")))
	assert.False(t, IsRetryable(New(ErrUnknownActionType, "x")))
	assert.False(t, IsRetryable(Wrap(ErrInvalidPayload, "decode", errors.New("eof"))))
	assert.False(t, IsRetryable(nil))

	assert.True(t, IsPermanent(fmt.Errorf("pass: %w", New(ErrUnknownActionType, "journal"))))
	assert.False(t, IsPermanent(New(ErrRemoteTransient, "422")))
	assert.False(t, IsPermanent(New(ErrStorage, "disk")))
}
