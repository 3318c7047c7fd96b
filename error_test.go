package odb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := NewError(DuplicateKey, fmt.Errorf("key 5 already exists"), 5)
	wrapped := fmt.Errorf("insert failed, details: %w", err)

	assert.ErrorIs(t, wrapped, ErrDuplicateKey)
	assert.NotErrorIs(t, wrapped, ErrNotFound)

	var oe *Error
	assert.True(t, errors.As(wrapped, &oe))
	assert.Equal(t, DuplicateKey, oe.Code)
	assert.Equal(t, 5, oe.UserData)
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := NewError(StorageFailure, cause, nil)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "StorageFailure")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestErrorCode_String(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want string
	}{
		{Unknown, "Unknown"},
		{ClosedState, "ClosedState"},
		{KeyOutOfRange, "KeyOutOfRange"},
		{InvalidCursor, "InvalidCursor"},
		{ErrorCode(99), "ErrorCode(99)"},
	}
	for _, tt := range cases {
		assert.Equal(t, tt.want, tt.code.String())
	}
}

func TestError_MessageWithoutCause(t *testing.T) {
	assert.Equal(t, "error code: NotFound", (&Error{Code: NotFound}).Error())
	assert.Equal(t, "error code: NotFound, user data: 7", NewError(NotFound, nil, 7).Error())
}
