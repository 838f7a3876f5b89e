package providers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"not found", NewError(ErrNotFound, "describe", "b1", errors.New("404")), ErrNotFound},
		{"access denied", NewError(ErrAccessDenied, "list", "", errors.New("403")), ErrAccessDenied},
		{"throttled", NewError(ErrThrottled, "list", "", errors.New("429")), ErrThrottled},
		{"transient", NewError(ErrTransient, "list", "", errors.New("503")), ErrTransient},
		{"plain error defaults to permanent", errors.New("boom"), ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestClassSurvivesWrapping(t *testing.T) {
	inner := NewError(ErrThrottled, "s3:ListBuckets", "", errors.New("rate exceeded"))
	outer := fmt.Errorf("scanning: %w", inner)
	assert.Equal(t, ErrThrottled, ClassOf(outer))
	assert.True(t, IsRetryable(outer))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrThrottled, "op", "", errors.New("x"))))
	assert.True(t, IsRetryable(NewError(ErrTransient, "op", "", errors.New("x"))))
	assert.False(t, IsRetryable(NewError(ErrAccessDenied, "op", "", errors.New("x"))))
	assert.False(t, IsRetryable(NewError(ErrNotFound, "op", "", errors.New("x"))))
	assert.False(t, IsRetryable(NewError(ErrPermanent, "op", "", errors.New("x"))))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewError(ErrNotFound, "describe", "x", errors.New("gone"))))
	assert.False(t, IsNotFound(errors.New("gone")))
}

func TestErrorString(t *testing.T) {
	err := NewError(ErrAccessDenied, "iam:ListUsers", "", errors.New("denied"))
	assert.Contains(t, err.Error(), "accessDenied")
	assert.Contains(t, err.Error(), "iam:ListUsers")

	withResource := NewError(ErrNotFound, "describe", "bucket-1", errors.New("gone"))
	assert.Contains(t, withResource.Error(), "bucket-1")
}
