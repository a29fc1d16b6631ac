package velerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCaptureError_KnownTransientStrings(t *testing.T) {
	cases := []string{
		"Access Denied",
		"access is denied",
		"failed: 0x80070005",
		"The parameter is incorrect.",
	}
	for _, msg := range cases {
		err := ClassifyCaptureError(errors.New(msg))
		assert.Truef(t, errors.Is(err, ErrTransientCapture), "expected transient for %q", msg)
		assert.False(t, errors.Is(err, ErrFatalCaptureDriver))
	}
}

func TestClassifyCaptureError_UnknownIsFatal(t *testing.T) {
	err := ClassifyCaptureError(errors.New("device disconnected"))
	assert.True(t, errors.Is(err, ErrFatalCaptureDriver))
	assert.False(t, errors.Is(err, ErrTransientCapture))
}

func TestClassifyCaptureError_NilIsNil(t *testing.T) {
	assert.NoError(t, ClassifyCaptureError(nil))
}

func TestClassifyCaptureError_WrapsOriginalCause(t *testing.T) {
	cause := errors.New("access denied opening device")
	err := ClassifyCaptureError(cause)
	assert.ErrorIs(t, err, cause)
}
