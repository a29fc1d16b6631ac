// Package velerr classifies the failure kinds the streaming pipeline
// can raise so callers can branch on policy (retry, blacklist, drop,
// propagate) instead of on error strings.
package velerr

import (
	"errors"
	"strings"
)

// Sentinel kinds, matching the Kind column of the error handling table.
var (
	ErrTransientCapture   = errors.New("transient capture failure")
	ErrFatalCaptureDriver = errors.New("fatal capture driver failure")
	ErrEncodeError        = errors.New("tile encode rejected")
	ErrViewerSend         = errors.New("viewer send failed")
	ErrViewerProtocol     = errors.New("malformed viewer message")
	ErrHandshakeTimeout   = errors.New("initial keyframe handshake timed out")
	ErrRegistryPoison     = errors.New("engine construction failed after forced-portable retry")
	ErrBindFailure        = errors.New("no candidate port available")
)

// transientSubstrings are the OS-level strings core/capture.py matches
// against to decide a capture failure is transient rather than fatal.
var transientSubstrings = []string{
	"access denied",
	"access is denied",
	"0x80070005",
	"the parameter is incorrect",
}

// ClassifyCaptureError maps a raw capture-backend error to either
// ErrTransientCapture or ErrFatalCaptureDriver by matching the known
// OS error strings. Anything unrecognized is treated as fatal, since a
// silent unknown failure must not be retried forever.
func ClassifyCaptureError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return wrap(ErrTransientCapture, err)
		}
	}
	return wrap(ErrFatalCaptureDriver, err)
}

func wrap(kind, cause error) error {
	return &kindError{kind: kind, cause: cause}
}

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

// Is supports errors.Is(err, velerr.ErrTransientCapture) etc. via the
// standard multi-error Unwrap above; no custom Is needed.
