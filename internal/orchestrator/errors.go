package orchestrator

import (
	"errors"
	"strings"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

var (
	// ErrNoActiveSession is returned by Start before a session has been started
	ErrNoActiveSession = errors.New("no active conversation session")
	// ErrTurnInFlight is returned by Start while a turn awaits its reply and score
	ErrTurnInFlight = errors.New("previous turn is still being processed")
	// ErrAlreadyRecording is returned by Start while a capture is open
	ErrAlreadyRecording = errors.New("already recording")
	// ErrClosed is returned once the orchestrator has been torn down
	ErrClosed = errors.New("orchestrator closed")
	// ErrCaptureCancelled is returned by Start when Stop wins the race against device open
	ErrCaptureCancelled = errors.New("recording cancelled")
	// ErrReplyFailed is the learner-facing failure of a turn
	ErrReplyFailed = errors.New("failed to process conversation")
)

// CaptureReason distinguishes capture failures
type CaptureReason string

const (
	CaptureReasonPermissionDenied  CaptureReason = "permission_denied"
	CaptureReasonDeviceNotFound    CaptureReason = "device_not_found"
	CaptureReasonInsecureContext   CaptureReason = "insecure_context"
	CaptureReasonUnsupportedFormat CaptureReason = "unsupported_format"
	CaptureReasonUnknown           CaptureReason = "unknown"
)

var captureMessages = map[CaptureReason]string{
	CaptureReasonPermissionDenied:  "Microphone access was denied. Allow microphone access and try again.",
	CaptureReasonDeviceNotFound:    "No microphone was found. Connect a microphone and try again.",
	CaptureReasonInsecureContext:   "Recording requires a secure (HTTPS) connection.",
	CaptureReasonUnsupportedFormat: "This device does not support a compatible recording format.",
	CaptureReasonUnknown:           "Could not start recording. Please try again.",
}

// CaptureError is a failure to open the microphone
type CaptureError struct {
	Reason CaptureReason
	Err    error
}

func (e *CaptureError) Error() string {
	return captureMessages[e.Reason]
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

func newCaptureError(err error) *CaptureError {
	reason := CaptureReasonUnknown
	switch {
	case errors.Is(err, repositories.ErrPermissionDenied):
		reason = CaptureReasonPermissionDenied
	case errors.Is(err, repositories.ErrDeviceNotFound):
		reason = CaptureReasonDeviceNotFound
	case errors.Is(err, repositories.ErrInsecureContext):
		reason = CaptureReasonInsecureContext
	case errors.Is(err, repositories.ErrUnsupportedFormat):
		reason = CaptureReasonUnsupportedFormat
	}
	return &CaptureError{Reason: reason, Err: err}
}

// genericTransportMessage labels transport errors that carry no message
const genericTransportMessage = "transcription service error"

// TransportError is a failure of the transcription connection
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return "transcription error: " + e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(message string, err error) *TransportError {
	message = strings.TrimSpace(message)
	if message == "" {
		message = genericTransportMessage
	}
	return &TransportError{Message: message, Err: err}
}

// ReplyError is surfaced when the reply call fails and the turn is rolled back
type ReplyError struct {
	Err error
}

func (e *ReplyError) Error() string {
	return ErrReplyFailed.Error()
}

func (e *ReplyError) Unwrap() []error {
	return []error{ErrReplyFailed, e.Err}
}
