package repositories

import (
	"context"
	"errors"
)

// Capture failures. Each maps to a distinct learner-facing message.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceNotFound    = errors.New("no microphone found")
	ErrInsecureContext   = errors.New("audio capture requires a secure context")
	ErrUnsupportedFormat = errors.New("unsupported recording format")
)

// CaptureConstraints describes how the microphone should be opened
type CaptureConstraints struct {
	Channels         int
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
	// MimeTypes lists acceptable encodings in order of preference
	MimeTypes []string
}

// CaptureDevice opens the microphone
type CaptureDevice interface {
	Open(ctx context.Context, constraints CaptureConstraints) (CaptureStream, error)
}

// CaptureStream is an open microphone emitting audio buffers until stopped.
// Stop releases the hardware and must be safe to call more than once.
type CaptureStream interface {
	Buffers() <-chan []byte
	MimeType() string
	Stop() error
}

// Speaker plays one decoded audio payload to completion, releasing its
// resources when playback ends or fails.
type Speaker interface {
	Play(ctx context.Context, audio []byte) error
}

// MimeTypePCM16 is 16-bit little-endian mono PCM at 16 kHz
const MimeTypePCM16 = "audio/pcm;rate=16000"
