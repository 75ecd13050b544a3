package repositories

import "context"

// TranscriptionEventType enumerates the events emitted by a transcription session
type TranscriptionEventType string

const (
	TranscriptionEventOpen       TranscriptionEventType = "open"
	TranscriptionEventTranscript TranscriptionEventType = "transcript"
	TranscriptionEventError      TranscriptionEventType = "error"
	TranscriptionEventClose      TranscriptionEventType = "close"
)

// TranscriptionEvent is a single event from a streaming transcription session
type TranscriptionEvent struct {
	Type    TranscriptionEventType
	IsFinal bool
	Text    string
	Message string
}

// StreamingTranscriber opens duplex connections to a remote speech-to-text service
type StreamingTranscriber interface {
	Open(ctx context.Context, token, languageHint string) (TranscriptionSession, error)
}

// TranscriptionSession is one open connection. Events is closed after the Close event.
type TranscriptionSession interface {
	Events() <-chan TranscriptionEvent
	Send(audioChunk []byte) error
	KeepAlive() error
	Finish() error
}

// SpeechToText abstracts server-side speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming initializes a streaming transcription session
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate     int    `json:"sample_rate"`
	Encoding       string `json:"encoding"`
	Language       string `json:"language"`
	InterimResults bool   `json:"interim_results"`
}

// RecognitionResult is an interim or final hypothesis
type RecognitionResult struct {
	Text    string
	IsFinal bool
}

type SpeechToTextStreaming interface {
	Stream(data []byte) error
	Results() <-chan RecognitionResult
	// Err returns the error that terminated Results, if any
	Err() error
	End() error
}
