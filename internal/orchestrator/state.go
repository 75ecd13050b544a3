package orchestrator

import (
	"bytes"
	"context"
	"sync"

	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// State is a turn orchestrator state
type State string

const (
	StateIdle                  State = "idle"
	StateRecording             State = "recording"
	StateTranscribing          State = "transcribing"
	StateAwaitingReplyAndScore State = "awaiting_reply_and_score"
	StateSettled               State = "settled"
	StateError                 State = "error"
)

// canStart reports whether a new recording may begin from s
func (s State) canStart() bool {
	return s == StateIdle || s == StateSettled
}

// SessionContext holds every mutable field of the orchestrator. It is only
// touched with Orchestrator.mu held.
type SessionContext struct {
	State        State
	Session      *entities.ConversationSession
	TurnInFlight bool
	Interim      string
	LastErr      error

	capture *captureSession
	// turn is the turn being processed, nil once it settled or was abandoned
	turn *pendingTurn
}

// captureSession owns the microphone stream and transcription connection of
// one recording. Neither may outlive the recording.
type captureSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stream   repositories.CaptureStream
	conn     repositories.TranscriptionSession
	released bool

	// raw is only touched by the recording's event loop
	raw bytes.Buffer
	// finishing is set once the device ran dry and the connection was asked to flush
	finishing bool
}

func newCaptureSession(parent context.Context) *captureSession {
	ctx, cancel := context.WithCancel(parent)
	return &captureSession{ctx: ctx, cancel: cancel}
}

// attach hands the opened stream and connection to the session. It reports
// false when the session was released in the meantime.
func (cs *captureSession) attach(stream repositories.CaptureStream, conn repositories.TranscriptionSession) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.released {
		return false
	}
	cs.stream = stream
	cs.conn = conn
	return true
}

// release stops the device tracks, ends the transcription connection and
// cancels the event loop. Safe to call more than once.
func (cs *captureSession) release() (streamErr, connErr error) {
	cs.mu.Lock()
	if cs.released {
		cs.mu.Unlock()
		return nil, nil
	}
	cs.released = true
	stream, conn := cs.stream, cs.conn
	cs.mu.Unlock()

	cs.cancel()
	if stream != nil {
		streamErr = stream.Stop()
	}
	if conn != nil {
		connErr = conn.Finish()
	}
	return streamErr, connErr
}

func (cs *captureSession) isReleased() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.released
}

// takeAudio returns the accumulated recording and clears the buffer
func (cs *captureSession) takeAudio() []byte {
	audio := make([]byte, cs.raw.Len())
	copy(audio, cs.raw.Bytes())
	cs.raw.Reset()
	return audio
}

// pendingTurn is a turn between its optimistic insert and its settlement.
// ctx bounds its reply, score and analysis calls.
type pendingTurn struct {
	ctx    context.Context
	cancel context.CancelFunc

	session    entities.ConversationSession
	user       entities.Turn
	assistant  entities.Turn
	prior      []entities.Turn
	transcript string
	audio      []byte
	analyzed   chan struct{}
}
