package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/history"
	"github.com/cleanaz-dev/sp-academy/internal/observability"
	"github.com/cleanaz-dev/sp-academy/internal/pronunciation"
)

// Player caches and plays synthesized replies
type Player interface {
	Play(ctx context.Context, encoded, id string)
	Replay(ctx context.Context, id string) error
	SetMuted(muted bool)
	Clear()
}

// PronunciationAnalyzer scores a recording against its transcript
type PronunciationAnalyzer interface {
	Analyze(ctx context.Context, audio []byte, transcript, dialect string, session pronunciation.SessionContext) (*entities.PronunciationResult, error)
}

// Dependencies are the collaborators of an Orchestrator
type Dependencies struct {
	Capture     repositories.CaptureDevice
	Transcriber repositories.StreamingTranscriber
	Backend     repositories.PracticeBackend
	History     *history.Store
	Player      Player
	Analyzer    PronunciationAnalyzer
	Metrics     *observability.Metrics
}

// Orchestrator drives one learner through record, transcribe, reply and score turns
type Orchestrator struct {
	capture     repositories.CaptureDevice
	transcriber repositories.StreamingTranscriber
	backend     repositories.PracticeBackend
	history     *history.Store
	player      Player
	analyzer    PronunciationAnalyzer
	metrics     *observability.Metrics
	config      Config
	logger      *zap.Logger

	mu     sync.Mutex
	sc     SessionContext
	closed bool

	states chan State

	// base is cancelled on Close and bounds every turn's network calls
	base       context.Context
	cancelBase context.CancelFunc

	// work tracks turn processing, analysis and persistence goroutines
	work sync.WaitGroup
}

// New creates a new turn orchestrator
func New(deps Dependencies, config Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Capture == nil {
		return nil, errors.New("capture device is required")
	}
	if deps.Transcriber == nil {
		return nil, errors.New("transcriber is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("practice backend is required")
	}
	if deps.Player == nil {
		return nil, errors.New("player is required")
	}
	if deps.History == nil {
		deps.History = history.NewStore()
	}
	if deps.Analyzer == nil {
		deps.Analyzer = pronunciation.NewAnalyzer(deps.Backend, logger)
	}

	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		capture:     deps.Capture,
		transcriber: deps.Transcriber,
		backend:     deps.Backend,
		history:     deps.History,
		player:      deps.Player,
		analyzer:    deps.Analyzer,
		metrics:     deps.Metrics,
		config:      config.withDefaults(),
		logger:      logger,
		sc:          SessionContext{State: StateIdle},
		states:      make(chan State, 64),
		base:        base,
		cancelBase:  cancel,
	}, nil
}

// StartSession opens a practice session with the remote store and makes it current
func (o *Orchestrator) StartSession(ctx context.Context, session entities.ConversationSession) (*entities.ConversationSession, error) {
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	resp, err := o.backend.StartSession(ctx, domain.StartSessionRequest{
		SessionTemplateID: session.TemplateID,
		UserID:            session.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if resp.SessionRecordID == "" {
		return nil, errors.New("failed to start session: empty session record id")
	}
	session.SessionID = resp.SessionRecordID

	o.mu.Lock()
	o.sc.Session = &session
	o.sc.LastErr = nil
	o.mu.Unlock()

	o.logger.Info("Practice session started",
		zap.String("sessionRecordID", session.SessionID),
		zap.String("templateID", session.TemplateID),
		zap.String("targetLanguage", session.TargetLanguage))

	out := session
	return &out, nil
}

// ClearSession ends the current session: capture stops, a turn in flight is
// abandoned, the remote record is deleted and local history and audio are
// dropped. A failed remote delete is logged; local state is cleared regardless.
func (o *Orchestrator) ClearSession(ctx context.Context) {
	o.Stop()

	o.mu.Lock()
	session := o.sc.Session
	o.sc.Session = nil
	o.sc.LastErr = nil
	o.abandonTurnLocked()
	o.mu.Unlock()

	if session.Started() {
		if err := o.backend.DeleteSession(ctx, session.SessionID); err != nil {
			o.logger.Warn("Failed to delete session record",
				zap.String("sessionRecordID", session.SessionID),
				zap.Error(err))
		}
	}

	o.history.Clear()
	o.player.Clear()
	o.logger.Info("Practice session cleared")
}

// Start begins a recording. It fails without a started session, while a
// previous turn is still in flight, or while already recording. Capture and
// transport failures move the orchestrator through Error back to Idle and are
// returned as *CaptureError or *TransportError.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if !o.sc.Session.Started() {
		o.mu.Unlock()
		return ErrNoActiveSession
	}
	if o.sc.TurnInFlight {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	if o.sc.capture != nil || !o.sc.State.canStart() {
		o.mu.Unlock()
		return ErrAlreadyRecording
	}
	if o.config.SecureContext != nil && !o.config.SecureContext() {
		err := newCaptureError(repositories.ErrInsecureContext)
		o.failLocked(err)
		o.mu.Unlock()
		o.metrics.ObserveCaptureError(string(err.Reason))
		return err
	}

	cs := newCaptureSession(o.base)
	session := *o.sc.Session
	o.sc.capture = cs
	o.sc.LastErr = nil
	o.sc.Interim = ""
	o.setStateLocked(StateRecording)
	o.mu.Unlock()

	// ctx bounds the setup only; the recording lives until Stop or its final transcript
	stop := context.AfterFunc(ctx, func() { cs.cancel() })
	defer stop()

	stream, err := o.capture.Open(cs.ctx, o.config.Constraints)
	if err != nil {
		if cs.isReleased() {
			return ErrCaptureCancelled
		}
		captureErr := newCaptureError(err)
		o.metrics.ObserveCaptureError(string(captureErr.Reason))
		o.abort(cs, captureErr)
		return captureErr
	}

	token, err := o.backend.TranscriptionToken(cs.ctx, session.TargetLanguage)
	if err != nil {
		stream.Stop()
		if cs.isReleased() {
			return ErrCaptureCancelled
		}
		transportErr := newTransportError("failed to obtain transcription token", err)
		o.abort(cs, transportErr)
		return transportErr
	}

	conn, err := o.transcriber.Open(cs.ctx, token, session.TargetLanguage)
	if err != nil {
		stream.Stop()
		if cs.isReleased() {
			return ErrCaptureCancelled
		}
		transportErr := newTransportError("failed to open transcription session", err)
		o.abort(cs, transportErr)
		return transportErr
	}

	if !cs.attach(stream, conn) {
		stream.Stop()
		conn.Finish()
		return ErrCaptureCancelled
	}

	o.logger.Info("Recording started",
		zap.String("sessionRecordID", session.SessionID),
		zap.String("mimeType", stream.MimeType()))

	go o.run(cs)
	return nil
}

// Stop ends any open recording, discards its audio and returns to Idle.
// Calling it repeatedly is harmless.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cs := o.sc.capture
	o.sc.capture = nil
	o.sc.Interim = ""
	o.setStateLocked(StateIdle)
	o.mu.Unlock()

	if cs != nil {
		o.releaseCapture(cs)
		o.logger.Info("Recording stopped")
	}
}

// Close tears the orchestrator down. Open captures are released, in-flight
// calls are cancelled and further Start calls fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.abandonTurnLocked()
	o.mu.Unlock()

	o.Stop()
	o.cancelBase()
}

// abandonTurnLocked cancels the turn in flight and frees the orchestrator for
// the next one. The abandoned turn no longer touches state, errors or audio.
func (o *Orchestrator) abandonTurnLocked() {
	if o.sc.turn == nil {
		return
	}
	o.sc.turn.cancel()
	o.logger.Info("Turn abandoned", zap.String("turnID", o.sc.turn.user.ID))
	o.sc.turn = nil
	o.sc.TurnInFlight = false
}

// ownsTurnLocked reports whether pt is still the current turn of the current
// session. Callers hold o.mu.
func (o *Orchestrator) ownsTurnLocked(pt *pendingTurn) bool {
	return o.sc.turn == pt && o.sc.Session != nil && o.sc.Session.SessionID == pt.session.SessionID
}

// inSessionLocked reports whether pt belongs to the current session. Callers hold o.mu.
func (o *Orchestrator) inSessionLocked(pt *pendingTurn) bool {
	return o.sc.Session != nil && o.sc.Session.SessionID == pt.session.SessionID && pt.ctx.Err() == nil
}

// Wait blocks until every turn and its background work has finished
func (o *Orchestrator) Wait() {
	o.work.Wait()
}

// SetMuted toggles autoplay of replies
func (o *Orchestrator) SetMuted(muted bool) {
	o.player.SetMuted(muted)
}

// Replay plays the cached reply audio of an assistant turn
func (o *Orchestrator) Replay(ctx context.Context, turnID string) error {
	return o.player.Replay(ctx, turnID)
}

// History returns the conversation as currently displayed
func (o *Orchestrator) History() []entities.Turn {
	return o.history.Snapshot()
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sc.State
}

// Err returns the last error surfaced to the learner, if any
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sc.LastErr
}

// Interim returns the latest non-final transcript of the open recording
func (o *Orchestrator) Interim() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sc.Interim
}

// Session returns a copy of the current session, or nil
func (o *Orchestrator) Session() *entities.ConversationSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sc.Session == nil {
		return nil
	}
	s := *o.sc.Session
	return &s
}

// StateChanges streams state transitions. Slow readers miss transitions.
func (o *Orchestrator) StateChanges() <-chan State {
	return o.states
}

// run is the event loop of one recording. It owns cs.raw.
func (o *Orchestrator) run(cs *captureSession) {
	keepAlive := time.NewTicker(o.config.KeepAliveInterval)
	defer keepAlive.Stop()

	events := cs.conn.Events()
	// nil until the transcription session reports Open
	var buffers <-chan []byte

	turnStarted := false
	defer func() {
		if !turnStarted {
			cs.raw.Reset()
		}
	}()

	for {
		select {
		case <-cs.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				ev = repositories.TranscriptionEvent{Type: repositories.TranscriptionEventClose}
			}
			switch ev.Type {
			case repositories.TranscriptionEventOpen:
				if buffers == nil && !cs.finishing {
					buffers = cs.stream.Buffers()
					o.logger.Debug("Transcription session ready")
				}

			case repositories.TranscriptionEventTranscript:
				if !ev.IsFinal {
					o.setInterim(cs, ev.Text)
					continue
				}
				text := strings.TrimSpace(ev.Text)
				if text == "" {
					continue
				}
				if o.beginTurn(cs, text) {
					turnStarted = true
				}
				return

			case repositories.TranscriptionEventError:
				err := newTransportError(ev.Message, nil)
				o.logger.Warn("Transcription error", zap.String("message", err.Message))
				o.fail(cs, err)
				return

			case repositories.TranscriptionEventClose:
				if cs.finishing {
					o.logger.Info("Transcription closed without speech")
					o.end(cs)
				} else {
					o.logger.Warn("Transcription closed while recording")
					o.fail(cs, newTransportError("transcription connection closed unexpectedly", nil))
				}
				return
			}

		case buf, ok := <-buffers:
			if !ok {
				// Device ran dry. Ask for a flush and wait for the final transcript.
				buffers = nil
				cs.finishing = true
				if err := cs.conn.Finish(); err != nil {
					o.logger.Warn("Failed to finish transcription stream", zap.Error(err))
				}
				continue
			}
			cs.raw.Write(buf)
			if err := cs.conn.Send(buf); err != nil {
				o.logger.Warn("Failed to send audio chunk", zap.Int("size", len(buf)), zap.Error(err))
			}

		case <-keepAlive.C:
			if err := cs.conn.KeepAlive(); err != nil {
				o.logger.Debug("Keep-alive failed", zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) setInterim(cs *captureSession, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sc.capture == cs {
		o.sc.Interim = text
	}
}

// releaseCapture stops the device and the transcription connection of cs
func (o *Orchestrator) releaseCapture(cs *captureSession) {
	streamErr, connErr := cs.release()
	if streamErr != nil {
		o.logger.Warn("Failed to stop capture stream", zap.Error(streamErr))
	}
	if connErr != nil {
		o.logger.Debug("Failed to finish transcription session", zap.Error(connErr))
	}
}

// fail releases cs and surfaces err if cs is still the current recording
func (o *Orchestrator) fail(cs *captureSession, err error) {
	o.releaseCapture(cs)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sc.capture != cs {
		return
	}
	o.sc.capture = nil
	o.sc.Interim = ""
	o.failLocked(err)
}

// end releases cs and returns to Idle without surfacing an error
func (o *Orchestrator) end(cs *captureSession) {
	o.releaseCapture(cs)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sc.capture != cs {
		return
	}
	o.sc.capture = nil
	o.sc.Interim = ""
	o.setStateLocked(StateIdle)
}

// abort is fail for a recording whose setup did not complete
func (o *Orchestrator) abort(cs *captureSession, err error) {
	o.fail(cs, err)
}

// failLocked passes through Error and lands in Idle with err surfaced
func (o *Orchestrator) failLocked(err error) {
	o.sc.LastErr = err
	o.setStateLocked(StateError)
	o.setStateLocked(StateIdle)
}

func (o *Orchestrator) setStateLocked(s State) {
	if o.sc.State == s {
		return
	}
	o.logger.Debug("State transition",
		zap.String("from", string(o.sc.State)),
		zap.String("to", string(s)))
	o.sc.State = s
	o.metrics.ObserveState(string(s))

	select {
	case o.states <- s:
	default:
	}
}
