package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cleanaz-dev/sp-academy/adapters/backend"
	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/history"
	"github.com/cleanaz-dev/sp-academy/internal/playback"
)

type harness struct {
	o       *Orchestrator
	device  *fakeDevice
	stt     *fakeTranscriber
	backend *backend.MockBackend
	player  *fakePlayer
	history *history.Store
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		device:  &fakeDevice{},
		stt:     &fakeTranscriber{},
		backend: backend.NewMockBackend(logger),
		player:  newFakePlayer(),
		history: history.NewStore(),
	}
	h.backend.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
		return domain.ReplyResponse{
			TargetLanguageText: "Bonjour ! Comment ça va ?",
			NativeLanguageText: "Hello! How are you?",
			MessageTranslation: "Hello",
			Audio:              base64.StdEncoding.EncodeToString([]byte("RIFF-audio")),
		}, nil
	}

	o, err := New(Dependencies{
		Capture:     h.device,
		Transcriber: h.stt,
		Backend:     h.backend,
		History:     h.history,
		Player:      h.player,
	}, config, logger)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	t.Cleanup(func() {
		o.Close()
		o.Wait()
	})
	h.o = o
	return h
}

func (h *harness) startSession(t *testing.T) {
	t.Helper()
	_, err := h.o.StartSession(context.Background(), entities.ConversationSession{
		TemplateID:     "tpl-cafe",
		UserID:         "user-1",
		Title:          "At the café",
		TargetLanguage: "fr-FR",
		NativeLanguage: "en-US",
		Dialect:        "fr-FR",
	})
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
}

// record starts a recording, feeds one audio buffer and delivers text as the final transcript
func (h *harness) record(t *testing.T, text string) *fakeConn {
	t.Helper()
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}
	conn := h.stt.last()
	stream := h.device.last()
	conn.open()
	stream.buffers <- []byte{1, 2, 3, 4}
	waitFor(t, "audio forwarded", func() bool { return conn.sentCount() > 0 })
	conn.transcript(text, true)
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func waitForState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return o.State() == want })
}

func TestHappyPathTurn(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if h.o.State() != StateIdle {
		t.Fatalf("Expected idle state, got %s", h.o.State())
	}

	conn := h.record(t, "Bonjour")
	waitForState(t, h.o, StateSettled)
	h.o.Wait()

	turns := h.o.History()
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}

	user, assistant := turns[0], turns[1]
	if user.Role != entities.TurnRoleUser || user.Content != "Bonjour" {
		t.Errorf("Unexpected user turn: %+v", user)
	}
	if user.Translation != "Hello" {
		t.Errorf("Expected user translation Hello, got %q", user.Translation)
	}
	if user.Label != entities.LabelGood {
		t.Errorf("Expected label Good, got %s", user.Label)
	}
	if user.IsPending {
		t.Error("User turn should be settled")
	}
	if assistant.Content != "Bonjour ! Comment ça va ?" || assistant.Translation != "Hello! How are you?" {
		t.Errorf("Unexpected assistant turn: %+v", assistant)
	}
	if assistant.IsPending {
		t.Error("Assistant turn should not be pending")
	}

	if !conn.finished() {
		t.Error("Transcription session should be finished after the final transcript")
	}
	if !h.device.last().stopped() {
		t.Error("Capture stream should be stopped after the final transcript")
	}
	if h.player.playedCount() != 1 {
		t.Errorf("Expected reply audio handed to player, got %d", h.player.playedCount())
	}
	if h.o.Err() != nil {
		t.Errorf("Expected no error, got %v", h.o.Err())
	}
}

func TestTurnPersistsAfterSettling(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	h.record(t, "Bonjour")
	waitForState(t, h.o, StateSettled)
	h.o.Wait()

	updates := h.backend.Updates()
	if len(updates) != 1 {
		t.Fatalf("Expected 1 update-session call, got %d", len(updates))
	}
	if len(updates[0].Messages) != 2 {
		t.Errorf("Expected 2 persisted messages, got %d", len(updates[0].Messages))
	}
	if updates[0].PronunciationScore == nil || *updates[0].PronunciationScore != 81 {
		t.Errorf("Expected pronunciation score 81, got %v", updates[0].PronunciationScore)
	}

	user := h.o.History()[0]
	if user.Pronunciation == nil {
		t.Error("Expected pronunciation result merged into the user turn")
	}
}

func TestPersistFailureKeepsHistory(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.UpdateSessionFunc = func(ctx context.Context, id string, req domain.UpdateSessionRequest) (domain.UpdateSessionResponse, error) {
		return domain.UpdateSessionResponse{}, errors.New("store unavailable")
	}
	h.startSession(t)

	h.record(t, "Bonjour")
	waitForState(t, h.o, StateSettled)
	h.o.Wait()

	if len(h.o.History()) != 2 {
		t.Errorf("Persistence failure must not roll back, got %d turns", len(h.o.History()))
	}
	if h.o.Err() != nil {
		t.Errorf("Persistence failure must not be surfaced, got %v", h.o.Err())
	}
}

func TestReplyFailureRollsBack(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
		return domain.ReplyResponse{}, errors.New("HTTP 500")
	}
	h.startSession(t)

	existing := entities.NewUserTurn("Salut")
	existing.IsPending = false
	h.history.Append(existing)

	h.record(t, "Bonjour")
	waitFor(t, "reply error", func() bool { return h.o.Err() != nil })
	waitForState(t, h.o, StateIdle)
	h.o.Wait()

	turns := h.o.History()
	if len(turns) != 1 || turns[0].ID != existing.ID {
		t.Fatalf("Expected history restored to its prior content, got %+v", turns)
	}
	if !errors.Is(h.o.Err(), ErrReplyFailed) {
		t.Errorf("Expected ErrReplyFailed, got %v", h.o.Err())
	}
	if h.o.Err().Error() != "failed to process conversation" {
		t.Errorf("Unexpected learner message %q", h.o.Err().Error())
	}
	if n := len(h.backend.Updates()); n != 0 {
		t.Errorf("Expected no persistence after a failed reply, got %d", n)
	}
}

func TestReplyTimeoutRollsBack(t *testing.T) {
	h := newHarness(t, Config{ReplyTimeout: 20 * time.Millisecond})
	h.backend.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
		<-ctx.Done()
		return domain.ReplyResponse{}, ctx.Err()
	}
	h.startSession(t)

	h.record(t, "Bonjour")
	waitFor(t, "reply timeout", func() bool { return h.o.Err() != nil })
	h.o.Wait()

	if len(h.o.History()) != 0 {
		t.Errorf("Expected rollback after timeout, got %d turns", len(h.o.History()))
	}
	if !errors.Is(h.o.Err(), context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded cause, got %v", h.o.Err())
	}
}

func TestScoreFailureDefaultsLabel(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.ScoreFunc = func(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error) {
		return domain.ScoreResponse{}, errors.New("scoring unavailable")
	}
	h.startSession(t)

	h.record(t, "Bonjour")
	waitForState(t, h.o, StateSettled)
	h.o.Wait()

	turns := h.o.History()
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].Label != entities.LabelOK {
		t.Errorf("Expected label OK after score failure, got %s", turns[0].Label)
	}
	if turns[0].Translation != "Hello" {
		t.Errorf("Expected reply translation preserved, got %q", turns[0].Translation)
	}
	if h.o.Err() != nil {
		t.Errorf("Score failure must not be surfaced, got %v", h.o.Err())
	}
}

func TestScoreWithoutLabelDefaults(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.ScoreFunc = func(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error) {
		return domain.ScoreResponse{ImprovedResponse: "Bonjour !"}, nil
	}
	h.startSession(t)

	h.record(t, "Bonjour")
	waitForState(t, h.o, StateSettled)
	h.o.Wait()

	user := h.o.History()[0]
	if user.Label != entities.LabelOK {
		t.Errorf("Expected label OK, got %s", user.Label)
	}
	if user.ImprovedResponse != "Bonjour !" {
		t.Errorf("Expected improved response, got %q", user.ImprovedResponse)
	}
}

func TestReplyAndScoreRunConcurrently(t *testing.T) {
	h := newHarness(t, Config{})
	release := make(chan struct{})
	var inFlight, peak int32
	track := func() {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
	}
	reply := h.backend.ReplyFunc
	h.backend.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
		track()
		return reply(ctx, req)
	}
	h.backend.ScoreFunc = func(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error) {
		track()
		return domain.ScoreResponse{Label: "Great"}, nil
	}
	h.startSession(t)

	h.record(t, "Bonjour")
	waitFor(t, "both calls in flight", func() bool { return atomic.LoadInt32(&peak) == 2 })

	// Optimistic insert happens before either call returns
	turns := h.o.History()
	if len(turns) != 2 || !turns[1].IsPending {
		t.Errorf("Expected user turn and pending placeholder while awaiting, got %+v", turns)
	}
	if h.o.State() != StateAwaitingReplyAndScore {
		t.Errorf("Expected awaiting state, got %s", h.o.State())
	}

	close(release)
	waitForState(t, h.o, StateSettled)
}

func TestStartRejectedWhileTurnInFlight(t *testing.T) {
	h := newHarness(t, Config{})
	release := make(chan struct{})
	reply := h.backend.ReplyFunc
	h.backend.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
		<-release
		return reply(ctx, req)
	}
	h.startSession(t)

	h.record(t, "Bonjour")
	waitForState(t, h.o, StateAwaitingReplyAndScore)

	if err := h.o.Start(context.Background()); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("Expected ErrTurnInFlight, got %v", err)
	}
	if h.device.opened() != 1 {
		t.Errorf("Expected no new capture while a turn is in flight, got %d opens", h.device.opened())
	}

	close(release)
	waitForState(t, h.o, StateSettled)

	if err := h.o.Start(context.Background()); err != nil {
		t.Errorf("Expected start to succeed after settling, got %v", err)
	}
}

func TestStartRejectedWhileRecording(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if err := h.o.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}
}

func TestStartWithoutSession(t *testing.T) {
	h := newHarness(t, Config{})

	if err := h.o.Start(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Expected ErrNoActiveSession, got %v", err)
	}
	if h.device.opened() != 0 {
		t.Error("Device must not be opened without a session")
	}
}

func TestOnlyFirstFinalTranscriptStartsATurn(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	conn := h.record(t, "Bonjour")
	conn.transcript("Bonjour encore", true)

	waitForState(t, h.o, StateSettled)
	h.o.Wait()

	if calls := h.backend.Calls("reply"); calls != 1 {
		t.Errorf("Expected exactly 1 reply call, got %d", calls)
	}
	if len(h.o.History()) != 2 {
		t.Errorf("Expected exactly one user turn, got %d turns", len(h.o.History()))
	}
}

func TestInterimTranscriptsDoNotStartTurns(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	conn := h.stt.last()
	conn.open()
	conn.transcript("Bon", false)
	waitFor(t, "interim text", func() bool { return h.o.Interim() == "Bon" })

	conn.transcript("   ", true)
	time.Sleep(20 * time.Millisecond)

	if h.backend.Calls("reply") != 0 {
		t.Error("Interim or blank transcripts must not start a turn")
	}
	if h.o.State() != StateRecording {
		t.Errorf("Expected still recording, got %s", h.o.State())
	}
}

func TestAudioHeldUntilTranscriptionOpen(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	conn := h.stt.last()
	h.device.last().buffers <- []byte{9, 9}

	time.Sleep(20 * time.Millisecond)
	if conn.sentCount() != 0 {
		t.Fatal("Audio must not be sent before the session is open")
	}

	conn.open()
	waitFor(t, "audio after open", func() bool { return conn.sentCount() == 1 })
}

func TestKeepAliveWhileRecording(t *testing.T) {
	h := newHarness(t, Config{KeepAliveInterval: 10 * time.Millisecond})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	conn := h.stt.last()
	conn.open()
	waitFor(t, "keep-alives", func() bool { return conn.keepAliveCount() >= 2 })

	h.o.Stop()
	time.Sleep(20 * time.Millisecond)
	after := conn.keepAliveCount()
	time.Sleep(40 * time.Millisecond)
	if conn.keepAliveCount() != after {
		t.Error("Keep-alive must stop with the recording")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	h.o.Stop()
	if h.o.State() != StateIdle {
		t.Errorf("Expected idle, got %s", h.o.State())
	}

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	stream := h.device.last()
	conn := h.stt.last()

	h.o.Stop()
	h.o.Stop()

	if h.o.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %s", h.o.State())
	}
	if !stream.stopped() {
		t.Error("Capture stream should be stopped")
	}
	if !conn.finished() {
		t.Error("Transcription session should be finished")
	}

	// A late transcript from the abandoned connection is ignored
	conn.transcript("Bonjour", true)
	time.Sleep(20 * time.Millisecond)
	if h.backend.Calls("reply") != 0 {
		t.Error("Transcript after stop must not start a turn")
	}
}

func TestCaptureErrorsAreDistinct(t *testing.T) {
	tests := []struct {
		err    error
		reason CaptureReason
	}{
		{repositories.ErrPermissionDenied, CaptureReasonPermissionDenied},
		{repositories.ErrDeviceNotFound, CaptureReasonDeviceNotFound},
		{repositories.ErrUnsupportedFormat, CaptureReasonUnsupportedFormat},
		{errors.New("driver exploded"), CaptureReasonUnknown},
	}

	seen := make(map[string]bool)
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			h := newHarness(t, Config{})
			h.device.openErr = fmt.Errorf("open: %w", tt.err)
			h.startSession(t)

			err := h.o.Start(context.Background())
			var captureErr *CaptureError
			if !errors.As(err, &captureErr) {
				t.Fatalf("Expected CaptureError, got %v", err)
			}
			if captureErr.Reason != tt.reason {
				t.Errorf("Expected reason %s, got %s", tt.reason, captureErr.Reason)
			}
			if h.o.State() != StateIdle {
				t.Errorf("Expected idle after capture error, got %s", h.o.State())
			}
			if !errors.Is(h.o.Err(), tt.err) {
				t.Errorf("Expected surfaced error to wrap %v, got %v", tt.err, h.o.Err())
			}
			if seen[captureErr.Error()] {
				t.Errorf("Capture message %q is not distinct", captureErr.Error())
			}
			seen[captureErr.Error()] = true
		})
	}
}

func TestInsecureContextRejected(t *testing.T) {
	h := newHarness(t, Config{SecureContext: func() bool { return false }})
	h.startSession(t)

	err := h.o.Start(context.Background())
	var captureErr *CaptureError
	if !errors.As(err, &captureErr) || captureErr.Reason != CaptureReasonInsecureContext {
		t.Fatalf("Expected insecure context error, got %v", err)
	}
	if h.device.opened() != 0 {
		t.Error("Device must not be opened in an insecure context")
	}
	if h.o.State() != StateIdle {
		t.Errorf("Expected idle, got %s", h.o.State())
	}
}

func TestInsecureContextDoesNotInterruptRecording(t *testing.T) {
	var secure atomic.Bool
	secure.Store(true)
	h := newHarness(t, Config{SecureContext: secure.Load})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	secure.Store(false)

	if err := h.o.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}
	if h.o.State() != StateRecording {
		t.Errorf("Expected recording state to be kept, got %s", h.o.State())
	}
	if err := h.o.Err(); err != nil {
		t.Errorf("Expected no error on the open recording, got %v", err)
	}
}

func TestTransportErrorStopsCapture(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	conn := h.stt.last()
	conn.open()
	conn.events <- repositories.TranscriptionEvent{Type: repositories.TranscriptionEventError}

	waitFor(t, "transport error", func() bool { return h.o.Err() != nil })

	var transportErr *TransportError
	if !errors.As(h.o.Err(), &transportErr) {
		t.Fatalf("Expected TransportError, got %v", h.o.Err())
	}
	if transportErr.Message != "transcription service error" {
		t.Errorf("Expected generic label, got %q", transportErr.Message)
	}
	if !h.device.last().stopped() {
		t.Error("Capture must stop on transport error")
	}
	if h.o.State() != StateIdle {
		t.Errorf("Expected idle, got %s", h.o.State())
	}
}

func TestTokenFailureReleasesDevice(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.TranscriptionTokenFunc = func(ctx context.Context, lang string) (string, error) {
		return "", errors.New("token service down")
	}
	h.startSession(t)

	err := h.o.Start(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if !h.device.last().stopped() {
		t.Error("Device must be released when the token cannot be fetched")
	}
}

func TestUnexpectedCloseDiscardsRecording(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	conn := h.stt.last()
	conn.open()
	h.device.last().buffers <- []byte{1, 2}
	waitFor(t, "audio forwarded", func() bool { return conn.sentCount() == 1 })

	close(conn.events)
	waitForState(t, h.o, StateIdle)

	if !h.device.last().stopped() {
		t.Error("Capture must stop when the connection closes")
	}
	if h.backend.Calls("analyze-speech") != 0 {
		t.Error("Discarded audio must not be analyzed")
	}
}

func TestDeviceEndFlushesTranscription(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	conn := h.stt.last()
	stream := h.device.last()
	conn.open()
	stream.buffers <- []byte{1, 2}
	close(stream.buffers)

	waitFor(t, "flush request", conn.finished)
	conn.transcript("Bonjour", true)
	waitForState(t, h.o, StateSettled)
}

func TestMutedStillCaches(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mock := backend.NewMockBackend(logger)
	mock.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
		return domain.ReplyResponse{TargetLanguageText: "Oui", Audio: base64.StdEncoding.EncodeToString([]byte("pcm"))}, nil
	}
	speaker := &countingSpeaker{}
	player := playback.NewBuffer(speaker, playback.Config{}, nil, logger)
	device := &fakeDevice{}
	stt := &fakeTranscriber{}

	o, err := New(Dependencies{Capture: device, Transcriber: stt, Backend: mock, Player: player}, Config{}, logger)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	defer o.Close()

	if _, err := o.StartSession(context.Background(), entities.ConversationSession{TemplateID: "tpl", UserID: "u", TargetLanguage: "fr-FR"}); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	o.SetMuted(true)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	stt.last().open()
	stt.last().transcript("Bonjour", true)
	waitForState(t, o, StateSettled)
	o.Wait()
	player.Wait()

	if speaker.count() != 0 {
		t.Error("Muted playback must not reach the speaker")
	}
	assistant := o.History()[1]
	if err := o.Replay(context.Background(), assistant.ID); err != nil {
		t.Errorf("Expected cached audio to be replayable, got %v", err)
	}
	if speaker.count() != 1 {
		t.Errorf("Expected one manual replay, got %d", speaker.count())
	}
}

func TestAudioCacheBoundedAcrossTurns(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mock := backend.NewMockBackend(logger)
	mock.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
		return domain.ReplyResponse{TargetLanguageText: "Oui", Audio: base64.StdEncoding.EncodeToString([]byte(req.Message))}, nil
	}
	player := playback.NewBuffer(nil, playback.Config{}, nil, logger)
	device := &fakeDevice{}
	stt := &fakeTranscriber{}

	o, err := New(Dependencies{Capture: device, Transcriber: stt, Backend: mock, Player: player}, Config{}, logger)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	defer o.Close()

	if _, err := o.StartSession(context.Background(), entities.ConversationSession{TemplateID: "tpl", UserID: "u", TargetLanguage: "fr-FR"}); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	for i := 0; i < 11; i++ {
		if err := o.Start(context.Background()); err != nil {
			t.Fatalf("Turn %d: failed to start: %v", i, err)
		}
		stt.last().open()
		stt.last().transcript(fmt.Sprintf("phrase %d", i), true)
		waitForState(t, o, StateSettled)
	}
	o.Wait()

	if player.Len() != playback.DefaultCacheSize {
		t.Errorf("Expected %d cached payloads, got %d", playback.DefaultCacheSize, player.Len())
	}
	turns := o.History()
	if player.Cached(turns[1].ID) {
		t.Error("First reply audio should have been evicted")
	}
	if !player.Cached(turns[len(turns)-1].ID) {
		t.Error("Latest reply audio should be cached")
	}
}

func TestClearSession(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	h.record(t, "Bonjour")
	waitForState(t, h.o, StateSettled)
	h.o.Wait()

	h.o.ClearSession(context.Background())

	if h.o.Session() != nil {
		t.Error("Session should be cleared")
	}
	if len(h.o.History()) != 0 {
		t.Error("History should be cleared")
	}
	if h.backend.Calls("delete-session") != 1 {
		t.Errorf("Expected delete-session call, got %d", h.backend.Calls("delete-session"))
	}
	if h.player.clears != 1 {
		t.Error("Audio cache should be cleared")
	}
	if err := h.o.Start(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Expected ErrNoActiveSession after clear, got %v", err)
	}
}

func TestClearSessionAbandonsTurnInFlight(t *testing.T) {
	tests := []struct {
		name     string
		replyErr error
	}{
		{name: "late reply", replyErr: nil},
		{name: "late failure", replyErr: errors.New("upstream unavailable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			release := make(chan struct{})
			reply := h.backend.ReplyFunc
			h.backend.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
				// A backend that ignores cancellation and answers late
				<-release
				if tt.replyErr != nil {
					return domain.ReplyResponse{}, tt.replyErr
				}
				return reply(context.Background(), req)
			}
			h.startSession(t)

			h.record(t, "Bonjour")
			waitForState(t, h.o, StateAwaitingReplyAndScore)

			h.o.ClearSession(context.Background())
			h.startSession(t)

			if err := h.o.Start(context.Background()); err != nil {
				t.Fatalf("Expected start in fresh session to succeed, got %v", err)
			}

			close(release)
			h.o.Wait()

			if n := h.player.playedCount(); n != 0 {
				t.Errorf("Expected no audio from the cleared turn, got %d cached", n)
			}
			if err := h.o.Err(); err != nil {
				t.Errorf("Expected no error in fresh session, got %v", err)
			}
			if len(h.o.History()) != 0 {
				t.Errorf("Expected empty history in fresh session, got %d turns", len(h.o.History()))
			}
			if h.o.State() != StateRecording {
				t.Errorf("Expected recording state to be kept, got %s", h.o.State())
			}
			if n := len(h.backend.Updates()); n != 0 {
				t.Errorf("Expected cleared turn not to be persisted, got %d updates", n)
			}
		})
	}
}

func TestCloseCancelsTurnInFlight(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.ReplyFunc = func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
		<-ctx.Done()
		return domain.ReplyResponse{}, ctx.Err()
	}
	h.startSession(t)

	h.record(t, "Bonjour")
	waitForState(t, h.o, StateAwaitingReplyAndScore)

	h.o.Close()
	h.o.Wait()

	if err := h.o.Err(); err != nil {
		t.Errorf("Expected cancelled turn not to surface an error, got %v", err)
	}
}

func TestCloseRejectsStart(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	stream := h.device.last()

	h.o.Close()

	if !stream.stopped() {
		t.Error("Close must release the capture device")
	}
	if err := h.o.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestStartUsesDefaultConstraints(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	c := h.device.constraints[0]
	if c.Channels != 1 || c.SampleRate != 16000 || !c.EchoCancellation || !c.NoiseSuppression {
		t.Errorf("Unexpected capture constraints: %+v", c)
	}
	if h.stt.tokens[0] != "mock-token-fr-FR" {
		t.Errorf("Expected token for target language, got %q", h.stt.tokens[0])
	}
}

type countingSpeaker struct {
	n int32
}

func (s *countingSpeaker) Play(ctx context.Context, audio []byte) error {
	atomic.AddInt32(&s.n, 1)
	return nil
}

func (s *countingSpeaker) count() int {
	return int(atomic.LoadInt32(&s.n))
}

func TestStateChangesStream(t *testing.T) {
	h := newHarness(t, Config{})
	h.startSession(t)

	h.record(t, "Bonjour")
	waitForState(t, h.o, StateSettled)

	want := []State{StateRecording, StateTranscribing, StateAwaitingReplyAndScore, StateSettled}
	for i, s := range want {
		select {
		case got := <-h.o.StateChanges():
			if got != s {
				t.Errorf("Transition %d: expected %s, got %s", i, s, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("Transition %d: timed out waiting for %s", i, s)
		}
	}
}
