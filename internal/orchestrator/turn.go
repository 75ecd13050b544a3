package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/internal/pronunciation"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// beginTurn acts on the first final transcript of cs. It reports whether a
// turn was started; a recording that was stopped or a turn already in flight
// wins over the transcript.
func (o *Orchestrator) beginTurn(cs *captureSession, text string) bool {
	o.mu.Lock()
	if o.sc.capture != cs || o.sc.TurnInFlight || o.sc.Session == nil {
		o.mu.Unlock()
		o.releaseCapture(cs)
		return false
	}
	ctx, cancel := context.WithCancel(o.base)
	pt := &pendingTurn{
		ctx:        ctx,
		cancel:     cancel,
		session:    *o.sc.Session,
		user:       entities.NewUserTurn(text),
		assistant:  entities.NewPendingAssistantTurn(),
		prior:      o.history.Snapshot(),
		transcript: text,
		audio:      cs.takeAudio(),
		analyzed:   make(chan struct{}),
	}
	o.sc.TurnInFlight = true
	o.sc.turn = pt
	o.sc.capture = nil
	o.sc.Interim = ""
	o.setStateLocked(StateTranscribing)
	o.mu.Unlock()

	o.releaseCapture(cs)

	// Optimistic insert: the learner sees their line and the typing placeholder
	// before any remote call is made.
	o.mu.Lock()
	if !o.ownsTurnLocked(pt) {
		o.mu.Unlock()
		cancel()
		return false
	}
	o.history.Append(pt.user, pt.assistant)
	if o.sc.State == StateTranscribing {
		o.setStateLocked(StateAwaitingReplyAndScore)
	}
	o.mu.Unlock()

	o.logger.Info("Turn started",
		zap.String("turnID", pt.user.ID),
		zap.String("sessionRecordID", pt.session.SessionID),
		zap.Int("audioSize", len(pt.audio)))

	o.work.Add(1)
	go o.processTurn(pt)
	return true
}

// processTurn runs reply and score concurrently, fires off pronunciation
// analysis and settles the turn once both calls have returned.
func (o *Orchestrator) processTurn(pt *pendingTurn) {
	defer o.work.Done()
	defer func() {
		<-pt.analyzed
		pt.cancel()
	}()
	started := time.Now()

	o.work.Add(1)
	go o.analyze(pt)

	var (
		wg      sync.WaitGroup
		replyOK bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		replyOK = o.reply(pt)
	}()
	go func() {
		defer wg.Done()
		o.score(pt)
	}()
	wg.Wait()

	o.metrics.ObserveTurnLatency(time.Since(started))

	o.mu.Lock()
	if !o.ownsTurnLocked(pt) {
		o.mu.Unlock()
		o.logger.Info("Abandoned turn finished", zap.String("turnID", pt.user.ID))
		return
	}
	o.sc.turn = nil
	o.sc.TurnInFlight = false
	if o.sc.State == StateAwaitingReplyAndScore {
		if replyOK {
			o.setStateLocked(StateSettled)
		} else {
			o.setStateLocked(StateError)
			o.setStateLocked(StateIdle)
		}
	}
	o.mu.Unlock()

	if replyOK {
		o.work.Add(1)
		go o.persist(pt)
	}

	o.logger.Info("Turn settled",
		zap.String("turnID", pt.user.ID),
		zap.Bool("replied", replyOK),
		zap.Duration("elapsed", time.Since(started)))
}

// reply fetches the assistant's line. On failure both optimistic turns are
// rolled back and the learner sees ErrReplyFailed.
func (o *Orchestrator) reply(pt *pendingTurn) bool {
	ctx, cancel := context.WithTimeout(pt.ctx, o.config.ReplyTimeout)
	defer cancel()

	resp, err := o.backend.Reply(ctx, domain.ReplyRequest{
		Message:        pt.transcript,
		History:        domain.ToHistory(pt.prior),
		Title:          pt.session.Title,
		Vocabulary:     pt.session.Vocabulary,
		Dialogue:       pt.session.Dialogue,
		VoiceGender:    pt.session.VoiceGender,
		TargetLanguage: pt.session.TargetLanguage,
		NativeLanguage: pt.session.NativeLanguage,
	})
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ownsTurnLocked(pt) {
		o.logger.Debug("Dropping reply of abandoned turn", zap.String("turnID", pt.user.ID))
		return false
	}

	if err != nil {
		removed := o.history.Remove(pt.user.ID, pt.assistant.ID)
		o.metrics.ObserveTurnOutcome("reply", outcomeFailure)
		o.logger.Error("Reply failed, turn rolled back",
			zap.String("turnID", pt.user.ID),
			zap.Int("removed", removed),
			zap.Error(err))
		o.sc.LastErr = &ReplyError{Err: err}
		return false
	}
	o.metrics.ObserveTurnOutcome("reply", outcomeSuccess)

	o.history.Patch(pt.assistant.ID, entities.TurnPatch{
		Content:     entities.Ptr(resp.TargetLanguageText),
		Translation: entities.Ptr(resp.NativeLanguageText),
		IsPending:   entities.Ptr(false),
	})
	o.history.Patch(pt.user.ID, entities.TurnPatch{
		Translation: entities.Ptr(resp.MessageTranslation),
	})

	// Play only caches and hands off to the speaker, so it is safe under o.mu
	if resp.Audio != "" {
		o.player.Play(o.base, resp.Audio, pt.assistant.ID)
	}
	return true
}

// score grades the learner's line. A failed or unusable grade settles the
// turn with the default label; it is never surfaced.
func (o *Orchestrator) score(pt *pendingTurn) {
	ctx, cancel := context.WithTimeout(pt.ctx, o.config.ScoreTimeout)
	defer cancel()

	resp, err := o.backend.Score(ctx, domain.ScoreRequest{
		Message:           pt.transcript,
		History:           domain.ToHistory(pt.prior),
		TargetLanguage:    pt.session.TargetLanguage,
		Vocabulary:        pt.session.Vocabulary,
		Title:             pt.session.Title,
		SessionTemplateID: pt.session.TemplateID,
		UserID:            pt.session.UserID,
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ownsTurnLocked(pt) {
		return
	}

	if err != nil {
		o.metrics.ObserveTurnOutcome("score", outcomeFailure)
		o.logger.Warn("Scoring failed, using default label",
			zap.String("turnID", pt.user.ID),
			zap.Error(err))
		o.history.Patch(pt.user.ID, entities.TurnPatch{
			Label:     entities.Ptr(entities.DefaultLabel),
			IsPending: entities.Ptr(false),
		})
		return
	}
	o.metrics.ObserveTurnOutcome("score", outcomeSuccess)

	patch := entities.TurnPatch{
		Label:      entities.Ptr(entities.ParseLabel(resp.Label)),
		Score:      resp.Score,
		Correction: resp.Corrections,
		IsPending:  entities.Ptr(false),
	}
	if resp.ImprovedResponse != "" {
		patch.ImprovedResponse = entities.Ptr(resp.ImprovedResponse)
	}
	o.history.Patch(pt.user.ID, patch)
}

// analyze submits the recording for pronunciation scoring and merges the
// result into the user turn. The recording is dropped afterwards.
func (o *Orchestrator) analyze(pt *pendingTurn) {
	defer o.work.Done()
	defer close(pt.analyzed)
	audio := pt.audio
	pt.audio = nil

	ctx, cancel := context.WithTimeout(pt.ctx, o.config.AnalyzeTimeout)
	defer cancel()

	result, err := o.analyzer.Analyze(ctx, audio, pt.transcript, pt.session.Dialect, pronunciation.SessionContext{
		TemplateID: pt.session.TemplateID,
		RecordID:   pt.session.SessionID,
	})
	if errors.Is(err, pronunciation.ErrNothingToAnalyze) {
		o.logger.Debug("Skipping pronunciation analysis", zap.String("turnID", pt.user.ID))
		return
	}
	if err != nil || result == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.inSessionLocked(pt) {
		return
	}
	o.history.Patch(pt.user.ID, entities.TurnPatch{Pronunciation: result})
}

// persist writes the settled conversation to the remote store. Failures are
// logged only; the local history is authoritative for the session.
func (o *Orchestrator) persist(pt *pendingTurn) {
	defer o.work.Done()

	// The pronunciation score travels with the conversation when analysis finishes in time
	select {
	case <-pt.analyzed:
	case <-time.After(o.config.PersistTimeout):
	case <-o.base.Done():
	}

	o.mu.Lock()
	current := o.sc.Session
	o.mu.Unlock()
	if current == nil || current.SessionID != pt.session.SessionID {
		o.logger.Debug("Session changed before persistence, skipping",
			zap.String("sessionRecordID", pt.session.SessionID))
		return
	}

	messages := settledTurns(o.history.Snapshot())
	req := domain.UpdateSessionRequest{Messages: messages}
	if user, ok := o.history.Get(pt.user.ID); ok && user.Pronunciation != nil {
		req.PronunciationScore = entities.Ptr(user.Pronunciation.PronScore)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.config.PersistTimeout)
	defer cancel()

	if _, err := o.backend.UpdateSession(ctx, pt.session.SessionID, req); err != nil {
		o.logger.Warn("Failed to persist conversation",
			zap.String("sessionRecordID", pt.session.SessionID),
			zap.Int("messages", len(messages)),
			zap.Error(err))
		return
	}
	o.logger.Debug("Conversation persisted",
		zap.String("sessionRecordID", pt.session.SessionID),
		zap.Int("messages", len(messages)))
}

// settledTurns drops assistant placeholders that are still waiting for a reply
func settledTurns(turns []entities.Turn) []entities.Turn {
	out := make([]entities.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == entities.TurnRoleAssistant && t.IsPending {
			continue
		}
		out = append(out, t)
	}
	return out
}
