package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/observability"
	"github.com/cleanaz-dev/sp-academy/internal/wavcodec"
)

// ErrInvalidRequest marks caller mistakes; the API answers them with 400
var ErrInvalidRequest = errors.New("invalid request")

const (
	defaultSpeechFormat = "pcm_16000"
	defaultUserID       = "learner"
)

// TokenIssuer issues short-lived transcription tokens
type TokenIssuer interface {
	IssueTranscriptionToken(userID, targetLanguage string) (string, time.Time, error)
}

// PracticeConfig holds the practice service settings
type PracticeConfig struct {
	// SpeechFormat is the synthesizer's output format, "pcm_<rate>" or "mp3_..."
	SpeechFormat string
	// SpeechTimeout bounds synthesis of one reply
	SpeechTimeout time.Duration
}

// PracticeService implements the seven practice backend calls
type PracticeService struct {
	sessions repositories.SessionRepository
	llm      repositories.LargeLanguageModel
	tts      repositories.TextToSpeech
	tokens   TokenIssuer
	metrics  *observability.Metrics
	config   PracticeConfig
	logger   *zap.Logger
}

// NewPracticeService creates a new practice service. tts may be nil, in which
// case replies carry no audio.
func NewPracticeService(
	sessions repositories.SessionRepository,
	llm repositories.LargeLanguageModel,
	tts repositories.TextToSpeech,
	tokens TokenIssuer,
	metrics *observability.Metrics,
	config PracticeConfig,
	logger *zap.Logger,
) *PracticeService {
	if config.SpeechFormat == "" {
		config.SpeechFormat = defaultSpeechFormat
	}
	if config.SpeechTimeout <= 0 {
		config.SpeechTimeout = 20 * time.Second
	}
	return &PracticeService{
		sessions: sessions,
		llm:      llm,
		tts:      tts,
		tokens:   tokens,
		metrics:  metrics,
		config:   config,
		logger:   logger,
	}
}

// StartSession creates an empty session record
func (s *PracticeService) StartSession(ctx context.Context, req domain.StartSessionRequest) (domain.StartSessionResponse, error) {
	record := entities.NewSessionRecord(req.SessionTemplateID, req.UserID)
	if err := record.Validate(); err != nil {
		return domain.StartSessionResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		return domain.StartSessionResponse{}, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Practice session started",
		zap.String("sessionRecordID", record.ID),
		zap.String("templateID", record.TemplateID),
		zap.String("userID", record.UserID))
	return domain.StartSessionResponse{SessionRecordID: record.ID}, nil
}

// Reply generates the assistant's next line and, when a synthesizer is
// configured, its audio. A synthesis failure leaves Audio empty.
func (s *PracticeService) Reply(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return domain.ReplyResponse{}, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if req.TargetLanguage == "" {
		return domain.ReplyResponse{}, fmt.Errorf("%w: targetLanguage is required", ErrInvalidRequest)
	}

	var resp domain.ReplyResponse
	err := s.llm.GenerateJSON(ctx, repositories.ChatRequest{
		Task:         "reply",
		SystemPrompt: buildReplyPrompt(req),
		History:      toChatHistory(req.History),
		Message:      req.Message,
	}, &resp)
	if err != nil {
		s.metrics.ObserveProviderError("llm")
		return domain.ReplyResponse{}, fmt.Errorf("failed to generate reply: %w", err)
	}
	if strings.TrimSpace(resp.TargetLanguageText) == "" {
		s.metrics.ObserveProviderError("llm")
		return domain.ReplyResponse{}, fmt.Errorf("failed to generate reply: empty reply text")
	}

	resp.Audio = s.synthesize(ctx, resp.TargetLanguageText, repositories.VoiceOptions{
		Gender:   req.VoiceGender,
		Language: req.TargetLanguage,
	})
	return resp, nil
}

// Score grades the learner's message. Unknown labels are normalized to OK.
func (s *PracticeService) Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return domain.ScoreResponse{}, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}

	var resp domain.ScoreResponse
	err := s.llm.GenerateJSON(ctx, repositories.ChatRequest{
		Task:         "score",
		SystemPrompt: buildScorePrompt(req),
		History:      toChatHistory(req.History),
		Message:      req.Message,
	}, &resp)
	if err != nil {
		s.metrics.ObserveProviderError("llm")
		return domain.ScoreResponse{}, fmt.Errorf("failed to score message: %w", err)
	}

	resp.Label = string(entities.ParseLabel(resp.Label))
	if resp.Score != nil {
		clamped := clamp(*resp.Score, 0, 100)
		resp.Score = &clamped
	}
	return resp, nil
}

// AnalyzeSpeech scores the pronunciation of a recording. Raw PCM is wrapped
// into WAV before it is sent to the model.
func (s *PracticeService) AnalyzeSpeech(ctx context.Context, req domain.AnalyzeSpeechRequest) (*entities.PronunciationResult, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, fmt.Errorf("%w: transcript is required", ErrInvalidRequest)
	}
	audio, err := wavcodec.DecodeBase64(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	mimeType := "audio/wav"
	if !wavcodec.IsWAV(audio) {
		if audio, err = wavcodec.Encode(audio, 16000, 1); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	var result entities.PronunciationResult
	if err := s.llm.AnalyzeAudio(ctx, buildAnalyzePrompt(req), audio, mimeType, &result); err != nil {
		s.metrics.ObserveProviderError("llm")
		return nil, fmt.Errorf("failed to analyze speech: %w", err)
	}

	result.AccuracyScore = clamp(result.AccuracyScore, 0, 100)
	result.FluencyScore = clamp(result.FluencyScore, 0, 100)
	result.CompletenessScore = clamp(result.CompletenessScore, 0, 100)
	result.PronScore = clamp(result.PronScore, 0, 100)

	s.logger.Debug("Speech analyzed",
		zap.String("sessionRecordID", req.SessionRecordID),
		zap.Float64("pronScore", result.PronScore))
	return &result, nil
}

// UpdateSession replaces the stored conversation
func (s *PracticeService) UpdateSession(ctx context.Context, id string, req domain.UpdateSessionRequest) (domain.UpdateSessionResponse, error) {
	if id == "" {
		return domain.UpdateSessionResponse{}, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	messages := make([]entities.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == entities.TurnRoleAssistant && m.IsPending {
			continue
		}
		messages = append(messages, m)
	}

	record, err := s.sessions.UpdateMessages(ctx, id, messages, req.PronunciationScore)
	if err != nil {
		return domain.UpdateSessionResponse{}, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return domain.UpdateSessionResponse{Messages: record.Messages}, nil
}

// DeleteSession removes a session record
func (s *PracticeService) DeleteSession(ctx context.Context, id string) error {
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	s.logger.Info("Practice session deleted", zap.String("sessionRecordID", id))
	return nil
}

// TranscriptionToken issues a short-lived token for the transcription relay
func (s *PracticeService) TranscriptionToken(ctx context.Context, userID string, req domain.TranscriptionTokenRequest) (domain.TranscriptionTokenResponse, error) {
	if req.TargetLanguage == "" {
		return domain.TranscriptionTokenResponse{}, fmt.Errorf("%w: targetLanguage is required", ErrInvalidRequest)
	}
	if userID == "" {
		userID = defaultUserID
	}

	token, expiresAt, err := s.tokens.IssueTranscriptionToken(userID, req.TargetLanguage)
	if err != nil {
		return domain.TranscriptionTokenResponse{}, fmt.Errorf("failed to issue transcription token: %w", err)
	}
	return domain.TranscriptionTokenResponse{Token: token, ExpiresAt: expiresAt}, nil
}

// synthesize returns the reply audio as a data URI, or "" when unavailable
func (s *PracticeService) synthesize(ctx context.Context, text string, voice repositories.VoiceOptions) string {
	if s.tts == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.SpeechTimeout)
	defer cancel()

	chunks, err := s.tts.ConvertTextToSpeech(ctx, text, voice)
	if err != nil {
		s.metrics.ObserveProviderError("tts")
		s.logger.Warn("Speech synthesis failed, replying without audio", zap.Error(err))
		return ""
	}

	var raw bytes.Buffer
	for chunk := range chunks {
		raw.Write(chunk)
	}
	if raw.Len() == 0 {
		s.metrics.ObserveProviderError("tts")
		s.logger.Warn("Speech synthesis returned no audio")
		return ""
	}

	payload, mimeType, err := containerize(raw.Bytes(), s.config.SpeechFormat)
	if err != nil {
		s.logger.Warn("Failed to package synthesized audio", zap.Error(err))
		return ""
	}
	return wavcodec.DataURI(mimeType, payload)
}

// containerize turns raw synthesizer output into a self-describing payload
func containerize(raw []byte, format string) ([]byte, string, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return raw, "audio/mpeg", nil
	}
	sampleRate, err := strconv.Atoi(rate)
	if err != nil {
		return nil, "", fmt.Errorf("invalid pcm format %q", format)
	}
	// Drop a trailing half sample from a truncated stream
	raw = raw[:len(raw)&^1]
	wav, err := wavcodec.Encode(raw, sampleRate, 1)
	if err != nil {
		return nil, "", err
	}
	return wav, "audio/wav", nil
}

func toChatHistory(history []domain.HistoryMessage) []repositories.ChatMessage {
	out := make([]repositories.ChatMessage, 0, len(history))
	for _, h := range history {
		role := repositories.UserRole
		if h.Role == entities.TurnRoleAssistant {
			role = repositories.AssistantRole
		}
		out = append(out, repositories.ChatMessage{Role: role, Content: h.Content})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
