package pronunciation

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// ErrNothingToAnalyze is returned when the recording produced no audio or no transcript
var ErrNothingToAnalyze = errors.New("nothing to analyze")

// SessionContext identifies the practice session the recording belongs to
type SessionContext struct {
	TemplateID string
	RecordID   string
}

// Analyzer submits captured audio to the pronunciation scoring service
type Analyzer struct {
	backend repositories.PracticeBackend
	logger  *zap.Logger
}

// NewAnalyzer creates a new pronunciation analyzer
func NewAnalyzer(backend repositories.PracticeBackend, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		backend: backend,
		logger:  logger,
	}
}

// Analyze scores audio against transcript. It returns ErrNothingToAnalyze when
// either input is empty, and (nil, nil) when the service fails: a failed
// analysis means "no pronunciation data", never an error for the learner.
func (a *Analyzer) Analyze(ctx context.Context, audio []byte, transcript, dialect string, session SessionContext) (*entities.PronunciationResult, error) {
	if len(audio) == 0 || strings.TrimSpace(transcript) == "" {
		return nil, ErrNothingToAnalyze
	}

	result, err := a.backend.AnalyzeSpeech(ctx, domain.AnalyzeSpeechRequest{
		Audio:             base64.StdEncoding.EncodeToString(audio),
		Transcript:        transcript,
		Dialect:           dialect,
		SessionTemplateID: session.TemplateID,
		SessionRecordID:   session.RecordID,
	})
	if err != nil {
		a.logger.Warn("Pronunciation analysis failed",
			zap.String("sessionRecordID", session.RecordID),
			zap.Int("audioSize", len(audio)),
			zap.Error(err))
		return nil, nil
	}

	if result != nil {
		a.logger.Debug("Pronunciation analysis completed",
			zap.String("sessionRecordID", session.RecordID),
			zap.Float64("pronScore", result.PronScore))
	}
	return result, nil
}
