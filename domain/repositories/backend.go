package repositories

import (
	"context"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
)

// PracticeBackend abstracts the remote practice services reached over request/response calls
type PracticeBackend interface {
	// StartSession creates a session record for a template and learner
	StartSession(ctx context.Context, req domain.StartSessionRequest) (domain.StartSessionResponse, error)
	// Reply generates the assistant's next line, optionally with synthesized audio
	Reply(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error)
	// Score grades the learner's message
	Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error)
	// AnalyzeSpeech scores the pronunciation of captured audio against its transcript
	AnalyzeSpeech(ctx context.Context, req domain.AnalyzeSpeechRequest) (*entities.PronunciationResult, error)
	// UpdateSession persists the finalized conversation
	UpdateSession(ctx context.Context, sessionRecordID string, req domain.UpdateSessionRequest) (domain.UpdateSessionResponse, error)
	// DeleteSession removes the session record
	DeleteSession(ctx context.Context, sessionRecordID string) error
	// TranscriptionToken issues a short-lived token for the streaming transcription session
	TranscriptionToken(ctx context.Context, targetLanguage string) (string, error)
}
