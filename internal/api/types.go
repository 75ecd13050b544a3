package api

import (
	"context"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
)

// PracticeService is the business layer behind the practice routes
type PracticeService interface {
	StartSession(ctx context.Context, req domain.StartSessionRequest) (domain.StartSessionResponse, error)
	Reply(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error)
	Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error)
	AnalyzeSpeech(ctx context.Context, req domain.AnalyzeSpeechRequest) (*entities.PronunciationResult, error)
	UpdateSession(ctx context.Context, id string, req domain.UpdateSessionRequest) (domain.UpdateSessionResponse, error)
	DeleteSession(ctx context.Context, id string) error
	TranscriptionToken(ctx context.Context, userID string, req domain.TranscriptionTokenRequest) (domain.TranscriptionTokenResponse, error)
}

// Error codes carried in domain.ErrorResponse.Error
const (
	codeInvalidRequest = "invalid_request"
	codeUnauthorized   = "unauthorized"
	codeNotFound       = "not_found"
	codeUpstream       = "upstream_error"
	codeInternal       = "internal_error"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Relays  int    `json:"relays"`
}
