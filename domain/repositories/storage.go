package repositories

import (
	"context"
	"errors"

	"github.com/cleanaz-dev/sp-academy/domain/entities"
)

// ErrSessionNotFound is returned when no record matches the id
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository defines data access methods for practice session records
type SessionRepository interface {
	Create(ctx context.Context, record *entities.SessionRecord) error
	GetByID(ctx context.Context, id string) (*entities.SessionRecord, error)
	UpdateMessages(ctx context.Context, id string, messages []entities.Turn, pronunciationScore *float64) (*entities.SessionRecord, error)
	Delete(ctx context.Context, id string) error
}
