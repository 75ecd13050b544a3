package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// MemorySessionRepository is an in-memory SessionRepository for offline
// development and tests. Records do not survive a restart.
type MemorySessionRepository struct {
	mu      sync.RWMutex
	records map[string]*entities.SessionRecord // id -> record
	byUser  map[string][]string                // user_id -> record ids
}

var _ repositories.SessionRepository = (*MemorySessionRepository)(nil)

// NewMemorySessionRepository creates a new in-memory session repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		records: make(map[string]*entities.SessionRecord),
		byUser:  make(map[string][]string),
	}
}

// Create implements repositories.SessionRepository
func (m *MemorySessionRepository) Create(ctx context.Context, record *entities.SessionRecord) error {
	if record == nil {
		return errors.New("session record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if _, exists := m.records[record.ID]; exists {
		return errors.New("session record with this id already exists")
	}

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if record.Messages == nil {
		record.Messages = make([]entities.Turn, 0)
	}

	m.records[record.ID] = copyRecord(record)
	m.byUser[record.UserID] = append(m.byUser[record.UserID], record.ID)
	return nil
}

// GetByID implements repositories.SessionRepository
func (m *MemorySessionRepository) GetByID(ctx context.Context, id string) (*entities.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[id]
	if !exists {
		return nil, repositories.ErrSessionNotFound
	}
	return copyRecord(record), nil
}

// UpdateMessages implements repositories.SessionRepository
func (m *MemorySessionRepository) UpdateMessages(ctx context.Context, id string, messages []entities.Turn, pronunciationScore *float64) (*entities.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.records[id]
	if !exists {
		return nil, repositories.ErrSessionNotFound
	}

	stored := make([]entities.Turn, len(messages))
	copy(stored, messages)
	record.ReplaceMessages(stored, pronunciationScore)
	return copyRecord(record), nil
}

// Delete implements repositories.SessionRepository
func (m *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.records[id]
	if !exists {
		return repositories.ErrSessionNotFound
	}
	delete(m.records, id)

	ids := m.byUser[record.UserID]
	for i, recordID := range ids {
		if recordID == id {
			m.byUser[record.UserID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byUser[record.UserID]) == 0 {
		delete(m.byUser, record.UserID)
	}
	return nil
}

// ListByUser returns the records of a learner, oldest first
func (m *MemorySessionRepository) ListByUser(ctx context.Context, userID string) []*entities.SessionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byUser[userID]
	out := make([]*entities.SessionRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(m.records[id]))
	}
	return out
}

// Count returns the number of stored records
func (m *MemorySessionRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func copyRecord(r *entities.SessionRecord) *entities.SessionRecord {
	c := *r
	c.Messages = make([]entities.Turn, len(r.Messages))
	copy(c.Messages, r.Messages)
	return &c
}
