package backend

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// MockBackend is an in-memory PracticeBackend for offline practice and tests.
// Each call can be overridden through its Func field; the defaults answer
// with canned content.
type MockBackend struct {
	StartSessionFunc       func(ctx context.Context, req domain.StartSessionRequest) (domain.StartSessionResponse, error)
	ReplyFunc              func(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error)
	ScoreFunc              func(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error)
	AnalyzeSpeechFunc      func(ctx context.Context, req domain.AnalyzeSpeechRequest) (*entities.PronunciationResult, error)
	UpdateSessionFunc      func(ctx context.Context, id string, req domain.UpdateSessionRequest) (domain.UpdateSessionResponse, error)
	DeleteSessionFunc      func(ctx context.Context, id string) error
	TranscriptionTokenFunc func(ctx context.Context, targetLanguage string) (string, error)

	mu       sync.Mutex
	calls    map[string]int
	updates  []domain.UpdateSessionRequest
	sessions int
	logger   *zap.Logger
}

var _ repositories.PracticeBackend = (*MockBackend)(nil)

// NewMockBackend creates a new mock practice backend
func NewMockBackend(logger *zap.Logger) *MockBackend {
	return &MockBackend{
		calls:  make(map[string]int),
		logger: logger,
	}
}

// Calls returns how many times the named call was made
func (m *MockBackend) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// Updates returns every update-session payload received
func (m *MockBackend) Updates() []domain.UpdateSessionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UpdateSessionRequest, len(m.updates))
	copy(out, m.updates)
	return out
}

func (m *MockBackend) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
}

// StartSession implements repositories.PracticeBackend
func (m *MockBackend) StartSession(ctx context.Context, req domain.StartSessionRequest) (domain.StartSessionResponse, error) {
	m.record("start-session")
	if m.StartSessionFunc != nil {
		return m.StartSessionFunc(ctx, req)
	}
	m.mu.Lock()
	m.sessions++
	id := fmt.Sprintf("mock-session-%d", m.sessions)
	m.mu.Unlock()
	m.logger.Info("Mock session started", zap.String("sessionRecordID", id))
	return domain.StartSessionResponse{SessionRecordID: id}, nil
}

// Reply implements repositories.PracticeBackend
func (m *MockBackend) Reply(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
	m.record("reply")
	if m.ReplyFunc != nil {
		return m.ReplyFunc(ctx, req)
	}
	return domain.ReplyResponse{
		TargetLanguageText: fmt.Sprintf("Très bien ! Vous avez dit : « %s ». Et ensuite ?", req.Message),
		NativeLanguageText: fmt.Sprintf("Very good! You said: \"%s\". And then?", req.Message),
		MessageTranslation: req.Message,
	}, nil
}

// Score implements repositories.PracticeBackend
func (m *MockBackend) Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error) {
	m.record("score")
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, req)
	}
	return domain.ScoreResponse{Label: string(entities.LabelGood)}, nil
}

// AnalyzeSpeech implements repositories.PracticeBackend
func (m *MockBackend) AnalyzeSpeech(ctx context.Context, req domain.AnalyzeSpeechRequest) (*entities.PronunciationResult, error) {
	m.record("analyze-speech")
	if m.AnalyzeSpeechFunc != nil {
		return m.AnalyzeSpeechFunc(ctx, req)
	}
	return &entities.PronunciationResult{
		AccuracyScore:     80,
		FluencyScore:      75,
		CompletenessScore: 90,
		PronScore:         81,
	}, nil
}

// UpdateSession implements repositories.PracticeBackend
func (m *MockBackend) UpdateSession(ctx context.Context, id string, req domain.UpdateSessionRequest) (domain.UpdateSessionResponse, error) {
	m.record("update-session")
	m.mu.Lock()
	m.updates = append(m.updates, req)
	m.mu.Unlock()
	if m.UpdateSessionFunc != nil {
		return m.UpdateSessionFunc(ctx, id, req)
	}
	return domain.UpdateSessionResponse{Messages: req.Messages}, nil
}

// DeleteSession implements repositories.PracticeBackend
func (m *MockBackend) DeleteSession(ctx context.Context, id string) error {
	m.record("delete-session")
	if m.DeleteSessionFunc != nil {
		return m.DeleteSessionFunc(ctx, id)
	}
	return nil
}

// TranscriptionToken implements repositories.PracticeBackend
func (m *MockBackend) TranscriptionToken(ctx context.Context, targetLanguage string) (string, error) {
	m.record("transcription-token")
	if m.TranscriptionTokenFunc != nil {
		return m.TranscriptionTokenFunc(ctx, targetLanguage)
	}
	return "mock-token-" + targetLanguage, nil
}
