package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// MockLLM is an offline LargeLanguageModel. Responses are raw JSON keyed by
// ChatRequest.Task; AudioResponse answers AnalyzeAudio.
type MockLLM struct {
	Responses     map[string]string
	AudioResponse string
	Err           error

	mu       sync.Mutex
	requests []repositories.ChatRequest
}

var _ repositories.LargeLanguageModel = (*MockLLM)(nil)

// NewMockLLM creates a mock answering reply, score and analyze-audio with canned content
func NewMockLLM() *MockLLM {
	return &MockLLM{
		Responses: map[string]string{
			"reply": `{"targetLanguageText":"Très bien ! Et avec ceci ?","nativeLanguageText":"Very good! Anything else?","messageTranslation":"Hello, I would like a coffee please."}`,
			"score": `{"label":"Good","score":78,"improvedResponse":"Bonjour, je voudrais un café, s'il vous plaît.","corrections":{"grammar":{"replacement":"s'il vous plaît","rationale":"Polite form takes the apostrophe."}}}`,
		},
		AudioResponse: `{"accuracyScore":82,"fluencyScore":76,"completenessScore":95,"pronScore":83,"words":[{"word":"Bonjour","accuracyScore":90}]}`,
	}
}

// GenerateJSON implements repositories.LargeLanguageModel
func (m *MockLLM) GenerateJSON(ctx context.Context, req repositories.ChatRequest, out interface{}) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	raw, ok := m.Responses[req.Task]
	if !ok {
		return fmt.Errorf("mock has no response for task %q", req.Task)
	}
	return json.Unmarshal([]byte(raw), out)
}

// AnalyzeAudio implements repositories.LargeLanguageModel
func (m *MockLLM) AnalyzeAudio(ctx context.Context, prompt string, audio []byte, mimeType string, out interface{}) error {
	if m.Err != nil {
		return m.Err
	}
	if len(audio) == 0 {
		return fmt.Errorf("audio cannot be empty")
	}
	return json.Unmarshal([]byte(m.AudioResponse), out)
}

// Requests returns every completion request received
func (m *MockLLM) Requests() []repositories.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repositories.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
