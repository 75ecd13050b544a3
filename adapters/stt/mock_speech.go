package stt

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// mockPhrases is what the mock recognizer "hears", keyed by language
var mockPhrases = map[string]string{
	"fr-FR": "Bonjour, je voudrais un café s'il vous plaît.",
	"es-ES": "Hola, quisiera un café por favor.",
	"de-DE": "Hallo, ich hätte gern einen Kaffee bitte.",
}

const mockDefaultPhrase = "Hello, I would like a coffee please."

// MockSpeechToText is an offline recognizer. It reports an interim result
// after the first audio chunk and the full phrase as final once the stream ends.
type MockSpeechToText struct {
	// Phrase overrides the language-based phrase when set
	Phrase string
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	phrase := s.Phrase
	if phrase == "" {
		phrase = mockPhrases[config.Language]
	}
	if phrase == "" {
		phrase = mockDefaultPhrase
	}

	return &MockSpeechToTextStream{
		phrase:  phrase,
		interim: config.InterimResults,
		results: make(chan repositories.RecognitionResult, 4),
		logger:  s.logger,
	}, nil
}

// MockSpeechToTextStream is a mock streaming recognition
type MockSpeechToTextStream struct {
	phrase  string
	interim bool
	results chan repositories.RecognitionResult
	logger  *zap.Logger

	mu            sync.Mutex
	audioReceived bool
	ended         bool
}

// Stream records that audio arrived
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return errors.New("stream already ended")
	}
	if len(data) == 0 {
		return nil
	}
	if !m.audioReceived && m.interim {
		m.results <- repositories.RecognitionResult{Text: firstWord(m.phrase)}
	}
	m.audioReceived = true
	return nil
}

func (m *MockSpeechToTextStream) Results() <-chan repositories.RecognitionResult {
	return m.results
}

func (m *MockSpeechToTextStream) Err() error {
	return nil
}

// End emits the final phrase when any audio was received and closes Results
func (m *MockSpeechToTextStream) End() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return nil
	}
	m.ended = true
	if m.audioReceived {
		m.logger.Info("Ending mock transcription stream", zap.String("result", m.phrase))
		m.results <- repositories.RecognitionResult{Text: m.phrase, IsFinal: true}
	}
	close(m.results)
	return nil
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == ',' {
			return s[:i]
		}
	}
	return s
}
