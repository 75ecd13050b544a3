package pronunciation

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/cleanaz-dev/sp-academy/adapters/backend"
	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
)

func TestAnalyzer_NothingToAnalyze(t *testing.T) {
	mock := backend.NewMockBackend(zaptest.NewLogger(t))
	analyzer := NewAnalyzer(mock, zaptest.NewLogger(t))

	tests := []struct {
		name       string
		audio      []byte
		transcript string
	}{
		{name: "no audio", audio: nil, transcript: "Bonjour"},
		{name: "no transcript", audio: []byte{1, 2}, transcript: ""},
		{name: "blank transcript", audio: []byte{1, 2}, transcript: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := analyzer.Analyze(context.Background(), tt.audio, tt.transcript, "fr-FR", SessionContext{})
			if !errors.Is(err, ErrNothingToAnalyze) {
				t.Errorf("Expected ErrNothingToAnalyze, got %v", err)
			}
			if result != nil {
				t.Errorf("Expected nil result, got %+v", result)
			}
		})
	}

	if mock.Calls("analyze-speech") != 0 {
		t.Error("Backend should not be called when there is nothing to analyze")
	}
}

func TestAnalyzer_SubmitsAudioAndTranscript(t *testing.T) {
	mock := backend.NewMockBackend(zaptest.NewLogger(t))
	var got domain.AnalyzeSpeechRequest
	mock.AnalyzeSpeechFunc = func(ctx context.Context, req domain.AnalyzeSpeechRequest) (*entities.PronunciationResult, error) {
		got = req
		return &entities.PronunciationResult{PronScore: 88}, nil
	}
	analyzer := NewAnalyzer(mock, zaptest.NewLogger(t))

	result, err := analyzer.Analyze(context.Background(), []byte("pcm"), "Bonjour", "fr-CA", SessionContext{
		TemplateID: "tpl-1",
		RecordID:   "rec-1",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result == nil || result.PronScore != 88 {
		t.Errorf("Expected pron score 88, got %+v", result)
	}

	if got.Audio != base64.StdEncoding.EncodeToString([]byte("pcm")) {
		t.Errorf("Audio should be base64 encoded, got %q", got.Audio)
	}
	if got.Transcript != "Bonjour" || got.Dialect != "fr-CA" {
		t.Errorf("Unexpected request: %+v", got)
	}
	if got.SessionTemplateID != "tpl-1" || got.SessionRecordID != "rec-1" {
		t.Errorf("Session identifiers not forwarded: %+v", got)
	}
}

func TestAnalyzer_ServiceFailureMeansNoData(t *testing.T) {
	mock := backend.NewMockBackend(zaptest.NewLogger(t))
	mock.AnalyzeSpeechFunc = func(ctx context.Context, req domain.AnalyzeSpeechRequest) (*entities.PronunciationResult, error) {
		return nil, errors.New("service unavailable")
	}
	analyzer := NewAnalyzer(mock, zaptest.NewLogger(t))

	result, err := analyzer.Analyze(context.Background(), []byte("pcm"), "Bonjour", "fr-FR", SessionContext{})
	if err != nil {
		t.Errorf("Service failure should not surface an error, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected no pronunciation data, got %+v", result)
	}
}
