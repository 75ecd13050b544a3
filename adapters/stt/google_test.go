package stt

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

var _ repositories.SpeechToText = &GoogleSpeechToText{}

func TestEncodingForMimeType(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/webm;codecs=opus", "WEBM_OPUS"},
		{"audio/ogg;codecs=opus", "OGG_OPUS"},
		{repositories.MimeTypePCM16, "LINEAR16"},
		{"", "LINEAR16"},
	}

	for _, tt := range tests {
		if got := EncodingForMimeType(tt.mime); got != tt.want {
			t.Errorf("EncodingForMimeType(%q) = %s, want %s", tt.mime, got, tt.want)
		}
		if _, err := getAudioEncoding(EncodingForMimeType(tt.mime)); err != nil {
			t.Errorf("Encoding for %q is not supported by the recognizer: %v", tt.mime, err)
		}
	}
}

func TestUnsupportedEncodingRejectedBeforeDialing(t *testing.T) {
	g := NewGoogleSpeechToText(zaptest.NewLogger(t))
	_, err := g.InitTranscribeStreaming(context.Background(), repositories.AudioConfig{Encoding: "MP3"})
	if err == nil {
		t.Error("Expected unsupported encoding error")
	}
}

func TestMockSpeechToText(t *testing.T) {
	mock := NewMockSpeechToText(zaptest.NewLogger(t))
	stream, err := mock.InitTranscribeStreaming(context.Background(), repositories.AudioConfig{
		Language:       "fr-FR",
		InterimResults: true,
	})
	if err != nil {
		t.Fatalf("Failed to init stream: %v", err)
	}

	if err := stream.Stream([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Failed to stream: %v", err)
	}
	if err := stream.End(); err != nil {
		t.Fatalf("Failed to end: %v", err)
	}

	var results []repositories.RecognitionResult
	for r := range stream.Results() {
		results = append(results, r)
	}
	if len(results) != 2 {
		t.Fatalf("Expected interim and final results, got %d", len(results))
	}
	if results[0].IsFinal || results[0].Text != "Bonjour" {
		t.Errorf("Unexpected interim result: %+v", results[0])
	}
	if !results[1].IsFinal || results[1].Text != mockPhrases["fr-FR"] {
		t.Errorf("Unexpected final result: %+v", results[1])
	}
}

func TestMockSpeechToTextSilence(t *testing.T) {
	mock := NewMockSpeechToText(zaptest.NewLogger(t))
	stream, _ := mock.InitTranscribeStreaming(context.Background(), repositories.AudioConfig{Language: "fr-FR"})

	stream.End()
	for r := range stream.Results() {
		t.Errorf("Expected no results without audio, got %+v", r)
	}
}
