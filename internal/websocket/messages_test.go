package websocket

import (
	"encoding/json"
	"testing"

	"github.com/cleanaz-dev/sp-academy/domain"
)

func TestParseControlMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    domain.RelayMessageType
		wantErr bool
	}{
		{name: "keep alive", message: `{"type":"KeepAlive"}`, want: domain.RelayKeepAlive},
		{name: "close stream", message: `{"type":"CloseStream"}`, want: domain.RelayCloseStream},
		{name: "missing type", message: `{}`, wantErr: true},
		{name: "server message from client", message: `{"type":"Results","transcript":"x"}`, wantErr: true},
		{name: "invalid JSON", message: `{"type":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseControlMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseControlMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && msg.Type != tt.want {
				t.Errorf("Expected type %s, got %s", tt.want, msg.Type)
			}
		})
	}
}

func TestEncodeMessage(t *testing.T) {
	payload, err := EncodeMessage(domain.RelayMessage{Type: domain.RelayResults, Transcript: "Bonjour", IsFinal: true})
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if decoded["type"] != "Results" || decoded["transcript"] != "Bonjour" || decoded["is_final"] != true {
		t.Errorf("Unexpected payload: %s", payload)
	}
}

func TestEncodeErrorWithoutMessage(t *testing.T) {
	payload, err := EncodeMessage(domain.RelayMessage{Type: domain.RelayError})
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	var msg domain.RelayMessage
	json.Unmarshal(payload, &msg)
	if msg.Message != "transcription service error" {
		t.Errorf("Expected generic error label, got %q", msg.Message)
	}
}

func TestEncodeRejectsControlMessages(t *testing.T) {
	if _, err := EncodeMessage(domain.RelayMessage{Type: domain.RelayKeepAlive}); err == nil {
		t.Error("Expected control message to be rejected as outbound")
	}
}
