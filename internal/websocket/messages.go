package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/cleanaz-dev/sp-academy/domain"
)

// ParseControlMessage validates a text frame sent by the learner. Only
// KeepAlive and CloseStream are accepted.
func ParseControlMessage(messageBytes []byte) (*domain.RelayMessage, error) {
	var msg domain.RelayMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch msg.Type {
	case domain.RelayKeepAlive, domain.RelayCloseStream:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("message missing type field")
	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
}

// EncodeMessage validates and serializes a frame sent to the learner
func EncodeMessage(msg domain.RelayMessage) ([]byte, error) {
	switch msg.Type {
	case domain.RelayOpen, domain.RelayResults:
	case domain.RelayError:
		if msg.Message == "" {
			msg.Message = "transcription service error"
		}
	default:
		return nil, fmt.Errorf("unsupported outbound message type: %s", msg.Type)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}
	return payload, nil
}
