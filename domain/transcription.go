package domain

// RelayMessageType is the type field of a JSON frame on the transcription relay
type RelayMessageType string

const (
	// Client to server
	RelayKeepAlive   RelayMessageType = "KeepAlive"
	RelayCloseStream RelayMessageType = "CloseStream"

	// Server to client
	RelayOpen    RelayMessageType = "Open"
	RelayResults RelayMessageType = "Results"
	RelayError   RelayMessageType = "Error"
)

// RelayMessage is a JSON frame on the transcription relay. Audio travels as binary frames.
type RelayMessage struct {
	Type       RelayMessageType `json:"type"`
	Transcript string           `json:"transcript,omitempty"`
	IsFinal    bool             `json:"is_final,omitempty"`
	Message    string           `json:"message,omitempty"`
}
