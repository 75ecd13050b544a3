package domain

import (
	"time"

	"github.com/cleanaz-dev/sp-academy/domain/entities"
)

// HistoryMessage is the compact history form sent to the reply and score calls
type HistoryMessage struct {
	Role    entities.TurnRole `json:"role"`
	Content string            `json:"content"`
}

// StartSessionRequest opens a practice session record
type StartSessionRequest struct {
	SessionTemplateID string `json:"sessionTemplateId"`
	UserID            string `json:"userId"`
}

// StartSessionResponse carries the id of the created record
type StartSessionResponse struct {
	SessionRecordID string `json:"sessionRecordId"`
}

// ReplyRequest asks for the assistant's next line
type ReplyRequest struct {
	Message        string           `json:"message"`
	History        []HistoryMessage `json:"history"`
	Title          string           `json:"title"`
	Vocabulary     []string         `json:"vocabulary"`
	Dialogue       string           `json:"dialogue"`
	VoiceGender    string           `json:"voiceGender"`
	TargetLanguage string           `json:"targetLanguage"`
	NativeLanguage string           `json:"nativeLanguage"`
}

// ReplyResponse is the assistant's reply. Audio is base64, optionally with a data-URI prefix.
type ReplyResponse struct {
	MessageTranslation string `json:"messageTranslation"`
	TargetLanguageText string `json:"targetLanguageText"`
	NativeLanguageText string `json:"nativeLanguageText"`
	Audio              string `json:"audio,omitempty"`
}

// ScoreRequest asks for a grade of the learner's message
type ScoreRequest struct {
	Message           string           `json:"message"`
	History           []HistoryMessage `json:"history"`
	TargetLanguage    string           `json:"targetLanguage"`
	Vocabulary        []string         `json:"vocabulary"`
	Title             string           `json:"title"`
	SessionTemplateID string           `json:"sessionTemplateId"`
	UserID            string           `json:"userId"`
}

// ScoreResponse is the grade. Every field is optional.
type ScoreResponse struct {
	Label            string              `json:"label,omitempty"`
	Score            *float64            `json:"score,omitempty"`
	ImprovedResponse string              `json:"improvedResponse,omitempty"`
	Corrections      entities.Correction `json:"corrections,omitempty"`
}

// AnalyzeSpeechRequest submits captured audio for pronunciation scoring. Audio is base64.
type AnalyzeSpeechRequest struct {
	Audio             string `json:"audio"`
	Transcript        string `json:"transcript"`
	Dialect           string `json:"dialect"`
	SessionTemplateID string `json:"sessionTemplateId"`
	SessionRecordID   string `json:"sessionRecordId,omitempty"`
}

// UpdateSessionRequest persists the finalized conversation
type UpdateSessionRequest struct {
	Messages           []entities.Turn `json:"messages"`
	PronunciationScore *float64        `json:"pronunciationScore,omitempty"`
}

// UpdateSessionResponse echoes the stored messages
type UpdateSessionResponse struct {
	Messages []entities.Turn `json:"messages"`
}

// TranscriptionTokenRequest asks for a short-lived transcription token
type TranscriptionTokenRequest struct {
	TargetLanguage string `json:"targetLanguage"`
}

// TranscriptionTokenResponse carries the token
type TranscriptionTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// ToHistory converts turns to the compact history form, skipping pending placeholders
func ToHistory(turns []entities.Turn) []HistoryMessage {
	history := make([]HistoryMessage, 0, len(turns))
	for _, t := range turns {
		if t.Role == entities.TurnRoleAssistant && t.IsPending {
			continue
		}
		history = append(history, HistoryMessage{Role: t.Role, Content: t.Content})
	}
	return history
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
