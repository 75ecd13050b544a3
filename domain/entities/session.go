package entities

import (
	"errors"
	"time"
)

// ConversationSession identifies the active practice session with the remote store.
// SessionID is empty until the start-session call has returned.
type ConversationSession struct {
	SessionID      string   `json:"sessionRecordId"`
	TemplateID     string   `json:"sessionTemplateId"`
	UserID         string   `json:"userId"`
	Title          string   `json:"title"`
	Vocabulary     []string `json:"vocabulary"`
	Dialogue       string   `json:"dialogue"`
	VoiceGender    string   `json:"voiceGender"`
	TargetLanguage string   `json:"targetLanguage"`
	NativeLanguage string   `json:"nativeLanguage"`
	Dialect        string   `json:"dialect"`
}

// Started reports whether the remote store has issued a record id
func (s *ConversationSession) Started() bool {
	return s != nil && s.SessionID != ""
}

// Validate validates the parameters needed to start a session
func (s *ConversationSession) Validate() error {
	if s.TemplateID == "" {
		return errors.New("session template id is required")
	}
	if s.UserID == "" {
		return errors.New("user id is required")
	}
	if s.TargetLanguage == "" {
		return errors.New("target language is required")
	}
	return nil
}

// SessionRecord is the persisted form of a practice session
type SessionRecord struct {
	ID                 string    `json:"id" bson:"-"`
	TemplateID         string    `json:"sessionTemplateId" bson:"session_template_id"`
	UserID             string    `json:"userId" bson:"user_id"`
	Messages           []Turn    `json:"messages" bson:"messages"`
	PronunciationScore *float64  `json:"pronunciationScore,omitempty" bson:"pronunciation_score,omitempty"`
	CreatedAt          time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt          time.Time `json:"updatedAt" bson:"updated_at"`
}

// NewSessionRecord creates a new empty record for a template and user
func NewSessionRecord(templateID, userID string) *SessionRecord {
	now := time.Now()
	return &SessionRecord{
		TemplateID: templateID,
		UserID:     userID,
		Messages:   make([]Turn, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ReplaceMessages stores the finalized conversation and bumps UpdatedAt
func (r *SessionRecord) ReplaceMessages(messages []Turn, pronunciationScore *float64) {
	r.Messages = messages
	if pronunciationScore != nil {
		r.PronunciationScore = pronunciationScore
	}
	r.UpdatedAt = time.Now()
}

// Validate validates the record data
func (r *SessionRecord) Validate() error {
	if r.TemplateID == "" {
		return errors.New("session_template_id is required")
	}
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}
