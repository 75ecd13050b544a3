package entities

import (
	"time"

	"github.com/google/uuid"
)

// TurnRole represents the role of a turn's speaker
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Label is the quality grade assigned to a learner's turn by the scoring call
type Label string

const (
	LabelExcellent Label = "Excellent"
	LabelGreat     Label = "Great"
	LabelGood      Label = "Good"
	LabelOK        Label = "OK"
	LabelPoor      Label = "Poor"
)

// DefaultLabel is applied when scoring fails or returns no usable grade.
const DefaultLabel = LabelOK

// Valid reports whether l is one of the known grades
func (l Label) Valid() bool {
	switch l {
	case LabelExcellent, LabelGreat, LabelGood, LabelOK, LabelPoor:
		return true
	}
	return false
}

// ParseLabel normalizes a grade returned by a remote service, falling back to DefaultLabel
func ParseLabel(s string) Label {
	l := Label(s)
	if l.Valid() {
		return l
	}
	return DefaultLabel
}

// CorrectionDetail is one suggested improvement for a category (grammar, vocabulary, ...)
type CorrectionDetail struct {
	Replacement string `json:"replacement" bson:"replacement"`
	Rationale   string `json:"rationale" bson:"rationale"`
}

// Correction maps a category to its suggestion
type Correction map[string]CorrectionDetail

// Turn is one entry of the conversation history
type Turn struct {
	ID               string               `json:"id" bson:"id"`
	Role             TurnRole             `json:"role" bson:"role"`
	Content          string               `json:"content" bson:"content"`
	Translation      string               `json:"translation,omitempty" bson:"translation,omitempty"`
	Label            Label                `json:"label,omitempty" bson:"label,omitempty"`
	Score            *float64             `json:"score,omitempty" bson:"score,omitempty"`
	ImprovedResponse string               `json:"improvedResponse,omitempty" bson:"improved_response,omitempty"`
	Correction       Correction           `json:"correction,omitempty" bson:"correction,omitempty"`
	Pronunciation    *PronunciationResult `json:"pronunciation,omitempty" bson:"pronunciation,omitempty"`
	IsPending        bool                 `json:"isPending" bson:"-"`
	CreatedAt        time.Time            `json:"createdAt" bson:"created_at"`
}

// NewUserTurn creates a locally identified user turn awaiting its score
func NewUserTurn(content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      TurnRoleUser,
		Content:   content,
		IsPending: true,
		CreatedAt: time.Now(),
	}
}

// NewPendingAssistantTurn creates the "typing" placeholder shown while the reply is in flight
func NewPendingAssistantTurn() Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      TurnRoleAssistant,
		IsPending: true,
		CreatedAt: time.Now(),
	}
}

// TurnPatch carries the fields to merge into a turn. Nil fields are left untouched.
type TurnPatch struct {
	Content          *string
	Translation      *string
	Label            *Label
	Score            *float64
	ImprovedResponse *string
	Correction       Correction
	Pronunciation    *PronunciationResult
	IsPending        *bool
}

// Merge returns a copy of t with every set field of p applied
func (t Turn) Merge(p TurnPatch) Turn {
	if p.Content != nil {
		t.Content = *p.Content
	}
	if p.Translation != nil {
		t.Translation = *p.Translation
	}
	if p.Label != nil {
		t.Label = *p.Label
	}
	if p.Score != nil {
		score := *p.Score
		t.Score = &score
	}
	if p.ImprovedResponse != nil {
		t.ImprovedResponse = *p.ImprovedResponse
	}
	if p.Correction != nil {
		merged := make(Correction, len(t.Correction)+len(p.Correction))
		for k, v := range t.Correction {
			merged[k] = v
		}
		for k, v := range p.Correction {
			merged[k] = v
		}
		t.Correction = merged
	}
	if p.Pronunciation != nil {
		t.Pronunciation = p.Pronunciation
	}
	if p.IsPending != nil {
		t.IsPending = *p.IsPending
	}
	return t
}

// Ptr returns a pointer to v, for building patches inline
func Ptr[T any](v T) *T {
	return &v
}

// PronunciationWord is the per-word breakdown of a pronunciation assessment
type PronunciationWord struct {
	Word          string  `json:"word" bson:"word"`
	AccuracyScore float64 `json:"accuracyScore" bson:"accuracy_score"`
	ErrorType     string  `json:"errorType,omitempty" bson:"error_type,omitempty"`
}

// PronunciationResult is the outcome of the analyze-speech call
type PronunciationResult struct {
	AccuracyScore     float64             `json:"accuracyScore" bson:"accuracy_score"`
	FluencyScore      float64             `json:"fluencyScore" bson:"fluency_score"`
	CompletenessScore float64             `json:"completenessScore" bson:"completeness_score"`
	PronScore         float64             `json:"pronScore" bson:"pron_score"`
	Words             []PronunciationWord `json:"words,omitempty" bson:"words,omitempty"`
}
