package repositories

import "context"

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// GenerateJSON runs a chat completion and decodes the model's JSON answer into out
	GenerateJSON(ctx context.Context, req ChatRequest, out interface{}) error
	// AnalyzeAudio sends audio alongside a prompt and decodes the JSON answer into out
	AnalyzeAudio(ctx context.Context, prompt string, audio []byte, mimeType string, out interface{}) error
}

// ChatRequest is a single structured-output completion
type ChatRequest struct {
	// Task names the completion for logs and mocks, e.g. "reply" or "score"
	Task         string
	SystemPrompt string
	History      []ChatMessage
	Message      string
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)
