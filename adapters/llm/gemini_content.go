package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// convertHistory converts repository messages to Gemini format
func convertHistory(messages []repositories.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages)+1)

	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		var role genai.Role
		switch msg.Role {
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			// Gemini has no system role inside contents
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return contents
}

// decodeJSON decodes a model answer into out, tolerating markdown code fences
func decodeJSON(text string, out interface{}) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return nil
}

func preview(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:80]
}
