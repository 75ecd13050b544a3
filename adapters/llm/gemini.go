package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 1024
	defaultTimeoutSeconds = 25
	maxAttempts           = 3
)

// GeminiConfig holds configuration for the Gemini adapter
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model (default: "gemini-2.0-flash")
// - Temperature, TopP, TopK, MaxOutputTokens, TimeoutSeconds
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// GeminiConfigFromEnv reads the Gemini configuration from environment variables
func GeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	}
	if v := os.Getenv("GEMINI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			config.Temperature = float32(f)
		}
	}
	if v := os.Getenv("GEMINI_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.TimeoutSeconds = n
		}
	}
	return config
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}
	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}
	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client          *genai.Client
	logger          *zap.Logger
	model           string
	temperature     float32
	topP            float32
	topK            float32
	maxOutputTokens int
	timeout         time.Duration
}

var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}
	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	topP := config.TopP
	if topP == 0 {
		topP = defaultTopP
	}
	topK := config.TopK
	if topK == 0 {
		topK = defaultTopK
	}
	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxTokens
	}
	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	return &GeminiLLM{
		client:          client,
		logger:          logger,
		model:           model,
		temperature:     temperature,
		topP:            topP,
		topK:            topK,
		maxOutputTokens: maxOutputTokens,
		timeout:         time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// GenerateJSON runs a structured-output completion and decodes the answer into out
func (g *GeminiLLM) GenerateJSON(ctx context.Context, req repositories.ChatRequest, out interface{}) error {
	contents := convertHistory(req.History)
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))

	config := g.jsonConfig()
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	text, err := g.generate(ctx, req.Task, contents, config)
	if err != nil {
		return err
	}
	if err := decodeJSON(text, out); err != nil {
		g.logger.Warn("Model returned malformed JSON",
			zap.String("task", req.Task),
			zap.String("response_preview", preview(text)))
		return err
	}
	return nil
}

// AnalyzeAudio sends inline audio with a prompt and decodes the JSON answer into out
func (g *GeminiLLM) AnalyzeAudio(ctx context.Context, prompt string, audio []byte, mimeType string, out interface{}) error {
	if len(audio) == 0 {
		return fmt.Errorf("audio cannot be empty")
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(audio, mimeType),
		}, genai.RoleUser),
	}

	text, err := g.generate(ctx, "analyze-audio", contents, g.jsonConfig())
	if err != nil {
		return err
	}
	return decodeJSON(text, out)
}

func (g *GeminiLLM) jsonConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		TopP:             genai.Ptr(g.topP),
		TopK:             genai.Ptr(g.topK),
		MaxOutputTokens:  int32(g.maxOutputTokens),
		ResponseMIMEType: "application/json",
	}
}

// generate calls the model with retries and returns the concatenated text of the first candidate
func (g *GeminiLLM) generate(ctx context.Context, task string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.String("task", task),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
			case <-ctx.Done():
				return "", fmt.Errorf("gemini %s: %w", task, ctx.Err())
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", task, err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini %s: no content generated", task)
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("gemini %s: empty response", task)
	}

	g.logger.Debug("Gemini completion",
		zap.String("task", task),
		zap.String("response_preview", preview(text)))
	return text, nil
}
