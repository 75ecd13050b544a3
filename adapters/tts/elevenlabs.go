package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

const (
	defaultAPIBaseURL    = "https://api.elevenlabs.io/v1"
	defaultFemaleVoiceID = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultMaleVoiceID   = "pNInz6obpgDQGcFMaJgB"   // Adam voice
	defaultChunkSize     = 4096                     // Size of audio chunks to stream
	defaultOutputFormat  = "pcm_16000"              // 16 kHz PCM, wrapped as WAV for the learner
	defaultModelID       = "eleven_multilingual_v2" // Default model ID
	defaultStability     = 0.5                      // Default voice stability
	defaultClarity       = 0.75                     // Default voice clarity/similarity_boost
)

// ElevenLabsConfig holds configuration for the ElevenLabsTTS adapter
// Required fields:
// - APIKey: Your Eleven Labs API key
// Optional fields with defaults:
// - APIBaseURL: The base URL for the Eleven Labs API (default: "https://api.elevenlabs.io/v1")
// - FemaleVoiceID / MaleVoiceID: voices picked by the session's voice gender
// - ModelID: The model ID to use (default: "eleven_multilingual_v2")
// - OutputFormat: The output format (default: "pcm_16000")
// - ChunkSize: The size of audio chunks to stream (default: 4096)
// - Stability: Voice stability value between 0 and 1 (default: 0.5)
// - Clarity: Voice clarity/similarity boost value between 0 and 1 (default: 0.75)
type ElevenLabsConfig struct {
	APIKey        string  // Required: Your Eleven Labs API key
	APIBaseURL    string  // Optional: The base URL for the Eleven Labs API
	FemaleVoiceID string  // Optional: Voice for "female" sessions
	MaleVoiceID   string  // Optional: Voice for "male" sessions
	ModelID       string  // Optional: The model ID to use
	OutputFormat  string  // Optional: The output format
	ChunkSize     int     // Optional: The size of audio chunks to stream
	Stability     float64 // Optional: Voice stability value between 0 and 1
	Clarity       float64 // Optional: Voice clarity/similarity boost value between 0 and 1
}

// ElevenLabsTTS implements TextToSpeech interface using Eleven Labs API
type ElevenLabsTTS struct {
	apiKey        string
	apiBaseURL    string
	femaleVoiceID string
	maleVoiceID   string
	modelID       string
	outputFormat  string
	chunkSize     int
	stability     float64
	clarity       float64
	httpClient    *http.Client
	logger        *zap.Logger
}

// Ensure ElevenLabsTTS implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}

	if config.Stability != 0 && (config.Stability < 0 || config.Stability > 1) {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}

	if config.Clarity != 0 && (config.Clarity < 0 || config.Clarity > 1) {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}

	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}

	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := strings.TrimRight(config.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	femaleVoiceID := config.FemaleVoiceID
	if femaleVoiceID == "" {
		femaleVoiceID = defaultFemaleVoiceID
	}
	maleVoiceID := config.MaleVoiceID
	if maleVoiceID == "" {
		maleVoiceID = defaultMaleVoiceID
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", modelID))
	}

	outputFormat := config.OutputFormat
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
		logger.Info("Using default output format", zap.String("outputFormat", outputFormat))
	}

	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}

	stability := config.Stability
	if stability == 0 {
		stability = defaultStability
	}

	clarity := config.Clarity
	if clarity == 0 {
		clarity = defaultClarity
	}

	return &ElevenLabsTTS{
		apiKey:        config.APIKey,
		apiBaseURL:    apiBaseURL,
		femaleVoiceID: femaleVoiceID,
		maleVoiceID:   maleVoiceID,
		modelID:       modelID,
		outputFormat:  outputFormat,
		chunkSize:     chunkSize,
		stability:     stability,
		clarity:       clarity,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		logger:        logger,
	}, nil
}

// OutputFormat returns the configured ElevenLabs output format, e.g. "pcm_16000"
func (e *ElevenLabsTTS) OutputFormat() string {
	return e.outputFormat
}

// VoiceID returns the voice used for a session's voice gender
func (e *ElevenLabsTTS) VoiceID(gender string) string {
	if strings.EqualFold(gender, "male") {
		return e.maleVoiceID
	}
	return e.femaleVoiceID
}

// ConvertTextToSpeech converts text to speech using Eleven Labs API. The
// channel is closed when the stream ends; a failed request closes it empty.
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text string, voice repositories.VoiceOptions) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	voiceID := e.VoiceID(voice.Gender)
	e.logger.Debug("Converting text to speech",
		zap.Int("textLength", len(text)),
		zap.String("voiceID", voiceID),
		zap.String("language", voice.Language))

	request := ElevenLabsRequest{
		Text:                   text,
		ModelID:                e.modelID,
		LanguageCode:           languageCode(voice.Language),
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.stability,
			SimilarityBoost: e.clarity,
			UseSpeakerBoost: true,
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.apiBaseURL, voiceID, e.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// PCM format requires audio/pcm accept header
	acceptHeader := "audio/mpeg"
	if strings.HasPrefix(e.outputFormat, "pcm") {
		acceptHeader = "audio/pcm"
	}
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	audioChan := make(chan []byte, 10)

	go func() {
		defer close(audioChan)

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			e.logger.Error("Failed to execute HTTP request", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			e.logger.Error("Eleven Labs API returned error",
				zap.Int("statusCode", resp.StatusCode),
				zap.String("response", string(errorBody)))
			return
		}

		buffer := make([]byte, e.chunkSize)
		totalBytes := 0
		for {
			n, err := resp.Body.Read(buffer)
			if n > 0 {
				totalBytes += n
				chunk := make([]byte, n)
				copy(chunk, buffer[:n])

				select {
				case audioChan <- chunk:
				case <-ctx.Done():
					e.logger.Warn("Context cancelled while sending audio chunk")
					return
				}
			}

			if err == io.EOF {
				e.logger.Debug("Finished streaming audio data", zap.Int("totalBytes", totalBytes))
				return
			}
			if err != nil {
				e.logger.Error("Error reading response body", zap.Error(err))
				return
			}
		}
	}()

	return audioChan, nil
}

// languageCode turns a BCP 47 tag such as "fr-FR" into ElevenLabs' ISO 639-1 code
func languageCode(tag string) string {
	if tag == "" {
		return ""
	}
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// NewElevenLabsConfigFromEnv creates a new ElevenLabsConfig from environment variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:        os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:    os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		FemaleVoiceID: os.Getenv("ELEVEN_LABS_FEMALE_VOICE_ID"),
		MaleVoiceID:   os.Getenv("ELEVEN_LABS_MALE_VOICE_ID"),
		ModelID:       os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat:  os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	if chunkSizeStr := os.Getenv("ELEVEN_LABS_CHUNK_SIZE"); chunkSizeStr != "" {
		if chunkSize, err := strconv.Atoi(chunkSizeStr); err == nil && chunkSize > 0 {
			config.ChunkSize = chunkSize
		}
	}

	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}

	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}
