package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

const (
	defaultBaseURL = "http://localhost:8080"
	defaultTimeout = 45 * time.Second
)

// Config holds configuration for the practice backend client
type Config struct {
	BaseURL string        // Optional: backend base URL (default: "http://localhost:8080")
	APIKey  string        // Optional: sent as a bearer token
	Timeout time.Duration // Optional: per-request ceiling on top of the caller's context
}

// ConfigFromEnv reads the client configuration from environment variables
func ConfigFromEnv() Config {
	config := Config{
		BaseURL: os.Getenv("PRACTICE_API_URL"),
		APIKey:  os.Getenv("PRACTICE_API_KEY"),
	}
	if timeout := os.Getenv("PRACTICE_API_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			config.Timeout = d
		}
	}
	return config
}

// APIError is a non-2xx response from the backend
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("practice API returned %d", e.Status)
	}
	return fmt.Sprintf("practice API returned %d: %s", e.Status, e.Message)
}

// Client implements PracticeBackend over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.PracticeBackend = (*Client)(nil)

// NewClient creates a new practice backend client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
		logger.Info("Using default practice API URL", zap.String("baseURL", baseURL))
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid practice API URL %q: %w", baseURL, err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StartSession implements repositories.PracticeBackend
func (c *Client) StartSession(ctx context.Context, req domain.StartSessionRequest) (domain.StartSessionResponse, error) {
	var resp domain.StartSessionResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/sessions", req, &resp)
	return resp, err
}

// Reply implements repositories.PracticeBackend
func (c *Client) Reply(ctx context.Context, req domain.ReplyRequest) (domain.ReplyResponse, error) {
	var resp domain.ReplyResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/conversation/reply", req, &resp)
	return resp, err
}

// Score implements repositories.PracticeBackend
func (c *Client) Score(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResponse, error) {
	var resp domain.ScoreResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/conversation/score", req, &resp)
	return resp, err
}

// AnalyzeSpeech implements repositories.PracticeBackend
func (c *Client) AnalyzeSpeech(ctx context.Context, req domain.AnalyzeSpeechRequest) (*entities.PronunciationResult, error) {
	var resp entities.PronunciationResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/speech/analyze", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateSession implements repositories.PracticeBackend
func (c *Client) UpdateSession(ctx context.Context, id string, req domain.UpdateSessionRequest) (domain.UpdateSessionResponse, error) {
	var resp domain.UpdateSessionResponse
	err := c.do(ctx, http.MethodPut, "/api/v1/sessions/"+url.PathEscape(id), req, &resp)
	return resp, err
}

// DeleteSession implements repositories.PracticeBackend
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil, nil)
}

// TranscriptionToken implements repositories.PracticeBackend
func (c *Client) TranscriptionToken(ctx context.Context, targetLanguage string) (string, error) {
	var resp domain.TranscriptionTokenResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/transcription/token",
		domain.TranscriptionTokenRequest{TargetLanguage: targetLanguage}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("empty transcription token")
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Practice API call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode}
		var decoded domain.ErrorResponse
		if json.Unmarshal(errorBody, &decoded) == nil {
			apiErr.Code = decoded.Error
			apiErr.Message = decoded.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(errorBody))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// IsSecureOrigin reports whether audio may be captured for a backend at rawURL:
// https, or plain http on a loopback host.
func IsSecureOrigin(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "https", "wss":
		return true
	case "http", "ws":
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	}
	return false
}
