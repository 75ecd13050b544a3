package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

const (
	relayWriteWait   = 5 * time.Second
	relayDialTimeout = 10 * time.Second
	defaultRelayPath = "/ws/transcribe"
)

// ErrSessionFinished is returned by Send after Finish
var ErrSessionFinished = errors.New("transcription session finished")

// RelayConfig holds configuration for the relay transcriber
type RelayConfig struct {
	URL        string // Required: ws:// or wss:// URL of the relay endpoint
	Encoding   string // Optional: recognizer encoding (default: "LINEAR16")
	SampleRate int    // Optional: sample rate of the audio frames (default: 16000)
}

// RelayConfigFromEnv reads the relay configuration from environment variables.
// Without TRANSCRIPTION_RELAY_URL the URL is derived from PRACTICE_API_URL.
func RelayConfigFromEnv() RelayConfig {
	config := RelayConfig{
		URL:      os.Getenv("TRANSCRIPTION_RELAY_URL"),
		Encoding: os.Getenv("TRANSCRIPTION_ENCODING"),
	}
	if config.URL == "" {
		if base := os.Getenv("PRACTICE_API_URL"); base != "" {
			config.URL = RelayURLFromBase(base)
		}
	}
	if rate := os.Getenv("TRANSCRIPTION_SAMPLE_RATE"); rate != "" {
		if v, err := strconv.Atoi(rate); err == nil && v > 0 {
			config.SampleRate = v
		}
	}
	return config
}

// RelayURLFromBase turns an http(s) API base URL into the relay's ws(s) URL
func RelayURLFromBase(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + defaultRelayPath
}

// RelayTranscriber opens transcription sessions against the practice backend's relay
type RelayTranscriber struct {
	url        string
	encoding   string
	sampleRate int
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

var _ repositories.StreamingTranscriber = (*RelayTranscriber)(nil)

// NewRelayTranscriber creates a new relay transcriber
func NewRelayTranscriber(config RelayConfig, logger *zap.Logger) (*RelayTranscriber, error) {
	if config.URL == "" {
		return nil, errors.New("transcription relay URL is required")
	}
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay URL must use ws or wss, got %q", u.Scheme)
	}

	encoding := config.Encoding
	if encoding == "" {
		encoding = "LINEAR16"
	}
	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	return &RelayTranscriber{
		url:        config.URL,
		encoding:   encoding,
		sampleRate: sampleRate,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: relayDialTimeout,
		},
		logger: logger,
	}, nil
}

// Open dials the relay. The returned session emits Open once the relay is
// ready for audio.
func (r *RelayTranscriber) Open(ctx context.Context, token, languageHint string) (repositories.TranscriptionSession, error) {
	u, err := url.Parse(r.url)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("language", languageHint)
	q.Set("encoding", r.encoding)
	q.Set("sample_rate", strconv.Itoa(r.sampleRate))
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial transcription relay (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial transcription relay: %w", err)
	}

	s := &RelaySession{
		conn:   conn,
		events: make(chan repositories.TranscriptionEvent, 32),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		logger: r.logger,
	}
	go s.readPump()

	r.logger.Debug("Transcription relay connected", zap.String("language", languageHint))
	return s, nil
}

// RelaySession is one open relay connection
type RelaySession struct {
	conn   *websocket.Conn
	events chan repositories.TranscriptionEvent
	done   chan struct{}
	// stop is closed by Finish; the reader may be gone after that
	stop   chan struct{}
	logger *zap.Logger

	writeMu  sync.Mutex
	finished bool
	once     sync.Once
}

var _ repositories.TranscriptionSession = (*RelaySession)(nil)

func (s *RelaySession) Events() <-chan repositories.TranscriptionEvent {
	return s.events
}

// Send forwards one audio chunk as a binary frame
func (s *RelaySession) Send(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.finished {
		return ErrSessionFinished
	}
	s.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// KeepAlive tells the relay the connection is still in use
func (s *RelaySession) KeepAlive() error {
	return s.writeControl(domain.RelayKeepAlive)
}

// Finish asks the relay to flush pending results and close. It never blocks
// on the relay and is safe to call more than once.
func (s *RelaySession) Finish() error {
	s.writeMu.Lock()
	if s.finished {
		s.writeMu.Unlock()
		return nil
	}
	s.finished = true
	close(s.stop)
	s.writeMu.Unlock()

	err := s.writeControlUnchecked(domain.RelayCloseStream)

	// The relay closes after flushing; bound how long we keep the socket around.
	go func() {
		select {
		case <-s.done:
		case <-time.After(relayDialTimeout):
			s.close()
		}
	}()
	return err
}

func (s *RelaySession) writeControl(t domain.RelayMessageType) error {
	s.writeMu.Lock()
	finished := s.finished
	s.writeMu.Unlock()
	if finished {
		return ErrSessionFinished
	}
	return s.writeControlUnchecked(t)
}

func (s *RelaySession) writeControlUnchecked(t domain.RelayMessageType) error {
	payload, err := json.Marshal(domain.RelayMessage{Type: t})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", t, err)
	}
	return nil
}

func (s *RelaySession) close() {
	s.once.Do(func() {
		s.conn.Close()
	})
}

// readPump turns relay frames into transcription events. Events is closed
// after the Close event.
func (s *RelaySession) readPump() {
	defer func() {
		s.emit(repositories.TranscriptionEvent{Type: repositories.TranscriptionEventClose})
		close(s.events)
		close(s.done)
		s.close()
	}()

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Transcription relay closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg domain.RelayMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Warn("Failed to parse relay message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case domain.RelayOpen:
			s.emit(repositories.TranscriptionEvent{Type: repositories.TranscriptionEventOpen})
		case domain.RelayResults:
			s.emit(repositories.TranscriptionEvent{
				Type:    repositories.TranscriptionEventTranscript,
				Text:    msg.Transcript,
				IsFinal: msg.IsFinal,
			})
		case domain.RelayError:
			s.emit(repositories.TranscriptionEvent{
				Type:    repositories.TranscriptionEventError,
				Message: msg.Message,
			})
		default:
			s.logger.Debug("Ignoring relay message", zap.String("type", string(msg.Type)))
		}
	}
}

// emit delivers ev. Once the session is finished nobody may be reading, so
// events that do not fit the buffer are dropped.
func (s *RelaySession) emit(ev repositories.TranscriptionEvent) {
	select {
	case s.events <- ev:
	case <-s.stop:
		select {
		case s.events <- ev:
		default:
		}
	}
}
