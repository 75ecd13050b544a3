package websocket

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/auth"
	"github.com/cleanaz-dev/sp-academy/internal/observability"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Connections without audio or keep-alive for this long are closed.
	defaultIdleTimeout = 10 * time.Second

	defaultSampleRate = 16000
	defaultEncoding   = "LINEAR16"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The short-lived token authorizes the connection, not the origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// TokenValidator checks relay tokens
type TokenValidator interface {
	ValidateTranscriptionToken(token string) (*auth.JWTClaims, error)
}

// HubConfig holds relay configuration
type HubConfig struct {
	IdleTimeout time.Duration // Optional: idle close (default: 10s)
}

// Hub maintains the set of active relay clients
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	sttRepo     repositories.SpeechToText
	tokens      TokenValidator
	metrics     *observability.Metrics
	idleTimeout time.Duration

	logger *zap.Logger
}

// NewHub creates a new transcription relay hub
func NewHub(
	sttRepo repositories.SpeechToText,
	tokens TokenValidator,
	metrics *observability.Metrics,
	config HubConfig,
	logger *zap.Logger,
) *Hub {
	idleTimeout := config.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		sttRepo:     sttRepo,
		tokens:      tokens,
		metrics:     metrics,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.metrics.RelayOpened()
			h.logger.Info("Relay client registered",
				zap.String("clientID", client.id),
				zap.String("language", client.language))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.id]
			delete(h.clients, client.id)
			h.mu.Unlock()
			if ok {
				h.metrics.RelayClosed()
			}
			h.logger.Info("Relay client unregistered",
				zap.String("clientID", client.id),
				zap.Int("chunks", client.chunkCount()))
		}
	}
}

// ActiveClients returns the number of open relay connections
func (h *Hub) ActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one relay connection between a learner and the recognizer
type Client struct {
	hub *Hub

	id       string
	language string

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed by resultPump.
	send chan domain.RelayMessage

	sttStreaming repositories.SpeechToTextStreaming

	// Logger
	logger *zap.Logger

	mutex  sync.Mutex
	chunks int
	ended  bool
}

// HandleTranscribe authenticates and upgrades a relay connection. The token
// comes from the query string; the learner's language is taken from it.
func HandleTranscribe(hub *Hub, c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		hub.logger.Warn("Relay connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, domain.ErrorResponse{
			Error:   "missing_token",
			Message: "Transcription token is required",
		})
	}

	claims, err := hub.tokens.ValidateTranscriptionToken(token)
	if err != nil {
		hub.logger.Warn("Relay connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, domain.ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired transcription token",
		})
	}

	audioConfig := audioConfigFromQuery(c, claims.TargetLanguage)
	if audioConfig.Language == "" {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{
			Error:   "missing_language",
			Message: "Transcription language is required",
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		id:       uuid.NewString(),
		language: audioConfig.Language,
		conn:     conn,
		send:     make(chan domain.RelayMessage, 64),
		logger:   hub.logger,
	}

	// The recognizer outlives the upgrade request
	stream, err := hub.sttRepo.InitTranscribeStreaming(context.Background(), audioConfig)
	if err != nil {
		hub.logger.Error("Failed to initialize streaming transcription", zap.Error(err))
		hub.metrics.ObserveProviderError("stt")
		client.writeNow(domain.RelayMessage{Type: domain.RelayError, Message: "failed to initialize transcription"})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""), time.Now().Add(writeWait))
		conn.Close()
		return nil
	}
	client.sttStreaming = stream

	client.hub.register <- client
	client.send <- domain.RelayMessage{Type: domain.RelayOpen}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.resultPump()
	go client.readPump()

	return nil
}

func audioConfigFromQuery(c echo.Context, language string) repositories.AudioConfig {
	config := repositories.AudioConfig{
		SampleRate:     defaultSampleRate,
		Encoding:       defaultEncoding,
		Language:       language,
		InterimResults: true,
	}
	if config.Language == "" {
		config.Language = c.QueryParam("language")
	}
	if v, err := strconv.Atoi(c.QueryParam("sample_rate")); err == nil && v > 0 {
		config.SampleRate = v
	}
	if v := c.QueryParam("encoding"); v != "" {
		config.Encoding = v
	}
	if v, err := strconv.ParseBool(c.QueryParam("interim_results")); err == nil {
		config.InterimResults = v
	}
	return config
}

// readPump pumps audio and control frames from the learner into the recognizer.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.endStream()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.idleTimeout))

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				c.logger.Info("Closing idle relay connection", zap.String("clientID", c.id))
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket error", zap.String("clientID", c.id), zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if done := c.processMessage(message); done {
				return
			}
		case websocket.BinaryMessage:
			c.conn.SetReadDeadline(time.Now().Add(c.hub.idleTimeout))
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// processMessage handles a control frame and reports whether the learner is done sending
func (c *Client) processMessage(message []byte) bool {
	msg, err := ParseControlMessage(message)
	if err != nil {
		c.logger.Warn("Invalid control message", zap.String("clientID", c.id), zap.Error(err))
		return false
	}

	switch msg.Type {
	case domain.RelayKeepAlive:
		c.conn.SetReadDeadline(time.Now().Add(c.hub.idleTimeout))
		return false
	case domain.RelayCloseStream:
		c.logger.Debug("Learner closed the stream", zap.String("clientID", c.id))
		return true
	}
	return false
}

// processBinaryAudioChunk forwards one audio frame to the recognizer
func (c *Client) processBinaryAudioChunk(data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.ended {
		return
	}
	c.chunks++

	if err := c.sttStreaming.Stream(data); err != nil {
		c.logger.Error("Failed to stream audio data",
			zap.String("clientID", c.id),
			zap.Error(err))
	}
}

// endStream half-closes the recognizer so it flushes its final results
func (c *Client) endStream() {
	c.mutex.Lock()
	if c.ended {
		c.mutex.Unlock()
		return
	}
	c.ended = true
	c.mutex.Unlock()

	if err := c.sttStreaming.End(); err != nil {
		c.logger.Warn("Failed to end transcription stream",
			zap.String("clientID", c.id),
			zap.Error(err))
	}
}

func (c *Client) chunkCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.chunks
}

// resultPump forwards recognizer results to the learner and closes the
// outbound channel once recognition ends.
func (c *Client) resultPump() {
	defer close(c.send)

	for result := range c.sttStreaming.Results() {
		c.send <- domain.RelayMessage{
			Type:       domain.RelayResults,
			Transcript: result.Text,
			IsFinal:    result.IsFinal,
		}
	}

	if err := c.sttStreaming.Err(); err != nil {
		c.hub.metrics.ObserveProviderError("stt")
		c.logger.Error("Recognition failed", zap.String("clientID", c.id), zap.Error(err))
		c.send <- domain.RelayMessage{Type: domain.RelayError, Message: "recognition failed"}
	}
}

// writePump pumps messages from the recognizer to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.writeNow(message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				// Keep draining so resultPump never blocks
				go func() {
					for range c.send {
					}
				}()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeNow(message domain.RelayMessage) error {
	payload, err := EncodeMessage(message)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
