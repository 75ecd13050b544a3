package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/observability"
	"github.com/cleanaz-dev/sp-academy/internal/websocket"
	"github.com/cleanaz-dev/sp-academy/usecase"
)

// userIDHeader optionally names the learner a transcription token is issued to
const userIDHeader = "X-User-ID"

// RouteConfig holds the API settings
type RouteConfig struct {
	// APIKey, when set, is required as a Bearer token on every /api/v1 route
	APIKey string
	// Gatherer backs GET /metrics; nil disables the route
	Gatherer prometheus.Gatherer
}

type handler struct {
	service PracticeService
	logger  *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, service PracticeService, hub *websocket.Hub, config RouteConfig, logger *zap.Logger) {
	h := &handler{service: service, logger: logger}

	e.GET("/health", func(c echo.Context) error {
		relays := 0
		if hub != nil {
			relays = hub.ActiveClients()
		}
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: "sp-academy-practice",
			Relays:  relays,
		})
	})

	if config.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(observability.MetricsHandler(config.Gatherer)))
	}

	v1 := e.Group("/api/v1", requireAPIKey(config.APIKey, logger))

	v1.POST("/sessions", h.startSession)
	v1.PUT("/sessions/:id", h.updateSession)
	v1.DELETE("/sessions/:id", h.deleteSession)
	v1.POST("/conversation/reply", h.reply)
	v1.POST("/conversation/score", h.score)
	v1.POST("/speech/analyze", h.analyzeSpeech)
	v1.POST("/transcription/token", h.transcriptionToken)

	if hub != nil {
		e.GET("/ws/transcribe", func(c echo.Context) error {
			return websocket.HandleTranscribe(hub, c)
		})
	}
}

// requireAPIKey rejects requests without the configured Bearer key
func requireAPIKey(apiKey string, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				logger.Warn("API request rejected: invalid key",
					zap.String("path", c.Path()),
					zap.String("remoteIP", c.RealIP()))
				return c.JSON(http.StatusUnauthorized, domain.ErrorResponse{
					Error:   codeUnauthorized,
					Message: "A valid API key is required",
				})
			}
			return next(c)
		}
	}
}

func (h *handler) startSession(c echo.Context) error {
	var req domain.StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, err)
	}
	resp, err := h.service.StartSession(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "start session", err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *handler) reply(c echo.Context) error {
	var req domain.ReplyRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, err)
	}
	resp, err := h.service.Reply(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "reply", err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) score(c echo.Context) error {
	var req domain.ScoreRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, err)
	}
	resp, err := h.service.Score(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "score", err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) analyzeSpeech(c echo.Context) error {
	var req domain.AnalyzeSpeechRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, err)
	}
	resp, err := h.service.AnalyzeSpeech(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "analyze speech", err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) updateSession(c echo.Context) error {
	var req domain.UpdateSessionRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, err)
	}
	resp, err := h.service.UpdateSession(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return h.fail(c, "update session", err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) deleteSession(c echo.Context) error {
	if err := h.service.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, "delete session", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) transcriptionToken(c echo.Context) error {
	var req domain.TranscriptionTokenRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, err)
	}
	resp, err := h.service.TranscriptionToken(c.Request().Context(), c.Request().Header.Get(userIDHeader), req)
	if err != nil {
		return h.fail(c, "transcription token", err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) badRequest(c echo.Context, err error) error {
	h.logger.Warn("Failed to bind request", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{
		Error:   codeInvalidRequest,
		Message: "Invalid request format",
	})
}

// fail maps service errors to HTTP statuses
func (h *handler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: codeInvalidRequest, Message: err.Error()})
	case errors.Is(err, repositories.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: codeNotFound, Message: "Session not found"})
	case c.Request().Context().Err() != nil:
		h.logger.Info("Request cancelled", zap.String("operation", op))
		return c.NoContent(http.StatusRequestTimeout)
	}

	h.logger.Error("Request failed", zap.String("operation", op), zap.Error(err))
	status, code := http.StatusInternalServerError, codeInternal
	if op == "reply" || op == "score" || op == "analyze speech" {
		status, code = http.StatusBadGateway, codeUpstream
	}
	return c.JSON(status, domain.ErrorResponse{Error: code, Message: "Failed to " + op})
}
