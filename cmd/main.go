package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/adapters"
	"github.com/cleanaz-dev/sp-academy/adapters/llm"
	"github.com/cleanaz-dev/sp-academy/adapters/mongo"
	"github.com/cleanaz-dev/sp-academy/adapters/stt"
	"github.com/cleanaz-dev/sp-academy/adapters/tts"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/api"
	"github.com/cleanaz-dev/sp-academy/internal/auth"
	"github.com/cleanaz-dev/sp-academy/internal/observability"
	"github.com/cleanaz-dev/sp-academy/internal/websocket"
	"github.com/cleanaz-dev/sp-academy/usecase"
)

func main() {
	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	// Session store
	var sessions repositories.SessionRepository
	if os.Getenv("MONGODB_URI") != "" {
		client, err := mongo.NewClient(ctx, mongo.ConfigFromEnv(), logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Close(context.Background())

		repo := mongo.NewSessionRepository(client.Database, logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("Continuing without session indexes", zap.Error(err))
		}
		sessions = repo
	} else {
		logger.Warn("MONGODB_URI not set, session records are kept in memory")
		sessions = adapters.NewMemorySessionRepository()
	}

	// Language model
	var model repositories.LargeLanguageModel
	if os.Getenv("GEMINI_API_KEY") != "" {
		gemini, err := llm.NewGeminiLLM(ctx, llm.GeminiConfigFromEnv(), logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini client", zap.Error(err))
		}
		model = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, using canned replies")
		model = llm.NewMockLLM()
	}

	// Speech synthesis is optional; replies go out without audio when absent
	var synthesizer repositories.TextToSpeech
	practiceConfig := usecase.PracticeConfig{}
	if os.Getenv("ELEVEN_LABS_API_KEY") != "" {
		elevenLabs, err := tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), logger)
		if err != nil {
			logger.Fatal("Failed to create ElevenLabs client", zap.Error(err))
		}
		synthesizer = elevenLabs
		practiceConfig.SpeechFormat = elevenLabs.OutputFormat()
	} else {
		logger.Warn("ELEVEN_LABS_API_KEY not set, replies carry no audio")
	}

	// Speech recognition behind the transcription relay
	var recognizer repositories.SpeechToText
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		recognizer = stt.NewGoogleSpeechToText(logger)
	} else {
		logger.Warn("GOOGLE_APPLICATION_CREDENTIALS not set, using mock transcription")
		recognizer = stt.NewMockSpeechToText(logger)
	}

	issuer, err := auth.NewTokenIssuer(auth.ConfigFromEnv())
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}

	service := usecase.NewPracticeService(sessions, model, synthesizer, issuer, metrics, practiceConfig, logger)

	hub := websocket.NewHub(recognizer, issuer, metrics, websocket.HubConfig{}, logger)
	go hub.Run(ctx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, service, hub, api.RouteConfig{
		APIKey:   os.Getenv("PRACTICE_API_KEY"),
		Gatherer: registry,
	}, logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Practice server started", zap.String("port", port))

	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
