package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/adapters/backend"
	"github.com/cleanaz-dev/sp-academy/adapters/capture"
	"github.com/cleanaz-dev/sp-academy/adapters/speaker"
	"github.com/cleanaz-dev/sp-academy/adapters/stt"
	"github.com/cleanaz-dev/sp-academy/domain/entities"
	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/observability"
	"github.com/cleanaz-dev/sp-academy/internal/orchestrator"
	"github.com/cleanaz-dev/sp-academy/internal/playback"
)

const usage = `commands:
  r         start recording (Enter also works)
  s         stop recording
  m         toggle autoplay mute
  p <n>     replay the reply of assistant turn n
  h         show the conversation
  c         clear the session and start a new one
  q         quit`

func main() {
	var (
		templateID = flag.String("template", "", "session template id")
		userID     = flag.String("user", "", "learner id")
		targetLang = flag.String("lang", "fr-FR", "target language tag")
		nativeLang = flag.String("native", "English", "learner's native language")
		dialect    = flag.String("dialect", "", "expected accent for pronunciation scoring (default: -lang)")
		voice      = flag.String("voice", "female", "assistant voice gender")
		title      = flag.String("title", "", "scenario title")
		vocabulary = flag.String("vocab", "", "comma-separated vocabulary to practice")
		wavPath    = flag.String("wav", "", "replay this 16 kHz mono WAV file instead of the microphone")
		muted      = flag.Bool("mute", false, "start with autoplay muted")
		silent     = flag.Bool("silent", false, "never open an output device; replies are cached only")
		debug      = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	_ = godotenv.Load()

	logger := newLogger(*debug)
	defer logger.Sync()

	if *templateID == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "-template and -user are required")
		flag.Usage()
		os.Exit(2)
	}
	if *dialect == "" {
		*dialect = *targetLang
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := backend.NewClient(backend.ConfigFromEnv(), logger)
	if err != nil {
		logger.Fatal("Failed to create practice API client", zap.Error(err))
	}

	relayConfig := stt.RelayConfigFromEnv()
	if relayConfig.URL == "" {
		relayConfig.URL = stt.RelayURLFromBase(client.BaseURL())
	}
	transcriber, err := stt.NewRelayTranscriber(relayConfig, logger)
	if err != nil {
		logger.Fatal("Failed to create transcriber", zap.Error(err))
	}

	var device repositories.CaptureDevice = capture.NewPortAudioDevice(logger)
	if *wavPath != "" {
		device = capture.NewWAVFileDevice(*wavPath, true, logger)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	var out repositories.Speaker
	if !*silent {
		out = speaker.NewPortAudioSpeaker(speaker.Config{}, logger)
	}
	player := playback.NewBuffer(out, playback.Config{
		CacheSize: playback.DefaultCacheSize,
		Muted:     *muted,
	}, func(string) { metrics.ObserveEviction() }, logger)

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Capture:     device,
		Transcriber: transcriber,
		Backend:     client,
		Player:      player,
		Metrics:     metrics,
	}, orchestrator.Config{
		SecureContext: func() bool { return backend.IsSecureOrigin(client.BaseURL()) },
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create orchestrator", zap.Error(err))
	}
	defer func() {
		orch.Close()
		player.Wait()
	}()

	params := entities.ConversationSession{
		TemplateID:     *templateID,
		UserID:         *userID,
		Title:          *title,
		Vocabulary:     splitList(*vocabulary),
		VoiceGender:    *voice,
		TargetLanguage: *targetLang,
		NativeLanguage: *nativeLang,
		Dialect:        *dialect,
	}
	session, err := orch.StartSession(ctx, params)
	if err != nil {
		logger.Fatal("Failed to start session", zap.Error(err))
	}
	fmt.Printf("Session %s started. %s\n\n", session.SessionID, usage)

	go watch(ctx, orch)

	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			commands <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-commands:
			if !ok {
				return
			}
			if !handle(ctx, orch, player, params, line) {
				return
			}
		}
	}
}

// handle runs one command line; it returns false on quit
func handle(ctx context.Context, orch *orchestrator.Orchestrator, player *playback.Buffer, params entities.ConversationSession, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "", "r":
		if err := orch.Start(ctx); err != nil {
			if !errors.Is(err, orchestrator.ErrCaptureCancelled) {
				fmt.Println("Cannot record:", err)
			}
			return true
		}
		fmt.Println("Recording... (s to stop)")
	case "s":
		orch.Stop()
	case "m":
		muted := !player.Muted()
		orch.SetMuted(muted)
		fmt.Println("Autoplay muted:", muted)
	case "p":
		replay(ctx, orch, arg)
	case "h":
		printHistory(orch.History())
	case "c":
		orch.ClearSession(ctx)
		session, err := orch.StartSession(ctx, params)
		if err != nil {
			fmt.Println("Cannot start a new session:", err)
			return true
		}
		fmt.Println("New session", session.SessionID)
	case "q":
		return false
	default:
		fmt.Println(usage)
	}
	return true
}

// watch prints state transitions and the turn once it settles
func watch(ctx context.Context, orch *orchestrator.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-orch.StateChanges():
			switch state {
			case orchestrator.StateTranscribing:
				fmt.Println("Transcribing...")
			case orchestrator.StateAwaitingReplyAndScore:
				fmt.Println("Waiting for the reply...")
			case orchestrator.StateSettled:
				turns := orch.History()
				if len(turns) >= 2 {
					printHistory(turns[len(turns)-2:])
				}
			case orchestrator.StateError:
				if err := orch.Err(); err != nil {
					fmt.Println("Error:", err)
				}
			}
		}
	}
}

func replay(ctx context.Context, orch *orchestrator.Orchestrator, arg string) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		fmt.Println("usage: p <n>")
		return
	}
	count := 0
	for _, turn := range orch.History() {
		if turn.Role != entities.TurnRoleAssistant {
			continue
		}
		count++
		if count == n {
			if err := orch.Replay(ctx, turn.ID); err != nil {
				fmt.Println("Cannot replay:", err)
			}
			return
		}
	}
	fmt.Println("No assistant turn", n)
}

func printHistory(turns []entities.Turn) {
	assistant := 0
	for _, turn := range turns {
		switch turn.Role {
		case entities.TurnRoleUser:
			line := fmt.Sprintf("  you: %s", turn.Content)
			if turn.Label != "" {
				line += fmt.Sprintf("  [%s]", turn.Label)
			}
			if turn.Pronunciation != nil {
				line += fmt.Sprintf("  pronunciation %.0f", turn.Pronunciation.PronScore)
			}
			fmt.Println(line)
			if turn.ImprovedResponse != "" {
				fmt.Printf("       better: %s\n", turn.ImprovedResponse)
			}
			for category, c := range turn.Correction {
				fmt.Printf("       %s: %s (%s)\n", category, c.Replacement, c.Rationale)
			}
		case entities.TurnRoleAssistant:
			assistant++
			if turn.IsPending {
				fmt.Printf("  %d> ...\n", assistant)
				continue
			}
			fmt.Printf("  %d> %s\n", assistant, turn.Content)
			if turn.Translation != "" {
				fmt.Printf("     (%s)\n", turn.Translation)
			}
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func newLogger(debug bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
