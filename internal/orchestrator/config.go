package orchestrator

import (
	"time"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

const (
	defaultKeepAliveInterval = 5 * time.Second
	defaultReplyTimeout      = 30 * time.Second
	defaultScoreTimeout      = 30 * time.Second
	defaultAnalyzeTimeout    = 30 * time.Second
	defaultPersistTimeout    = 10 * time.Second
	defaultSampleRate        = 16000
)

// Config holds orchestrator configuration. Zero values take defaults.
type Config struct {
	KeepAliveInterval time.Duration
	ReplyTimeout      time.Duration
	ScoreTimeout      time.Duration
	AnalyzeTimeout    time.Duration
	PersistTimeout    time.Duration

	// Constraints used to open the microphone
	Constraints repositories.CaptureConstraints

	// SecureContext reports whether capture is allowed. Nil means always.
	SecureContext func() bool
}

func (c Config) withDefaults() Config {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = defaultReplyTimeout
	}
	if c.ScoreTimeout <= 0 {
		c.ScoreTimeout = defaultScoreTimeout
	}
	if c.AnalyzeTimeout <= 0 {
		c.AnalyzeTimeout = defaultAnalyzeTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = defaultPersistTimeout
	}
	if c.Constraints.Channels == 0 {
		c.Constraints = DefaultConstraints()
	}
	return c
}

// DefaultConstraints is mono 16 kHz with echo cancellation and noise suppression
func DefaultConstraints() repositories.CaptureConstraints {
	return repositories.CaptureConstraints{
		Channels:         1,
		SampleRate:       defaultSampleRate,
		EchoCancellation: true,
		NoiseSuppression: true,
		MimeTypes:        []string{repositories.MimeTypePCM16},
	}
}
