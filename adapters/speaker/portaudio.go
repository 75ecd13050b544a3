package speaker

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/wavcodec"
)

// Config holds the speaker settings for payloads without a WAV header
type Config struct {
	SampleRate int
	Channels   int
}

// PortAudioSpeaker plays decoded replies on the default output device.
// WAV payloads carry their own format; anything else is treated as raw
// 16-bit PCM in the configured format.
type PortAudioSpeaker struct {
	config Config
	// mu keeps one reply on the device at a time
	mu     sync.Mutex
	logger *zap.Logger
}

var _ repositories.Speaker = (*PortAudioSpeaker)(nil)

// NewPortAudioSpeaker creates a speaker on the default output device
func NewPortAudioSpeaker(config Config, logger *zap.Logger) *PortAudioSpeaker {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	return &PortAudioSpeaker{config: config, logger: logger}
}

// Decode turns a payload into playable PCM
func (s *PortAudioSpeaker) Decode(audio []byte) (wavcodec.PCM, error) {
	if wavcodec.IsWAV(audio) {
		return wavcodec.Decode(audio)
	}
	if len(audio)%2 != 0 {
		return wavcodec.PCM{}, fmt.Errorf("unsupported audio payload: odd pcm length %d", len(audio))
	}
	return wavcodec.PCM{
		Samples:    wavcodec.BytesToInt16(audio),
		SampleRate: s.config.SampleRate,
		Channels:   s.config.Channels,
	}, nil
}

// Play implements repositories.Speaker. The output stream is opened for this
// payload only and released when playback ends, fails or ctx is cancelled.
func (s *PortAudioSpeaker) Play(ctx context.Context, audio []byte) error {
	pcm, err := s.Decode(audio)
	if err != nil {
		return err
	}
	if len(pcm.Samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio failed: %w", err)
	}
	defer portaudio.Terminate()

	frames := pcm.SampleRate / 10
	out := make([]int16, frames*pcm.Channels)
	stream, err := portaudio.OpenDefaultStream(0, pcm.Channels, float64(pcm.SampleRate), frames, out)
	if err != nil {
		return fmt.Errorf("opening output stream failed: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting output stream failed: %w", err)
	}
	defer stream.Stop()

	s.logger.Debug("Playing audio",
		zap.Int("samples", len(pcm.Samples)),
		zap.Int("sampleRate", pcm.SampleRate),
		zap.Float64("seconds", pcm.Duration()))

	for offset := 0; offset < len(pcm.Samples); offset += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(out, pcm.Samples[offset:])
		clear(out[n:])
		if err := stream.Write(); err != nil {
			return fmt.Errorf("writing to output stream failed: %w", err)
		}
	}
	return nil
}
