package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/wavcodec"
)

// PortAudioDevice captures the default microphone through PortAudio
type PortAudioDevice struct {
	logger *zap.Logger
}

var _ repositories.CaptureDevice = (*PortAudioDevice)(nil)

// NewPortAudioDevice creates a microphone capture device
func NewPortAudioDevice(logger *zap.Logger) *PortAudioDevice {
	return &PortAudioDevice{logger: logger}
}

// Open implements repositories.CaptureDevice. PortAudio has no echo
// cancellation or noise suppression; those constraints are best effort.
func (d *PortAudioDevice) Open(ctx context.Context, constraints repositories.CaptureConstraints) (repositories.CaptureStream, error) {
	if !acceptsPCM(constraints) {
		return nil, repositories.ErrUnsupportedFormat
	}
	channels := constraints.Channels
	if channels <= 0 {
		channels = 1
	}
	sampleRate := constraints.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio failed: %w", err)
	}

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", repositories.ErrDeviceNotFound, err)
	}

	buffer := make([]int16, sampleRate*channels*bufferDurationMs/1000)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), len(buffer)/channels, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, mapPortAudioError(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, mapPortAudioError(err)
	}

	d.logger.Info("Microphone opened",
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
		zap.Bool("echoCancellation", constraints.EchoCancellation),
		zap.Bool("noiseSuppression", constraints.NoiseSuppression))

	// The producer owns the stream; a pending Read returns within one buffer
	s, ctx := newPCMStream(ctx, nil)

	go func() {
		defer func() {
			stream.Stop()
			stream.Close()
			portaudio.Terminate()
			s.finish()
		}()
		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				if ctx.Err() == nil {
					d.logger.Warn("Microphone read failed", zap.Error(err))
				}
				return
			}
			if !s.emit(ctx, wavcodec.Int16ToBytes(buffer)) {
				return
			}
		}
	}()

	return s, nil
}

func mapPortAudioError(err error) error {
	switch {
	case errors.Is(err, portaudio.InvalidDevice):
		return fmt.Errorf("%w: %v", repositories.ErrDeviceNotFound, err)
	case errors.Is(err, portaudio.DeviceUnavailable):
		return fmt.Errorf("%w: %v", repositories.ErrPermissionDenied, err)
	case errors.Is(err, portaudio.InvalidSampleRate),
		errors.Is(err, portaudio.InvalidChannelCount),
		errors.Is(err, portaudio.SampleFormatNotSupported):
		return fmt.Errorf("%w: %v", repositories.ErrUnsupportedFormat, err)
	}
	return fmt.Errorf("opening microphone failed: %w", err)
}
