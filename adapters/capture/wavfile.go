package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/wavcodec"
)

// WAVFileDevice replays a 16-bit WAV file as if it were a microphone.
// Buffers is closed once the file is exhausted.
type WAVFileDevice struct {
	path string
	// Realtime paces buffers at the speed they would be recorded
	realtime bool
	logger   *zap.Logger
}

var _ repositories.CaptureDevice = (*WAVFileDevice)(nil)

// NewWAVFileDevice creates a capture device reading path
func NewWAVFileDevice(path string, realtime bool, logger *zap.Logger) *WAVFileDevice {
	return &WAVFileDevice{path: path, realtime: realtime, logger: logger}
}

// Open implements repositories.CaptureDevice
func (d *WAVFileDevice) Open(ctx context.Context, constraints repositories.CaptureConstraints) (repositories.CaptureStream, error) {
	if !acceptsPCM(constraints) {
		return nil, repositories.ErrUnsupportedFormat
	}

	f, err := os.Open(d.path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", repositories.ErrDeviceNotFound, d.path)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s", repositories.ErrPermissionDenied, d.path)
		}
		return nil, fmt.Errorf("opening %s failed: %w", d.path, err)
	}

	decoder, err := wavcodec.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", repositories.ErrUnsupportedFormat, err)
	}
	if constraints.SampleRate > 0 && int(decoder.SampleRate) != constraints.SampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: file is %d Hz, want %d Hz", repositories.ErrUnsupportedFormat, decoder.SampleRate, constraints.SampleRate)
	}
	if decoder.NumChans != 1 {
		f.Close()
		return nil, fmt.Errorf("%w: file has %d channels, want mono", repositories.ErrUnsupportedFormat, decoder.NumChans)
	}

	frames := int(decoder.SampleRate) * bufferDurationMs / 1000
	d.logger.Info("Replaying WAV file as microphone",
		zap.String("path", d.path),
		zap.Uint32("sampleRate", decoder.SampleRate))

	s, ctx := newPCMStream(ctx, nil)

	go func() {
		defer func() {
			f.Close()
			s.finish()
		}()

		var tick <-chan time.Time
		if d.realtime {
			ticker := time.NewTicker(bufferDurationMs * time.Millisecond)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			chunk, err := wavcodec.ReadChunk(decoder, frames)
			if err == io.EOF {
				d.logger.Debug("WAV file exhausted", zap.String("path", d.path))
				return
			}
			if err != nil {
				d.logger.Warn("Reading WAV file failed", zap.Error(err))
				return
			}
			if !s.emit(ctx, chunk) {
				return
			}
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return s, nil
}
