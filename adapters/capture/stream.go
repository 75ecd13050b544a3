package capture

import (
	"context"
	"slices"
	"sync"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// bufferDurationMs is the length of audio carried by one buffer
const bufferDurationMs = 100

// pcmStream is the CaptureStream shared by every device: a producer
// goroutine fills buffers until the context is cancelled or the source ends.
type pcmStream struct {
	buffers chan []byte
	cancel  context.CancelFunc
	done    chan struct{}

	once    sync.Once
	release func() error
	err     error
}

func newPCMStream(ctx context.Context, release func() error) (*pcmStream, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &pcmStream{
		buffers: make(chan []byte, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
		release: release,
	}, ctx
}

// Buffers implements repositories.CaptureStream
func (s *pcmStream) Buffers() <-chan []byte {
	return s.buffers
}

// MimeType implements repositories.CaptureStream
func (s *pcmStream) MimeType() string {
	return repositories.MimeTypePCM16
}

// Stop implements repositories.CaptureStream
func (s *pcmStream) Stop() error {
	s.once.Do(func() {
		s.cancel()
		if s.release != nil {
			s.err = s.release()
		}
		<-s.done
	})
	return s.err
}

// emit hands a buffer to the consumer unless the stream is stopping
func (s *pcmStream) emit(ctx context.Context, buf []byte) bool {
	select {
	case s.buffers <- buf:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish closes Buffers; the producer calls it exactly once on exit
func (s *pcmStream) finish() {
	close(s.buffers)
	close(s.done)
}

// acceptsPCM reports whether the constraints allow 16 kHz PCM
func acceptsPCM(constraints repositories.CaptureConstraints) bool {
	return len(constraints.MimeTypes) == 0 || slices.Contains(constraints.MimeTypes, repositories.MimeTypePCM16)
}
