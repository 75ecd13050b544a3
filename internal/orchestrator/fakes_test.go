package orchestrator

import (
	"context"
	"sync"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

type fakeStream struct {
	buffers chan []byte

	mu    sync.Mutex
	stops int
}

func newFakeStream() *fakeStream {
	return &fakeStream{buffers: make(chan []byte, 64)}
}

func (s *fakeStream) Buffers() <-chan []byte { return s.buffers }
func (s *fakeStream) MimeType() string       { return repositories.MimeTypePCM16 }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeStream) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops > 0
}

type fakeDevice struct {
	mu          sync.Mutex
	openErr     error
	streams     []*fakeStream
	constraints []repositories.CaptureConstraints
}

func (d *fakeDevice) Open(ctx context.Context, c repositories.CaptureConstraints) (repositories.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constraints = append(d.constraints, c)
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDevice) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

type fakeConn struct {
	events chan repositories.TranscriptionEvent

	mu         sync.Mutex
	sent       [][]byte
	keepAlives int
	finishes   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan repositories.TranscriptionEvent, 16)}
}

func (c *fakeConn) Events() <-chan repositories.TranscriptionEvent { return c.events }

func (c *fakeConn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, b)
	return nil
}

func (c *fakeConn) KeepAlive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepAlives++
	return nil
}

func (c *fakeConn) Finish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishes++
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) keepAliveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlives
}

func (c *fakeConn) finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishes > 0
}

func (c *fakeConn) open() {
	c.events <- repositories.TranscriptionEvent{Type: repositories.TranscriptionEventOpen}
}

func (c *fakeConn) transcript(text string, final bool) {
	c.events <- repositories.TranscriptionEvent{Type: repositories.TranscriptionEventTranscript, Text: text, IsFinal: final}
}

type fakeTranscriber struct {
	mu      sync.Mutex
	openErr error
	conns   []*fakeConn
	tokens  []string
}

func (f *fakeTranscriber) Open(ctx context.Context, token, languageHint string) (repositories.TranscriptionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if f.openErr != nil {
		return nil, f.openErr
	}
	c := newFakeConn()
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeTranscriber) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakePlayer struct {
	mu     sync.Mutex
	played map[string]string
	muted  bool
	clears int
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{played: make(map[string]string)}
}

func (p *fakePlayer) Play(ctx context.Context, encoded, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played[id] = encoded
}

func (p *fakePlayer) Replay(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.played[id]; !ok {
		return context.Canceled
	}
	return nil
}

func (p *fakePlayer) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

func (p *fakePlayer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	p.played = make(map[string]string)
}

func (p *fakePlayer) playedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}
