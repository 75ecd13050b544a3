package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

// mockSpeaker records every payload it is asked to play
type mockSpeaker struct {
	mu     sync.Mutex
	played [][]byte
	err    error
}

func (m *mockSpeaker) Play(ctx context.Context, audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, audio)
	return m.err
}

func (m *mockSpeaker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.played)
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestBuffer_PlayCachesAndAutoplays(t *testing.T) {
	speaker := &mockSpeaker{}
	buffer := NewBuffer(speaker, Config{}, nil, zaptest.NewLogger(t))

	buffer.Play(context.Background(), encode("reply"), "turn-1")
	buffer.Wait()

	if !buffer.Cached("turn-1") {
		t.Error("Payload should be cached before playback")
	}
	if speaker.count() != 1 {
		t.Errorf("Expected 1 playback, got %d", speaker.count())
	}
}

func TestBuffer_MutedStillCaches(t *testing.T) {
	speaker := &mockSpeaker{}
	buffer := NewBuffer(speaker, Config{Muted: true}, nil, zaptest.NewLogger(t))

	buffer.Play(context.Background(), encode("reply"), "turn-1")
	buffer.Wait()

	if speaker.count() != 0 {
		t.Errorf("Muted buffer should not play, got %d playbacks", speaker.count())
	}
	if !buffer.Cached("turn-1") {
		t.Error("Muted buffer should still cache the payload")
	}

	// Un-mute and replay
	buffer.SetMuted(false)
	if err := buffer.Replay(context.Background(), "turn-1"); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if speaker.count() != 1 {
		t.Errorf("Expected replay to play once, got %d", speaker.count())
	}
}

func TestBuffer_AutoplayFailureFallsBackToManual(t *testing.T) {
	speaker := &mockSpeaker{err: errors.New("autoplay blocked")}
	buffer := NewBuffer(speaker, Config{}, nil, zaptest.NewLogger(t))

	buffer.Play(context.Background(), encode("reply"), "turn-1")
	buffer.Wait()

	if !buffer.Cached("turn-1") {
		t.Error("Failed autoplay should leave the payload cached")
	}
}

func TestBuffer_ManualStrategyNeverAutoplays(t *testing.T) {
	speaker := &mockSpeaker{}
	buffer := NewBuffer(speaker, Config{Strategy: StrategyManual}, nil, zaptest.NewLogger(t))

	buffer.Play(context.Background(), encode("reply"), "turn-1")
	buffer.Wait()

	if speaker.count() != 0 {
		t.Errorf("Manual strategy should not autoplay, got %d", speaker.count())
	}
	if err := buffer.Replay(context.Background(), "turn-1"); err != nil {
		t.Errorf("Replay failed: %v", err)
	}
}

func TestBuffer_DecodeFailureIsSkipped(t *testing.T) {
	speaker := &mockSpeaker{}
	buffer := NewBuffer(speaker, Config{}, nil, zaptest.NewLogger(t))

	buffer.Play(context.Background(), "%%%garbage%%%", "turn-1")
	buffer.Wait()

	if buffer.Cached("turn-1") {
		t.Error("Undecodable payload should not be cached")
	}
	if speaker.count() != 0 {
		t.Error("Undecodable payload should not be played")
	}
}

func TestBuffer_ReplayNotCached(t *testing.T) {
	buffer := NewBuffer(&mockSpeaker{}, Config{}, nil, zaptest.NewLogger(t))

	if err := buffer.Replay(context.Background(), "missing"); !errors.Is(err, ErrNotCached) {
		t.Errorf("Expected ErrNotCached, got %v", err)
	}
}

func TestBuffer_CacheBoundEvictsFirstTurn(t *testing.T) {
	var evicted []string
	buffer := NewBuffer(&mockSpeaker{}, Config{Muted: true}, func(id string) {
		evicted = append(evicted, id)
	}, zaptest.NewLogger(t))

	for i := 1; i <= 11; i++ {
		buffer.Play(context.Background(), encode(fmt.Sprintf("reply-%d", i)), fmt.Sprintf("turn-%d", i))
	}

	if buffer.Len() != DefaultCacheSize {
		t.Errorf("Expected %d cached entries, got %d", DefaultCacheSize, buffer.Len())
	}
	if buffer.Cached("turn-1") {
		t.Error("First turn's audio should have been evicted")
	}
	if !buffer.Cached("turn-11") {
		t.Error("Newest turn's audio should be cached")
	}
	if len(evicted) != 1 || evicted[0] != "turn-1" {
		t.Errorf("Expected turn-1 to be reported evicted, got %v", evicted)
	}
}

func TestBuffer_NilSpeakerIsManual(t *testing.T) {
	buffer := NewBuffer(nil, Config{}, nil, zaptest.NewLogger(t))

	buffer.Play(context.Background(), encode("reply"), "turn-1")
	if !buffer.Cached("turn-1") {
		t.Error("Payload should be cached without a speaker")
	}
	if err := buffer.Replay(context.Background(), "turn-1"); err == nil {
		t.Error("Replay without a speaker should fail")
	}
}
