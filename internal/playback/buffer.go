package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
	"github.com/cleanaz-dev/sp-academy/internal/wavcodec"
)

// Strategy selects how cached audio reaches the speaker
type Strategy string

const (
	// StrategyAutoplay plays each payload as soon as it is cached
	StrategyAutoplay Strategy = "autoplay"
	// StrategyManual only caches; playback waits for an explicit Replay
	StrategyManual Strategy = "manual"
)

// ErrNotCached is returned by Replay when the payload was never cached or was evicted
var ErrNotCached = errors.New("audio not cached")

// Config holds playback configuration
type Config struct {
	CacheSize int
	Strategy  Strategy
	Muted     bool
}

// Buffer caches synthesized replies and plays them back. Payloads arrive fully
// buffered, one encoded reply per call; the speaker writes them out in frames.
type Buffer struct {
	speaker  repositories.Speaker
	cache    *Cache
	strategy Strategy
	muted    atomic.Bool
	logger   *zap.Logger

	// playing tracks in-flight autoplay goroutines
	playing sync.WaitGroup
}

// NewBuffer creates a playback buffer. A nil speaker forces the manual strategy.
func NewBuffer(speaker repositories.Speaker, config Config, onEvict func(id string), logger *zap.Logger) *Buffer {
	strategy := config.Strategy
	if strategy == "" {
		strategy = StrategyAutoplay
	}
	if speaker == nil {
		strategy = StrategyManual
	}

	b := &Buffer{
		speaker:  speaker,
		strategy: strategy,
		logger:   logger,
	}
	b.cache = NewCache(config.CacheSize, func(id string) {
		logger.Debug("Evicted cached audio", zap.String("turnID", id))
		if onEvict != nil {
			onEvict(id)
		}
	})
	b.muted.Store(config.Muted)
	return b
}

// Play decodes and caches encoded under id, then attempts autoplay unless muted.
// It never blocks on playback and never fails the caller: decode errors are
// logged and skipped, autoplay errors leave the payload available for Replay.
func (b *Buffer) Play(ctx context.Context, encoded, id string) {
	data, err := wavcodec.DecodeBase64(encoded)
	if err != nil {
		b.logger.Warn("Failed to decode audio payload, skipping playback",
			zap.String("turnID", id),
			zap.Error(err))
		return
	}

	b.cache.Put(id, data)

	if !b.shouldAutoplay() {
		return
	}

	b.playing.Add(1)
	go func() {
		defer b.playing.Done()
		if err := b.speaker.Play(ctx, data); err != nil {
			b.logger.Info("Autoplay failed, audio left for manual replay",
				zap.String("turnID", id),
				zap.Error(err))
		}
	}()
}

// Replay plays a cached payload on explicit request, even when muted
func (b *Buffer) Replay(ctx context.Context, id string) error {
	data, ok := b.cache.Get(id)
	if !ok {
		return ErrNotCached
	}
	if b.speaker == nil {
		return fmt.Errorf("no speaker configured")
	}
	if err := b.speaker.Play(ctx, data); err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	return nil
}

// SetMuted toggles autoplay. Payloads are cached either way.
func (b *Buffer) SetMuted(muted bool) {
	b.muted.Store(muted)
}

// Muted reports whether autoplay is suppressed
func (b *Buffer) Muted() bool {
	return b.muted.Load()
}

// Cached reports whether a payload is available for id
func (b *Buffer) Cached(id string) bool {
	_, ok := b.cache.Get(id)
	return ok
}

// Len returns the number of cached payloads
func (b *Buffer) Len() int {
	return b.cache.Len()
}

// Clear drops every cached payload
func (b *Buffer) Clear() {
	b.cache.Clear()
}

// Wait blocks until in-flight autoplay attempts have finished
func (b *Buffer) Wait() {
	b.playing.Wait()
}

func (b *Buffer) shouldAutoplay() bool {
	return b.strategy == StrategyAutoplay && b.speaker != nil && !b.muted.Load()
}
