package repository

import (
	"context"
	"sync/atomic"
	"time"

	"cptrack/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverCache serves from primary and switches to fallback on the first
// primary error. After recoverAfter it tries primary again on reads.
type FailoverCache struct {
	primary      domain.Cache
	fallback     domain.Cache
	logger       *zerolog.Logger
	recoverAfter time.Duration
	isDown       atomic.Bool
	lastCheck    atomic.Int64
}

func NewFailoverCache(primary, fallback domain.Cache, recoverAfter time.Duration, logger *zerolog.Logger) *FailoverCache {
	if recoverAfter <= 0 {
		recoverAfter = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCache{
		primary:      primary,
		fallback:     fallback,
		logger:       logger,
		recoverAfter: recoverAfter,
	}
}

// Degraded reports whether calls are currently served by the fallback.
func (r *FailoverCache) Degraded() bool {
	return r.isDown.Load()
}

func (r *FailoverCache) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary cache failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !r.isDown.Load() {
		val, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			return val, ok, nil
		}
		r.markDown(err)
	}

	if r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > r.recoverAfter {
		val, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			r.logger.Info().Msg("Primary cache recovered")
			return val, ok, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.Get(ctx, key)
}

func (r *FailoverCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !r.isDown.Load() {
		err := r.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Set(ctx, key, value, ttl)
}

func (r *FailoverCache) Delete(ctx context.Context, key string) error {
	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, key)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Delete(ctx, key)
}
