package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/deusflow/cbnews/internal/cache"
)

const redisConnectTimeout = 5 * time.Second

// closableStore is a cache.Store that owns a connection or goroutine.
type closableStore interface {
	cache.Store
	Close() error
}

// newResolverCache picks the resolver cache backend. Redis is shared between
// processes; when it is not configured or unreachable the in-process cache is
// used instead so a Redis outage never stops ingestion.
func newResolverCache(ctx context.Context, redisURL string, log *slog.Logger) closableStore {
	if redisURL == "" {
		log.Info("cache.memory.selected")
		return cache.NewMemory()
	}

	ctx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	r, err := cache.NewRedis(ctx, redisURL, log)
	if err != nil {
		log.Warn("cache.redis.unavailable", "error", err.Error())
		return cache.NewMemory()
	}
	log.Info("cache.redis.selected")
	return r
}
