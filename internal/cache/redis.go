package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store shared between ingest processes.
type Redis struct {
	client *redis.Client
	log    *slog.Logger
}

var _ Store = (*Redis)(nil)

// NewRedis connects using a redis:// URL and pings the server.
func NewRedis(ctx context.Context, rawURL string, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, log: log}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		r.log.Warn("cache.redis.get-failed", "key", key, "error", err)
		return "", false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.log.Warn("cache.redis.set-failed", "key", key, "error", err)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
