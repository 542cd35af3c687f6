package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/deusflow/cbnews/internal/cache"
)

func TestNewResolverCacheDefaultsToMemory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newResolverCache(context.Background(), "", log)
	defer store.Close()
	if _, ok := store.(*cache.Memory); !ok {
		t.Fatalf("store = %T, want *cache.Memory", store)
	}
}

func TestNewResolverCacheFallsBackWhenRedisIsDown(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newResolverCache(context.Background(), "redis://127.0.0.1:1/0", log)
	defer store.Close()
	if _, ok := store.(*cache.Memory); !ok {
		t.Fatalf("store = %T, want *cache.Memory fallback", store)
	}

	bad := newResolverCache(context.Background(), "://not-a-url", log)
	defer bad.Close()
	if _, ok := bad.(*cache.Memory); !ok {
		t.Fatalf("store = %T, want *cache.Memory for a bad url", bad)
	}
}
