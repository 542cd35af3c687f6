package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	got, ok := c.Get(ctx, "k")
	if !ok || got != "v" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatalf("missing key reported present")
	}
}

func TestMemoryExpiry(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "a", "1", time.Minute)
	c.Set(ctx, "b", "2", time.Hour)

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatalf("expired key returned")
	}

	c.cleanup()
	if c.Len() != 1 {
		t.Fatalf("Len = %d after cleanup, want 1", c.Len())
	}
}

func TestMemoryGetKeepsValueSetAfterExpiry(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var refresh bool
	c.now = func() time.Time {
		if refresh {
			// Runs inside Get after the read lock is released.
			refresh = false
			c.Set(ctx, "k", "fresh", time.Hour)
		}
		return now
	}

	c.Set(ctx, "k", "stale", time.Minute)
	now = now.Add(2 * time.Minute)
	refresh = true

	got, ok := c.Get(ctx, "k")
	if !ok || got != "fresh" {
		t.Fatalf("Get = %q, %v; want fresh value", got, ok)
	}
	if got, ok := c.Get(ctx, "k"); !ok || got != "fresh" {
		t.Fatalf("fresh value was deleted: %q, %v", got, ok)
	}
}

func TestKeyStable(t *testing.T) {
	t.Parallel()

	a := Key("resolve:", "https://news.google.com/x")
	b := Key("resolve:", "https://news.google.com/x")
	if a != b {
		t.Fatalf("keys differ: %s vs %s", a, b)
	}
	if Key("p:", "ab", "c") == Key("p:", "a", "bc") {
		t.Fatalf("part boundaries should affect the key")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url, nil)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	key := Key("test:", t.Name(), time.Now().String())
	r.Set(ctx, key, "value", time.Minute)
	if got, ok := r.Get(ctx, key); !ok || got != "value" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
}
