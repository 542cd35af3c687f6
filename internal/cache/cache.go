// Package cache stores short-lived string values, such as resolved aggregator URLs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Store is a TTL key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

type CacheItem struct {
	Value     string
	ExpiresAt time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]CacheItem
	stop  chan struct{}
	once  sync.Once
	now   func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	c := &Memory{
		items: make(map[string]CacheItem),
		stop:  make(chan struct{}),
		now:   time.Now,
	}

	// Cleanup expired items every hour
	go c.cleanupLoop(time.Hour)

	return c
}

func (c *Memory) Set(_ context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = CacheItem{
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
}

func (c *Memory) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		return "", false
	}

	now := c.now()
	if !now.After(item.ExpiresAt) {
		return item.Value, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A Set may have landed between the two locks.
	item, exists = c.items[key]
	if !exists {
		return "", false
	}
	if now.After(item.ExpiresAt) {
		delete(c.items, key)
		return "", false
	}
	return item.Value, true
}

func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine.
func (c *Memory) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// Key hashes parts into a fixed-length cache key.
func Key(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}

func (c *Memory) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Memory) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.ExpiresAt) {
			delete(c.items, key)
		}
	}
}
