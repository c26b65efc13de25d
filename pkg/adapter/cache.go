package adapter

import (
	"context"
	"sync"
	"time"
)

// Cache is a key-value cache with per-entry TTL. The persister uses it
// to invalidate cached conversations after appending turns.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache creates an in-process Cache
func NewMemoryCache() Cache {
	return &memoryCache{
		entries: make(map[string]cacheEntry),
	}
}

func (c *memoryCache) Get(ctx context.Context, key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.Delete(ctx, key)
		return nil, false
	}

	return entry.value, true
}

func (c *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

func (c *memoryCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
