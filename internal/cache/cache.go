package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores aggregated results under opaque keys with a TTL.
// Get returns (value, true, nil) on hit and (zero, false, nil) on miss or expiry.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries are
// removed on access. With maxEntries > 0, inserting a new key into a full cache
// evicts the entry with the oldest insertion time.
type InMemoryCache[V any] struct {
	mu         sync.Mutex
	data       map[string]cacheEntry[V]
	maxEntries int
	now        func() time.Time
}

type cacheEntry[V any] struct {
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

// NewInMemoryCache creates an in-memory cache. maxEntries <= 0 means unbounded.
func NewInMemoryCache[V any](maxEntries int) *InMemoryCache[V] {
	return &InMemoryCache[V]{
		data:       make(map[string]cacheEntry[V]),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *InMemoryCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return zero, false, nil
	}
	return entry.value, true, nil
}

func (c *InMemoryCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.data[key] = cacheEntry[V]{
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet accessed.
func (c *InMemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// evictLocked drops expired entries, then the oldest one if still full. Caller holds c.mu.
func (c *InMemoryCache[V]) evictLocked(now time.Time) {
	for k, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, k)
		}
	}
	if len(c.data) < c.maxEntries {
		return
	}

	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.data {
		if first || e.insertedAt.Before(oldest) {
			oldestKey, oldest, first = k, e.insertedAt, false
		}
	}
	delete(c.data, oldestKey)
}
