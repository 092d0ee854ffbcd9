package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the in-memory backend when no size is configured.
const DefaultMaxEntries = 10000

// InMemoryCache implements Store on a size-bounded LRU. Expired entries are removed
// on access; the LRU evicts least-recently-used entries once full. Safe for concurrent use.
type InMemoryCache struct {
	data *lru.Cache[Key, cacheEntry]
}

// cacheEntry stores a cached value with its expiration timestamp (zero = never).
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewInMemoryCache creates an in-memory cache holding at most maxEntries entries.
func NewInMemoryCache(maxEntries int) (*InMemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	data, err := lru.New[Key, cacheEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("in-memory cache: %w", err)
	}
	return &InMemoryCache{data: data}, nil
}

// Get implements Store.Get.
func (c *InMemoryCache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	entry, ok := c.data.Get(key)
	if !ok {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		c.data.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements Store.Set.
func (c *InMemoryCache) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.data.Add(key, entry)
	return nil
}

// Delete implements Store.Delete.
func (c *InMemoryCache) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.data.Remove(key)
	return nil
}

// Entries implements Store.Entries. Peek is used so inspection does not change recency.
func (c *InMemoryCache) Entries(ctx context.Context, namespace string) (map[Key][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make(map[Key][]byte)
	for _, k := range c.data.Keys() {
		if k.Namespace != namespace {
			continue
		}
		entry, ok := c.data.Peek(k)
		if !ok {
			continue
		}
		if entry.expired(now) {
			c.data.Remove(k)
			continue
		}
		out[k] = entry.value
	}
	return out, nil
}

// Clear implements Store.Clear.
func (c *InMemoryCache) Clear(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range c.data.Keys() {
		if k.Namespace == namespace {
			c.data.Remove(k)
		}
	}
	return nil
}

// Ping always succeeds; the in-memory backend has nothing to reach.
func (c *InMemoryCache) Ping(ctx context.Context) error {
	return ctx.Err()
}
