// Package cache holds the key-value cache layer: namespaced keys, the Store contract,
// and the Redis and in-memory backends. The cache is a disposable projection of the
// record store and never authoritative.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheUnavailable wraps every failure of the cache backend (unreachable, timed out,
// or short-circuited by the breaker).
var ErrCacheUnavailable = errors.New("cache unavailable")

// Store is a namespaced key-value cache. Values are opaque serialized bytes.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss or expiry.
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Set stores value under key; ttl <= 0 means no expiry.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// Entries returns every live entry under namespace.
	Entries(ctx context.Context, namespace string) (map[Key][]byte, error)
	// Clear removes every entry under namespace.
	Clear(ctx context.Context, namespace string) error
	Ping(ctx context.Context) error
}
