package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// GuardedStore routes every call to the wrapped backend through a circuit breaker and
// marks all backend failures with ErrCacheUnavailable. Operation latency is recorded here
// for every backend, including calls the open breaker rejects. While the breaker is open calls
// fail immediately, so read paths fall through to the record store without waiting on
// backend timeouts.
type GuardedStore struct {
	next    Store
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedStore wraps next with breaker.
func NewGuardedStore(next Store, breaker *circuitbreaker.CircuitBreaker) *GuardedStore {
	return &GuardedStore{next: next, breaker: breaker}
}

func (g *GuardedStore) call(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := g.breaker.Call(ctx, fn)
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrCacheUnavailable, op, err)
}

// Get implements Store.Get.
func (g *GuardedStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := g.call(ctx, "get", func() error {
		var err error
		val, ok, err = g.next.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return val, ok, nil
}

// Set implements Store.Set.
func (g *GuardedStore) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	return g.call(ctx, "set", func() error { return g.next.Set(ctx, key, value, ttl) })
}

// Delete implements Store.Delete.
func (g *GuardedStore) Delete(ctx context.Context, key Key) error {
	return g.call(ctx, "delete", func() error { return g.next.Delete(ctx, key) })
}

// Entries implements Store.Entries.
func (g *GuardedStore) Entries(ctx context.Context, namespace string) (map[Key][]byte, error) {
	var out map[Key][]byte
	err := g.call(ctx, "entries", func() error {
		var err error
		out, err = g.next.Entries(ctx, namespace)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clear implements Store.Clear.
func (g *GuardedStore) Clear(ctx context.Context, namespace string) error {
	return g.call(ctx, "clear", func() error { return g.next.Clear(ctx, namespace) })
}

// Ping bypasses the breaker so health checks see the backend's real state.
func (g *GuardedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := g.next.Ping(ctx)
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: ping: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// BreakerState reports the breaker state for health output.
func (g *GuardedStore) BreakerState() circuitbreaker.State {
	return g.breaker.State()
}
