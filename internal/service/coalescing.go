package service

import (
	"context"
	"sync"
	"time"
)

// inFlightLoad is one store load that concurrent callers for the same key share.
type inFlightLoad[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// requestCoalescer prevents a stampede of identical store queries on a cache miss by
// letting concurrent misses for the same key wait on a single load.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightLoad[T]
	timeout  time.Duration
}

// newRequestCoalescer creates a new requestCoalescer with the specified timeout.
func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*inFlightLoad[T]),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight load for key, or starts fn if there is none. shared is true
// when the caller joined a load started by someone else.
//
// fn runs detached from the caller's cancellation (bounded by the coalescer timeout) so one
// caller giving up does not fail the others waiting on the same load.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (result T, shared bool, err error) {
	rc.mu.Lock()
	load, shared := rc.inFlight[key]
	if !shared {
		load = &inFlightLoad[T]{done: make(chan struct{})}
		rc.inFlight[key] = load
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		go func() {
			defer cancel()
			load.result, load.err = fn(loadCtx)
			rc.mu.Lock()
			delete(rc.inFlight, key)
			rc.mu.Unlock()
			close(load.done)
		}()
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-load.done:
		return load.result, shared, load.err
	case <-waitCtx.Done():
		var zero T
		return zero, shared, waitCtx.Err()
	}
}
