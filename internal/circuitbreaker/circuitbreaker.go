// Package circuitbreaker guards calls to a flaky dependency (the cache backend) so that
// an unreachable backend costs callers nothing once the breaker has opened.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned without calling fn while the breaker is open, or while half-open
// and the probe budget is used up.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open probes that must succeed to close it.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout       time.Duration
	Component     string
	OnStateChange func(from, to State)
}

// CircuitBreaker wraps gobreaker with the service's state names and error.
type CircuitBreaker struct {
	cb        *gobreaker.CircuitBreaker
	component string
}

// New creates a new CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	threshold := uint32(cfg.FailureThreshold)
	settings := gobreaker.Settings{
		Name:        cfg.Component,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Callers giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			var gaveUp callerDone
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &gaveUp)
		},
	}
	if cfg.OnStateChange != nil {
		onChange := cfg.OnStateChange
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			onChange(fromGobreaker(from), fromGobreaker(to))
		}
	}
	return &CircuitBreaker{
		cb:        gobreaker.NewCircuitBreaker(settings),
		component: cfg.Component,
	}
}

// Call runs fn when the circuit allows it and records the outcome.
func (b *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && ctx.Err() != nil {
			return nil, callerDone{err}
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	var gaveUp callerDone
	if errors.As(err, &gaveUp) {
		return gaveUp.err
	}
	return err
}

// callerDone marks a failure that happened after the caller's context ended, such as a
// request deadline spent waiting on the record store. It does not count against the backend.
type callerDone struct{ err error }

func (c callerDone) Error() string { return c.err.Error() }
func (c callerDone) Unwrap() error { return c.err }

// State returns the current state (for metrics and health).
func (b *CircuitBreaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Component returns the guarded component name.
func (b *CircuitBreaker) Component() string {
	return b.component
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
