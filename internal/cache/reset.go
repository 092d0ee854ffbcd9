package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// Resetter clears every known namespace once per process, so entries written by a
// previous process generation (older code, older serialization) are never served.
type Resetter struct {
	store      Store
	logger     *zap.Logger
	namespaces []string

	once sync.Once
	err  error
}

// NewResetter creates a Resetter over all Namespaces.
func NewResetter(store Store, logger *zap.Logger) *Resetter {
	return &Resetter{store: store, logger: logger, namespaces: Namespaces()}
}

// Reset clears each namespace. Only the first call does any work; later calls return
// the first result. A failing namespace does not stop the others from being cleared.
func (r *Resetter) Reset(ctx context.Context) error {
	r.once.Do(func() {
		r.err = r.reset(ctx)
	})
	return r.err
}

func (r *Resetter) reset(ctx context.Context) error {
	start := time.Now()
	if r.logger != nil {
		r.logger.Info("clearing cache namespaces", zap.Strings("namespaces", r.namespaces))
	}
	var errs []error
	for _, ns := range r.namespaces {
		if err := r.store.Clear(ctx, ns); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", ns, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		observability.CacheResetTotal.WithLabelValues("error").Inc()
	} else {
		observability.CacheResetTotal.WithLabelValues("success").Inc()
	}
	if r.logger != nil {
		r.logger.Info("cache reset complete",
			zap.Int("namespaces", len(r.namespaces)),
			zap.Int("errors", len(errs)),
			zap.Duration("duration", time.Since(start)))
	}
	if err != nil {
		return fmt.Errorf("cache reset: %w", err)
	}
	return nil
}
