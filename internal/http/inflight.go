package http

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// requestGauge is a live request count that also publishes itself to a Prometheus gauge.
// The shutdown drain and the httpRequestsInFlight metric read the same counter.
type requestGauge struct {
	active atomic.Int64
	gauge  prometheus.Gauge // may be nil
}

func newRequestGauge(g prometheus.Gauge) *requestGauge {
	return &requestGauge{gauge: g}
}

// begin marks a request as started. The returned func marks it finished and must be called once.
func (g *requestGauge) begin() func() {
	g.active.Add(1)
	if g.gauge != nil {
		g.gauge.Inc()
	}
	return func() {
		g.active.Add(-1)
		if g.gauge != nil {
			g.gauge.Dec()
		}
	}
}

func (g *requestGauge) count() int64 {
	return g.active.Load()
}

// drain polls until no request is active or ctx is done.
func (g *requestGauge) drain(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for g.count() != 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// activeRequests is maintained by MetricsMiddleware.
var activeRequests = newRequestGauge(observability.HTTPRequestsInFlight)

// InFlightCount returns the number of requests MetricsMiddleware is currently serving.
func InFlightCount() int64 {
	return activeRequests.count()
}

// WaitForInFlight blocks until every request seen by MetricsMiddleware has finished or ctx is
// done. srv.Shutdown stops accepting work; this covers handlers still writing after it returns.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return activeRequests.drain(ctx, checkInterval)
}
