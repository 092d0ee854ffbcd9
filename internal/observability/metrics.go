package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per route template.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, slow drain on shutdown.
	HTTPRequestsInFlight prometheus.Gauge

	// Cache hits per namespace. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses per namespace; every miss costs a store query unless coalesced.
	CacheMissesTotal *prometheus.CounterVec

	// Cache failures by operation and category. Watch for: connection errors = backend down.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache backend latency by operation and outcome.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Record store latency by operation and outcome.
	StoreOperationDurationSeconds *prometheus.HistogramVec

	// Read-through misses that joined an in-flight store load instead of issuing their own.
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// Circuit breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions. Watch for: flapping between open and half-open.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Startup cache resets by outcome.
	CacheResetTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits by namespace",
		},
		[]string{"namespace"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses by namespace",
		},
		[]string{"namespace"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category (timeout, connection, unavailable, unknown)",
		},
		[]string{"op", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op", "status"},
	)
	StoreOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeOperationDurationSeconds",
			Help:    "Record store operation latency in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op", "status"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Read-through misses served by an already in-flight store load",
		},
		[]string{"namespace"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheResetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheResetTotal",
			Help: "Startup cache resets by status",
		},
		[]string{"status"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		StoreOperationDurationSeconds,
		RequestCoalescingHitsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheResetTotal,
		RateLimitDeniedTotal,
	)
}

// ObserveCacheOp records latency for a cache backend operation.
func ObserveCacheOp(op string, err error, seconds float64) {
	CacheOperationDurationSeconds.WithLabelValues(op, statusLabel(err)).Observe(seconds)
}

// ObserveStoreOp records latency for a record store operation.
func ObserveStoreOp(op string, err error, seconds float64) {
	StoreOperationDurationSeconds.WithLabelValues(op, statusLabel(err)).Observe(seconds)
}

// RecordCircuitBreakerTransition counts a breaker state change for component.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the breaker state gauge (0 closed, 1 open, 2 half-open).
func SetCircuitBreakerStateGauge(component string, value float64) {
	CircuitBreakerState.WithLabelValues(component).Set(value)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
