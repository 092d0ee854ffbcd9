package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/store"
	"github.com/kjstillabower/weather-cache-service/internal/validation"
)

// maxBodyBytes bounds create/update request bodies.
const maxBodyBytes = 1 << 20

// HealthConfig holds the dependency checks used by the health handler. Nil funcs are skipped.
type HealthConfig struct {
	// StorePing checks record store reachability. Failure makes the service unhealthy.
	StorePing func(ctx context.Context) error

	// CachePing checks cache backend reachability. Failure degrades but does not fail the
	// service, since reads fall back to the store.
	CachePing func(ctx context.Context) error

	// BreakerState reports the cache circuit breaker state.
	BreakerState func() circuitbreaker.State

	StartTime time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	inspector        *service.CacheInspector
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. inspector may be nil when cache admin routes are disabled.
func NewHandler(
	weatherService *service.WeatherService,
	inspector *service.CacheInspector,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weatherService: weatherService,
		inspector:      inspector,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// ListWeather handles GET /weather.
func (h *Handler) ListWeather(w http.ResponseWriter, r *http.Request) {
	records, err := h.weatherService.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetWeather handles GET /weather/{city}. An unknown city is 200 with a null body.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, ok := cityFromPath(w, r)
	if !ok {
		return
	}
	rec, err := h.weatherService.GetByCity(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateWeather handles POST /weather.
func (h *Handler) CreateWeather(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	in, err := validation.ValidateCreate(in)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	rec, err := h.weatherService.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdateWeather handles PUT /weather/{city}. The path city selects the record; any city in
// the body is ignored.
func (h *Handler) UpdateWeather(w http.ResponseWriter, r *http.Request) {
	city, ok := cityFromPath(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	if err := validation.ValidateUpdate(in); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	rec, err := h.weatherService.Update(r.Context(), city, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteWeather handles DELETE /weather/{city}. Deleting an unknown city still succeeds.
func (h *Handler) DeleteWeather(w http.ResponseWriter, r *http.Request) {
	city, ok := cityFromPath(w, r)
	if !ok {
		return
	}
	if err := h.weatherService.Delete(r.Context(), city); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf("Weather data for %s deleted!", city))
}

// EvictAllCache handles DELETE /cache/evict, clearing the cached record list.
func (h *Handler) EvictAllCache(w http.ResponseWriter, r *http.Request) {
	if err := h.weatherService.EvictAllCache(r.Context()); err != nil {
		writeCacheError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf("Cache '%s' evicted successfully!", cache.NamespaceAll))
}

// ListCacheNames handles GET /cache/names.
func (h *Handler) ListCacheNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.inspector.ListNamespaces())
}

// GetCacheContents handles GET /cache/contents/{namespace}.
func (h *Handler) GetCacheContents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.inspector.ListEntries(r.Context(), mux.Vars(r)["namespace"])
	if err != nil {
		writeCacheError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetCacheEntry handles GET /cache/contents/{namespace}/{key}. A key that is not cached is
// 404 ENTRY_NOT_FOUND; a city cached as absent is 200 with a null body.
func (h *Handler) GetCacheEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	value, found, err := h.inspector.GetEntry(r.Context(), vars["namespace"], vars["key"])
	if err != nil {
		writeCacheError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, "ENTRY_NOT_FOUND", fmt.Sprintf("No cache entry for '%s' in '%s'", vars["key"], vars["namespace"]))
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// EvictCache handles DELETE /cache/evict/{namespace}.
func (h *Handler) EvictCache(w http.ResponseWriter, r *http.Request) {
	namespace := mux.Vars(r)["namespace"]
	if err := h.inspector.EvictNamespace(r.Context(), namespace); err != nil {
		writeCacheError(w, r, err)
		return
	}
	loggerFromRequest(r, h.logger).Info("cache namespace evicted", zap.String("namespace", namespace))
	writeJSON(w, http.StatusOK, fmt.Sprintf("Cache '%s' evicted successfully!", namespace))
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptime"] = time.Since(h.healthConfig.StartTime).Round(time.Second).String()
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus determines the current health status by evaluating conditions in
// priority order: shutting-down > starting > store unreachable > cache degraded > healthy.
// A degraded cache still returns 200: reads fall back to the store.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := make(map[string]string)
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if !lifecycle.IsReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "startup", checks}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}

	storeOK := true
	if h.healthConfig.StorePing != nil {
		storeOK = h.healthConfig.StorePing(ctx) == nil
		checks["store"] = healthLabel(storeOK)
	}
	cacheOK := true
	if h.healthConfig.CachePing != nil {
		cacheOK = h.healthConfig.CachePing(ctx) == nil
		checks["cache"] = healthLabel(cacheOK)
	}
	if h.healthConfig.BreakerState != nil {
		state := h.healthConfig.BreakerState()
		checks["cacheBreaker"] = state.String()
		if state == circuitbreaker.StateOpen {
			cacheOK = false
		}
	}

	if !storeOK {
		return healthResult{"unhealthy", http.StatusServiceUnavailable, "store_unreachable", checks}
	}
	if !cacheOK {
		return healthResult{"degraded", http.StatusOK, "cache_unavailable", checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

func healthLabel(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// cityFromPath validates the {city} path variable, writing a 400 on failure.
func cityFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], validation.MaxCityLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return "", false
	}
	return city, true
}

// decodeInput reads a WeatherInput body, writing a 400 on malformed JSON.
func decodeInput(w http.ResponseWriter, r *http.Request) (models.WeatherInput, bool) {
	var in models.WeatherInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		msg := "request body must be a JSON weather object"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", msg)
		return in, false
	}
	return in, true
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		corrID = v
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps weather service errors to HTTP responses. Unexpected errors are
// logged and reported as 500 without leaking their text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "No weather data for this city")
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, "CONFLICT", "Weather data for this city already exists")
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, "VERSION_CONFLICT", "Weather data was modified concurrently; retry")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
	default:
		loggerFromRequest(r, nil).Error("weather request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to process weather data")
	}
}

// writeCacheError maps inspection errors. Any cache failure is a 503: the cache is the
// subject of the request, so there is nothing to fall back to.
func writeCacheError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrUnknownNamespace) {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_NAMESPACE", err.Error())
		return
	}
	loggerFromRequest(r, nil).Warn("cache admin request failed", zap.Error(err))
	writeError(w, r, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "Cache is unavailable")
}

// loggerFromRequest returns the request-scoped logger set by CorrelationIDMiddleware,
// else fallback, else a no-op logger.
func loggerFromRequest(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
