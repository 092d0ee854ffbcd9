package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// RouteOptions configures RegisterRoutes.
type RouteOptions struct {
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration
	// AdminEnabled registers the /cache inspection and eviction routes. Those routes expose
	// cached data verbatim and must sit behind operator-only access.
	AdminEnabled bool
}

// NewRouter builds the service router with the standard middleware chain and all routes.
func NewRouter(h *Handler, logger *zap.Logger, opts RouteOptions) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	RegisterRoutes(router, h, opts)
	return router
}

// RegisterRoutes adds the weather, cache admin, health and metrics routes to router.
func RegisterRoutes(router *mux.Router, h *Handler, opts RouteOptions) {
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(RateLimitMiddleware(opts.Limiter))
	if opts.RequestTimeout > 0 {
		weatherRouter.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	weatherRouter.HandleFunc("", h.ListWeather).Methods("GET")
	weatherRouter.HandleFunc("", h.CreateWeather).Methods("POST")
	weatherRouter.HandleFunc("/{city}", h.GetWeather).Methods("GET")
	weatherRouter.HandleFunc("/{city}", h.UpdateWeather).Methods("PUT")
	weatherRouter.HandleFunc("/{city}", h.DeleteWeather).Methods("DELETE")

	if !opts.AdminEnabled || h.inspector == nil {
		return
	}
	cacheRouter := router.PathPrefix("/cache").Subrouter()
	if opts.RequestTimeout > 0 {
		cacheRouter.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	cacheRouter.HandleFunc("/names", h.ListCacheNames).Methods("GET")
	cacheRouter.HandleFunc("/contents/{namespace}", h.GetCacheContents).Methods("GET")
	cacheRouter.HandleFunc("/contents/{namespace}/{key}", h.GetCacheEntry).Methods("GET")
	cacheRouter.HandleFunc("/evict", h.EvictAllCache).Methods("DELETE")
	cacheRouter.HandleFunc("/evict/{namespace}", h.EvictCache).Methods("DELETE")
}
