package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/config"
	httphandler "github.com/kjstillabower/weather-cache-service/internal/http"
	"github.com/kjstillabower/weather-cache-service/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

const (
	cacheResetTimeout     = 30 * time.Second
	inFlightCheckInterval = 100 * time.Millisecond
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	st, err := store.Open(store.Options{
		Driver:       cfg.DatabaseDriver,
		DSN:          cfg.DatabaseDSN,
		MaxOpenConns: cfg.DatabaseMaxOpenConns,
		MaxIdleConns: cfg.DatabaseMaxIdleConns,
		ConnMaxLife:  cfg.DatabaseConnMaxLife,
	})
	if err != nil {
		logger.Fatal("record store", zap.Error(err))
	}
	logger.Info("record store opened", zap.String("driver", cfg.DatabaseDriver))

	var backend cache.Store
	var redisCloser *cache.RedisCache
	switch cfg.CacheBackend {
	case "redis":
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedisCache(connectCtx, cfg.RedisAddr,
			cache.WithPassword(cfg.RedisPassword),
			cache.WithDB(cfg.RedisDB),
			cache.WithPoolSize(cfg.RedisPoolSize),
			cache.WithDialTimeout(cfg.RedisDialTimeout),
			cache.WithReadTimeout(cfg.RedisReadTimeout),
			cache.WithWriteTimeout(cfg.RedisWriteTimeout),
		)
		connectCancel()
		if err != nil {
			logger.Fatal("redis cache", zap.Error(err))
		}
		redisCloser = rc
		backend = rc
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	default:
		mc, err := cache.NewInMemoryCache(cfg.CacheMaxEntries)
		if err != nil {
			logger.Fatal("in-memory cache", zap.Error(err))
		}
		backend = mc
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        "cache",
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition("cache", from.String(), to.String())
			observability.SetCircuitBreakerStateGauge("cache", float64(to))
			logger.Warn("cache circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	observability.SetCircuitBreakerStateGauge("cache", 0)
	guarded := cache.NewGuardedStore(backend, breaker)

	resetCtx, resetCancel := context.WithTimeout(context.Background(), cacheResetTimeout)
	if err := cache.NewResetter(guarded, logger).Reset(resetCtx); err != nil {
		logger.Warn("startup cache reset failed; stale entries may be served until they expire", zap.Error(err))
	}
	resetCancel()

	weatherService := service.NewWeatherService(st, guarded, cfg.CacheTTL, cfg.CoalesceTimeout, logger)
	var inspector *service.CacheInspector
	if cfg.CacheAdminEnabled {
		inspector = service.NewCacheInspector(guarded)
	}

	healthConfig := &httphandler.HealthConfig{
		StorePing:    st.Ping,
		CachePing:    guarded.Ping,
		BreakerState: guarded.BreakerState,
		StartTime:    time.Now(),
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, inspector, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouteOptions{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		AdminEnabled:   cfg.CacheAdminEnabled,
	})
	if cfg.CacheAdminEnabled {
		logger.Warn("cache admin routes enabled; /cache must not be publicly reachable")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetReady(true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if redisCloser != nil {
		if err := redisCloser.Close(); err != nil {
			logger.Error("redis close", zap.Error(err))
		}
	}
	if err := st.Close(); err != nil {
		logger.Error("record store close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
