//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	RedisAddr   string
	RedisDB     int
	DBDriver    string // "sqlite" or "mysql"
	DatabaseDSN string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if REDIS_ADDR is not set. DATABASE_DSN selects MySQL; otherwise an in-memory
// SQLite store is used.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	cfg := IntegrationTestConfig{
		RedisAddr:   addr,
		RedisDB:     15,
		DBDriver:    "sqlite",
		DatabaseDSN: ":memory:",
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.DBDriver = "mysql"
		cfg.DatabaseDSN = dsn
	}
	return cfg
}

// SetupIntegrationService creates a fully configured service over live Redis and the
// configured store. Every namespace is cleared before returning. Returns weather service,
// inspector, and cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, *service.CacheInspector, func()) {
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cache.WithDB(cfg.RedisDB))
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	st, err := store.Open(store.Options{Driver: cfg.DBDriver, DSN: cfg.DatabaseDSN})
	if err != nil {
		_ = redisCache.Close()
		t.Fatalf("store.Open() error = %v", err)
	}

	guarded := cache.NewGuardedStore(redisCache, circuitbreaker.New(circuitbreaker.Config{Component: "cache"}))
	ClearCache(ctx, t, guarded)

	weatherService := service.NewWeatherService(st, guarded, time.Minute, time.Second, logger)
	cleanup := func() {
		ClearCache(context.Background(), t, guarded)
		_ = redisCache.Close()
		_ = st.Close()
	}
	return weatherService, service.NewCacheInspector(guarded), cleanup
}

// ClearCache clears every namespace for test isolation.
func ClearCache(ctx context.Context, t *testing.T, c cache.Store) {
	t.Helper()
	for _, ns := range cache.Namespaces() {
		if err := c.Clear(ctx, ns); err != nil {
			t.Fatalf("clear %s: %v", ns, err)
		}
	}
}
