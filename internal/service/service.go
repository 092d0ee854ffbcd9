package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

// DefaultCoalesceTimeout bounds a shared read-through store load.
const DefaultCoalesceTimeout = 5 * time.Second

// WeatherService keeps the cache consistent with the record store.
//
//   - ListAll and GetByCity are read-through. An absent city is cached as JSON null.
//   - Create and Update write the store first, then write the per-city entry through.
//   - Delete removes the stored row if present, then evicts the per-city entry.
//   - Writes never touch weatherCacheAll; the list may be stale until EvictAllCache or TTL expiry.
//
// Cache failures never fail a call: reads fall back to the store, and write-through or
// eviction failures after a successful store write are logged and counted only.
type WeatherService struct {
	store     store.RecordStore
	cache     cache.Store
	ttl       time.Duration
	logger    *zap.Logger
	cityLoads *requestCoalescer[*models.WeatherRecord]
	listLoads *requestCoalescer[[]models.WeatherRecord]
}

// NewWeatherService creates a new WeatherService with the provided dependencies.
// ttl is the expiry of every entry written; coalesceTimeout bounds shared store loads
// (DefaultCoalesceTimeout if <= 0). logger may be nil.
func NewWeatherService(recordStore store.RecordStore, cacheStore cache.Store, ttl time.Duration, coalesceTimeout time.Duration, logger *zap.Logger) *WeatherService {
	if coalesceTimeout <= 0 {
		coalesceTimeout = DefaultCoalesceTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		store:     recordStore,
		cache:     cacheStore,
		ttl:       ttl,
		logger:    logger,
		cityLoads: newRequestCoalescer[*models.WeatherRecord](coalesceTimeout),
		listLoads: newRequestCoalescer[[]models.WeatherRecord](coalesceTimeout),
	}
}

// loggerFor returns the request-scoped logger from ctx if present, else the service logger.
func (s *WeatherService) loggerFor(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// ListAll returns every record, read-through on weatherCacheAll.
func (s *WeatherService) ListAll(ctx context.Context) ([]models.WeatherRecord, error) {
	key := cache.AllRecordsKey()
	var cached []models.WeatherRecord
	if s.readCache(ctx, key, &cached) {
		if cached == nil {
			cached = []models.WeatherRecord{}
		}
		return cached, nil
	}

	records, shared, err := s.listLoads.GetOrDo(ctx, key.String(), func(ctx context.Context) ([]models.WeatherRecord, error) {
		records, err := s.store.FindAll(ctx)
		if err != nil {
			return nil, err
		}
		s.writeCache(ctx, "list", key, records)
		return records, nil
	})
	if shared {
		observability.RequestCoalescingHitsTotal.WithLabelValues(key.Namespace).Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("list weather: %w", err)
	}
	return records, nil
}

// GetByCity returns the record for city, or nil when no such city exists. Absent is a
// valid, cacheable result and not an error.
func (s *WeatherService) GetByCity(ctx context.Context, city string) (*models.WeatherRecord, error) {
	city = normalizeCity(city)
	key := cache.CityKey(city)

	var cached *models.WeatherRecord
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	rec, shared, err := s.cityLoads.GetOrDo(ctx, key.String(), func(ctx context.Context) (*models.WeatherRecord, error) {
		found, ok, err := s.store.FindByCity(ctx, city)
		if err != nil {
			return nil, err
		}
		var rec *models.WeatherRecord
		if ok {
			rec = &found
		}
		s.writeCache(ctx, "get", key, rec)
		return rec, nil
	})
	if shared {
		observability.RequestCoalescingHitsTotal.WithLabelValues(key.Namespace).Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("get weather for %s: %w", city, err)
	}
	if rec == nil {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// Create inserts a new record and writes it through to the per-city cache entry,
// replacing any cached absent result. A duplicate city returns store.ErrConflict.
func (s *WeatherService) Create(ctx context.Context, in models.WeatherInput) (models.WeatherRecord, error) {
	rec := in.Record()
	rec.City = normalizeCity(rec.City)
	if err := s.store.Create(ctx, &rec); err != nil {
		return models.WeatherRecord{}, err
	}
	s.writeCache(ctx, "create", cache.CityKey(rec.City), rec)
	s.loggerFor(ctx).Debug("weather created", zap.String("city", rec.City))
	return rec, nil
}

// Update applies in to the currently stored record for city and writes the result
// through. The stored record, never the cached copy, is the update target. Returns
// store.ErrNotFound if the city does not exist and store.ErrVersionConflict if a
// concurrent writer updated it first. in.City is ignored; the path city is authoritative.
func (s *WeatherService) Update(ctx context.Context, city string, in models.WeatherInput) (models.WeatherRecord, error) {
	city = normalizeCity(city)
	current, ok, err := s.store.FindByCity(ctx, city)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	if !ok {
		return models.WeatherRecord{}, fmt.Errorf("update weather for %s: %w", city, store.ErrNotFound)
	}

	current.Apply(in)
	if err := s.store.Update(ctx, &current); err != nil {
		return models.WeatherRecord{}, err
	}
	s.writeCache(ctx, "update", cache.CityKey(current.City), current)
	s.loggerFor(ctx).Debug("weather updated", zap.String("city", current.City), zap.Int("version", current.Version))
	return current, nil
}

// Delete removes the record for city if it exists and evicts its cache entry.
// Deleting an unknown city is a no-op, not an error.
func (s *WeatherService) Delete(ctx context.Context, city string) error {
	city = normalizeCity(city)
	current, ok, err := s.store.FindByCity(ctx, city)
	if err != nil {
		return err
	}
	if ok {
		if err := s.store.Delete(ctx, current); err != nil {
			return err
		}
	}
	s.evictCache(ctx, "delete", cache.CityKey(city))
	s.loggerFor(ctx).Debug("weather deleted", zap.String("city", city), zap.Bool("existed", ok))
	return nil
}

// EvictAllCache clears the weatherCacheAll namespace. It has no store effect, so a cache
// failure is returned to the caller.
func (s *WeatherService) EvictAllCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx, cache.NamespaceAll); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("clear", categorizeCacheError(err)).Inc()
		return fmt.Errorf("evict %s: %w", cache.NamespaceAll, err)
	}
	s.loggerFor(ctx).Info("cache namespace evicted", zap.String("namespace", cache.NamespaceAll))
	return nil
}

// readCache decodes the entry for key into dest. It returns false on miss, on backend
// error (fail open), and on an undecodable entry, which is evicted.
func (s *WeatherService) readCache(ctx context.Context, key cache.Key, dest interface{}) bool {
	logger := s.loggerFor(ctx)
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		logger.Warn("cache get failed, reading store", zap.String("key", key.String()), zap.Error(err))
		return false
	}
	if !ok {
		observability.CacheMissesTotal.WithLabelValues(key.Namespace).Inc()
		logger.Debug("cache miss", zap.String("key", key.String()))
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("decode", "corrupt").Inc()
		logger.Warn("undecodable cache entry, evicting", zap.String("key", key.String()), zap.Error(err))
		s.evictCache(ctx, "decode", key)
		return false
	}
	observability.CacheHitsTotal.WithLabelValues(key.Namespace).Inc()
	logger.Debug("cache hit", zap.String("key", key.String()))
	return true
}

// writeCache serializes value under key. Failures are logged, never returned: the store
// write that preceded it already succeeded and the store stays authoritative.
func (s *WeatherService) writeCache(ctx context.Context, op string, key cache.Key, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.loggerFor(ctx).Error("cache encode failed", zap.String("op", op), zap.String("key", key.String()), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		s.loggerFor(ctx).Warn("cache write-through failed", zap.String("op", op), zap.String("key", key.String()), zap.Error(err))
	}
}

// evictCache deletes key, logging failures the same way as writeCache.
func (s *WeatherService) evictCache(ctx context.Context, op string, key cache.Key) {
	if err := s.cache.Delete(ctx, key); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("delete", categorizeCacheError(err)).Inc()
		s.loggerFor(ctx).Warn("cache evict failed", zap.String("op", op), zap.String("key", key.String()), zap.Error(err))
	}
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unavailable, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	if errors.Is(err, cache.ErrCacheUnavailable) {
		return "unavailable"
	}
	return "unknown"
}

// normalizeCity trims surrounding whitespace. Case is preserved: the store lookup is
// exact-match and the cache key must agree with it.
func normalizeCity(city string) string {
	return strings.TrimSpace(city)
}
