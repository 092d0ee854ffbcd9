// Package store is the durable record store for weather rows. It is the source of truth;
// everything in the cache is derived from it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

var (
	// ErrNotFound is returned when an update targets a city with no stored record.
	ErrNotFound = errors.New("weather record not found")

	// ErrConflict is returned when a create violates the unique city constraint.
	ErrConflict = errors.New("weather record already exists")

	// ErrVersionConflict is returned when an update lost an optimistic-concurrency race.
	ErrVersionConflict = errors.New("weather record was modified concurrently")
)

// RecordStore is the persistence contract the weather service depends on.
type RecordStore interface {
	FindAll(ctx context.Context) ([]models.WeatherRecord, error)
	// FindByCity returns (record, true, nil) when found and (zero, false, nil) when absent.
	FindByCity(ctx context.Context, city string) (models.WeatherRecord, bool, error)
	// Create inserts rec, assigning ID and the initial Version.
	Create(ctx context.Context, rec *models.WeatherRecord) error
	// Update persists rec if its Version still matches the stored one, then increments rec.Version.
	Update(ctx context.Context, rec *models.WeatherRecord) error
	Delete(ctx context.Context, rec models.WeatherRecord) error
	Ping(ctx context.Context) error
}

// Options configures Open.
type Options struct {
	Driver       string // "sqlite" or "mysql"
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// GormStore implements RecordStore on GORM.
type GormStore struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the weather table.
func Open(opts Options) (*GormStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "file:weather.db"
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		if opts.DSN == "" {
			return nil, errors.New("mysql dsn is required")
		}
		dialector = mysql.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		// Single writer; also keeps a :memory: database on one connection.
		sqlDB.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLife)
	}

	if err := db.AutoMigrate(&models.WeatherRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate weather table: %w", err)
	}
	return &GormStore{db: db}, nil
}

// FindAll returns every record ordered by ID. Never returns a nil slice.
func (s *GormStore) FindAll(ctx context.Context) ([]models.WeatherRecord, error) {
	start := time.Now()
	records := make([]models.WeatherRecord, 0)
	err := s.db.WithContext(ctx).Order("id").Find(&records).Error
	observability.ObserveStoreOp("find_all", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("find all weather: %w", err)
	}
	return records, nil
}

// FindByCity implements RecordStore.FindByCity. Matching is exact: a row found only through a
// case-insensitive column collation (MySQL's default) is reported as absent, so the stored
// city always equals the cache key it is read through.
func (s *GormStore) FindByCity(ctx context.Context, city string) (models.WeatherRecord, bool, error) {
	start := time.Now()
	var rec models.WeatherRecord
	err := s.db.WithContext(ctx).Where("city = ?", city).Take(&rec).Error
	if err == nil && rec.City != city {
		err = gorm.ErrRecordNotFound
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		observability.ObserveStoreOp("find_by_city", nil, time.Since(start).Seconds())
		return models.WeatherRecord{}, false, nil
	}
	observability.ObserveStoreOp("find_by_city", err, time.Since(start).Seconds())
	if err != nil {
		return models.WeatherRecord{}, false, fmt.Errorf("find weather for %s: %w", city, err)
	}
	return rec, true, nil
}

// Create implements RecordStore.Create. A duplicate city maps to ErrConflict.
func (s *GormStore) Create(ctx context.Context, rec *models.WeatherRecord) error {
	start := time.Now()
	rec.ID = 0
	rec.Version = 1
	err := s.db.WithContext(ctx).Create(rec).Error
	observability.ObserveStoreOp("create", err, time.Since(start).Seconds())
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("create weather for %s: %w", rec.City, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create weather for %s: %w", rec.City, err)
	}
	return nil
}

// Update implements RecordStore.Update as a compare-and-swap on Version.
// Zero affected rows means another writer got there first (or the row is gone).
func (s *GormStore) Update(ctx context.Context, rec *models.WeatherRecord) error {
	start := time.Now()
	res := s.db.WithContext(ctx).
		Model(&models.WeatherRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"temperature": rec.Temperature,
			"humidity":    rec.Humidity,
			"condition":   rec.Condition,
			"version":     rec.Version + 1,
		})
	observability.ObserveStoreOp("update", res.Error, time.Since(start).Seconds())
	if res.Error != nil {
		return fmt.Errorf("update weather for %s: %w", rec.City, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update weather for %s at version %d: %w", rec.City, rec.Version, ErrVersionConflict)
	}
	rec.Version++
	return nil
}

// Delete implements RecordStore.Delete by primary key.
func (s *GormStore) Delete(ctx context.Context, rec models.WeatherRecord) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Delete(&models.WeatherRecord{}, rec.ID).Error
	observability.ObserveStoreOp("delete", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("delete weather for %s: %w", rec.City, err)
	}
	return nil
}

// Ping checks database reachability. Used for health checks.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool. Call during shutdown.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
