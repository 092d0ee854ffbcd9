package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	RequestTimeout          time.Duration
	ShutdownTimeout         time.Duration
	ShutdownInFlightTimeout time.Duration

	DatabaseDriver       string // "sqlite" or "mysql"
	DatabaseDSN          string
	DatabaseMaxOpenConns int
	DatabaseMaxIdleConns int
	DatabaseConnMaxLife  time.Duration

	CacheBackend      string // "in_memory" or "redis"
	CacheTTL          time.Duration
	CacheMaxEntries   int
	CacheAdminEnabled bool

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	RateLimitRPS    int
	RateLimitBurst  int
	CoalesceTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"inflight_timeout"`
	} `yaml:"shutdown"`

	Database struct {
		Driver       string `yaml:"driver"`
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
		ConnMaxLife  string `yaml:"conn_max_lifetime"`
	} `yaml:"database"`

	Cache struct {
		Backend      string `yaml:"backend"`
		TTL          string `yaml:"ttl"`
		MaxEntries   int    `yaml:"max_entries"`
		AdminEnabled *bool  `yaml:"admin_enabled"`
		Redis struct {
			Addr         string `yaml:"addr"`
			DB           int    `yaml:"db"`
			PoolSize     int    `yaml:"pool_size"`
			DialTimeout  string `yaml:"dial_timeout"`
			ReadTimeout  string `yaml:"read_timeout"`
			WriteTimeout string `yaml:"write_timeout"`
		} `yaml:"redis"`
		Breaker struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"breaker"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS    int    `yaml:"rate_limit_rps"`
		RateLimitBurst  int    `yaml:"rate_limit_burst"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
	} `yaml:"reliability"`
}

type secretsFile struct {
	DatabaseDSN   string `yaml:"database_dsn"`
	RedisPassword string `yaml:"redis_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml,
// after loading an optional .env file into the environment. Env vars override file values.
// When ENV_NAME is unset and config/dev.yaml does not exist, defaults are used. Call from
// project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := loadDotEnv(filepath.Join(cwd, ".env")); err != nil {
		return nil, err
	}

	env, explicit := os.LookupEnv("ENV_NAME")
	if env == "" {
		env = "dev"
		explicit = false
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var sec secretsFile
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	secretsData, err := os.ReadFile(secretsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)

	cfg.DatabaseDriver = strings.ToLower(firstNonEmpty(os.Getenv("DATABASE_DRIVER"), fc.Database.Driver, "sqlite"))
	cfg.DatabaseDSN = firstNonEmpty(os.Getenv("DATABASE_DSN"), sec.DatabaseDSN, fc.Database.DSN)
	if cfg.DatabaseDSN == "" && cfg.DatabaseDriver == "sqlite" {
		cfg.DatabaseDSN = "file:weather.db"
	}
	cfg.DatabaseMaxOpenConns = positiveOr(fc.Database.MaxOpenConns, 10)
	cfg.DatabaseMaxIdleConns = positiveOr(fc.Database.MaxIdleConns, 5)
	cfg.DatabaseConnMaxLife = parseDuration(fc.Database.ConnMaxLife, 30*time.Minute)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheMaxEntries = positiveOr(fc.Cache.MaxEntries, 10000)
	cfg.CacheAdminEnabled = true
	if fc.Cache.AdminEnabled != nil {
		cfg.CacheAdminEnabled = *fc.Cache.AdminEnabled
	}

	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be an integer, got %q", v)
		}
		cfg.RedisDB = db
	}
	cfg.RedisPoolSize = positiveOr(fc.Cache.Redis.PoolSize, 10)
	cfg.RedisDialTimeout = parseDuration(fc.Cache.Redis.DialTimeout, 500*time.Millisecond)
	cfg.RedisReadTimeout = parseDuration(fc.Cache.Redis.ReadTimeout, 250*time.Millisecond)
	cfg.RedisWriteTimeout = parseDuration(fc.Cache.Redis.WriteTimeout, 250*time.Millisecond)

	cfg.BreakerFailureThreshold = positiveOr(fc.Cache.Breaker.FailureThreshold, 5)
	cfg.BreakerSuccessThreshold = positiveOr(fc.Cache.Breaker.SuccessThreshold, 1)
	cfg.BreakerTimeout = parseDuration(fc.Cache.Breaker.Timeout, 30*time.Second)

	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 5*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the process environment if it exists. Variables already set
// are not overridden.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func positiveOr(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// validate performs post-load validation of configuration values.
// Rejects unknown cache backends and database drivers, and a mysql driver with no DSN.
// The request timeout must leave room for a coalesced store load.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or redis, got %q", cfg.CacheBackend)
	}
	switch cfg.DatabaseDriver {
	case "sqlite":
	case "mysql":
		if cfg.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN required when database.driver is mysql")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or mysql, got %q", cfg.DatabaseDriver)
	}
	if cfg.CoalesceTimeout > cfg.RequestTimeout {
		cfg.CoalesceTimeout = cfg.RequestTimeout
	}
	return nil
}
