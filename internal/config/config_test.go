package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"ENV_NAME", "SERVER_PORT", "CACHE_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"DATABASE_DRIVER", "DATABASE_DSN",
}

// clearConfigEnv unsets every variable Load reads and restores them when the test ends.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

// chdirTemp switches into a fresh temp dir for the duration of the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	clearConfigEnv(t)
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want 10m", cfg.CacheTTL)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.DatabaseDSN != "file:weather.db" {
		t.Errorf("database = %s %q, want sqlite file:weather.db", cfg.DatabaseDriver, cfg.DatabaseDSN)
	}
	if !cfg.CacheAdminEnabled {
		t.Error("CacheAdminEnabled = false, want true by default")
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearConfigEnv(t)
	chdirTemp(t)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_FileValues(t *testing.T) {
	clearConfigEnv(t)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, `
server:
  port: "9090"
request:
  timeout: "3s"
shutdown:
  timeout: "20s"
  inflight_timeout: "4s"
database:
  driver: sqlite
  dsn: "file:test.db"
  max_open_conns: 4
cache:
  backend: redis
  ttl: "2m"
  max_entries: 50
  admin_enabled: false
  redis:
    addr: "redis:6379"
    db: 2
    pool_size: 20
    read_timeout: "100ms"
  breaker:
    failure_threshold: 3
    timeout: "10s"
reliability:
  rate_limit_rps: 7
  rate_limit_burst: 9
  coalesce_timeout: "2s"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "9090"},
		{"RequestTimeout", cfg.RequestTimeout, 3 * time.Second},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 20 * time.Second},
		{"ShutdownInFlightTimeout", cfg.ShutdownInFlightTimeout, 4 * time.Second},
		{"DatabaseDSN", cfg.DatabaseDSN, "file:test.db"},
		{"DatabaseMaxOpenConns", cfg.DatabaseMaxOpenConns, 4},
		{"CacheBackend", cfg.CacheBackend, "redis"},
		{"CacheTTL", cfg.CacheTTL, 2 * time.Minute},
		{"CacheMaxEntries", cfg.CacheMaxEntries, 50},
		{"CacheAdminEnabled", cfg.CacheAdminEnabled, false},
		{"RedisAddr", cfg.RedisAddr, "redis:6379"},
		{"RedisDB", cfg.RedisDB, 2},
		{"RedisPoolSize", cfg.RedisPoolSize, 20},
		{"RedisReadTimeout", cfg.RedisReadTimeout, 100 * time.Millisecond},
		{"BreakerFailureThreshold", cfg.BreakerFailureThreshold, 3},
		{"BreakerTimeout", cfg.BreakerTimeout, 10 * time.Second},
		{"RateLimitRPS", cfg.RateLimitRPS, 7},
		{"RateLimitBurst", cfg.RateLimitBurst, 9},
		{"CoalesceTimeout", cfg.CoalesceTimeout, 2 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearConfigEnv(t)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, "cache:\n  backend: in_memory\n  redis:\n    addr: \"file:6379\"\n")
	t.Setenv("CACHE_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDR", "env:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "redis" {
		t.Errorf("CacheBackend = %q, want redis (env, lowercased)", cfg.CacheBackend)
	}
	if cfg.RedisAddr != "env:6379" {
		t.Errorf("RedisAddr = %q, want env:6379", cfg.RedisAddr)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3", cfg.RedisDB)
	}
	if cfg.ServerPort != "7070" {
		t.Errorf("ServerPort = %q, want 7070", cfg.ServerPort)
	}
}

func TestLoad_InvalidRedisDB(t *testing.T) {
	clearConfigEnv(t)
	chdirTemp(t)
	t.Setenv("REDIS_DB", "zero")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "REDIS_DB") {
		t.Fatalf("Load() error = %v, want REDIS_DB error", err)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearConfigEnv(t)
	dir := chdirTemp(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_ADDR=dotenv:6379\nCACHE_BACKEND=redis\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("CACHE_BACKEND")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RedisAddr != "dotenv:6379" || cfg.CacheBackend != "redis" {
		t.Errorf("Load() = addr %q backend %q, want values from .env", cfg.RedisAddr, cfg.CacheBackend)
	}
}

func TestLoad_SecretsFile(t *testing.T) {
	clearConfigEnv(t)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, "database:\n  driver: mysql\n")
	writeSecretsFile(t, dir, "database_dsn: \"user:pw@tcp(db:3306)/weather\"\nredis_password: s3cret\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseDSN != "user:pw@tcp(db:3306)/weather" {
		t.Errorf("DatabaseDSN = %q, want value from secrets file", cfg.DatabaseDSN)
	}
	if cfg.RedisPassword != "s3cret" {
		t.Errorf("RedisPassword = %q, want value from secrets file", cfg.RedisPassword)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearConfigEnv(t)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, "cache:\n  ttl: \"invalid\"\nrequest:\n  timeout: \"-1s\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want default 10m", cfg.CacheTTL)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want default 5s", cfg.RequestTimeout)
	}
}

func TestLoad_CoalesceTimeoutCappedByRequestTimeout(t *testing.T) {
	clearConfigEnv(t)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, "request:\n  timeout: \"1s\"\nreliability:\n  coalesce_timeout: \"5s\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CoalesceTimeout != time.Second {
		t.Errorf("CoalesceTimeout = %v, want capped to 1s", cfg.CoalesceTimeout)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"unknown backend", "cache:\n  backend: memcached\n", "cache.backend"},
		{"unknown driver", "database:\n  driver: postgres\n", "database.driver"},
		{"mysql without dsn", "database:\n  driver: mysql\n", "DATABASE_DSN"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			dir := chdirTemp(t)
			writeEnvFile(t, dir, tc.yaml)

			cfg, err := Load()
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if cfg != nil {
				t.Fatalf("Load() expected nil config on error, got %+v", cfg)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Load() error = %v, want message containing %q", err, tc.wantMsg)
			}
		})
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	clearConfigEnv(t)
	dir := chdirTemp(t)
	writeEnvFile(t, dir, "not: valid: yaml: [[[")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid config YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse config") {
		t.Errorf("Load() error = %v, want message about parse config", err)
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	clearConfigEnv(t)
	dir := chdirTemp(t)
	writeSecretsFile(t, dir, "not valid: yaml: [[[")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "secrets") {
		t.Fatalf("Load() error = %v, want message about secrets", err)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	clearConfigEnv(t)
	origWd, _ := os.Getwd()
	if err := os.Chdir(findProjectRoot(t)); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort == "" || cfg.CacheTTL <= 0 {
		t.Errorf("Load() did not populate config from config/dev.yaml: %+v", cfg)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
