package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crosslock/swapcore/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("REGISTRY_BACKEND", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("RETRY_MAX_ATTEMPTS", "")
	t.Setenv("RETRY_BASE_BACKOFF", "")
	t.Setenv("BREAKER_THRESHOLD", "")
	t.Setenv("RATE_LIMIT", "")

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.RegistryBackend)
	assert.Contains(t, cfg.DatabaseURL, "localhost") // Default is local
	assert.Equal(t, 4, cfg.RetryMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseBackoff)
	assert.Equal(t, 5, cfg.BreakerThreshold)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REGISTRY_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://production:5432/swaps")
	t.Setenv("REDIS_ADDR", "redis-prod:6379")
	t.Setenv("RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("RETRY_BASE_BACKOFF", "250ms")
	t.Setenv("BREAKER_RESET", "1m")
	t.Setenv("RATE_LIMIT", "2.5")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.RegistryBackend)
	assert.Equal(t, "postgres://production:5432/swaps", cfg.DatabaseURL)
	assert.Equal(t, "redis-prod:6379", cfg.RedisAddr)
	assert.Equal(t, 7, cfg.RetryMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseBackoff)
	assert.Equal(t, time.Minute, cfg.BreakerReset)
	assert.Equal(t, 2.5, cfg.RateLimit)
}

// TestLoad_MalformedValuesFallBack verifies that unparseable numbers
// and durations fall back to defaults rather than failing the boot.
func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "many")
	t.Setenv("RETRY_BASE_BACKOFF", "soon")
	t.Setenv("RATE_LIMIT", "fast")

	cfg := config.Load()

	assert.Equal(t, 4, cfg.RetryMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseBackoff)
	assert.Equal(t, float64(10), cfg.RateLimit)
}
