package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds coordinator configuration.
type Config struct {
	LogLevel string

	// Registry backend: "memory", "sqlite", "postgres" or "redis".
	RegistryBackend string
	SQLitePath      string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	// Timelock profiles file; empty means built-in defaults only.
	TimelockProfiles string

	RetryMaxAttempts int
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration

	BreakerThreshold int
	BreakerReset     time.Duration

	RateLimit float64
	RateBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := os.Getenv("REGISTRY_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "swapcore.db"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://swapcore@localhost:5432/swapcore?sslmode=disable"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	return &Config{
		LogLevel:         logLevel,
		RegistryBackend:  backend,
		SQLitePath:       sqlitePath,
		DatabaseURL:      dbURL,
		RedisAddr:        redisAddr,
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          intEnv("REDIS_DB", 0),
		TimelockProfiles: os.Getenv("TIMELOCK_PROFILES"),
		RetryMaxAttempts: intEnv("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseBackoff: durationEnv("RETRY_BASE_BACKOFF", 100*time.Millisecond),
		RetryMaxBackoff:  durationEnv("RETRY_MAX_BACKOFF", 5*time.Second),
		BreakerThreshold: intEnv("BREAKER_THRESHOLD", 5),
		BreakerReset:     durationEnv("BREAKER_RESET", 30*time.Second),
		RateLimit:        floatEnv("RATE_LIMIT", 10),
		RateBurst:        intEnv("RATE_BURST", 5),
	}
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func floatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
