package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration. Backend connection parameters
// (database DSNs, Redis addresses, browser options) are not configured here:
// they travel in each workflow's provider config maps.
type Config struct {
	ServerPort string
	LogLevel   string

	// Upper bound on concurrent provider operations per run.
	ProviderPermits int64
	// Cap on the navigation history kept per page context.
	HistoryCap int
	// Optional overall run deadline; zero disables it.
	RunDeadline time.Duration

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ProviderPermits: int64(getEnvAsInt("PROVIDER_PERMITS", 10)),
		HistoryCap:      getEnvAsInt("HISTORY_CAP", 100),
		RunDeadline:     getEnvAsDuration("RUN_DEADLINE_SECONDS", 0) * time.Second,
		RetryBaseDelay:  getEnvAsDuration("RETRY_BASE_DELAY_MS", 500) * time.Millisecond,
		RetryMaxDelay:   getEnvAsDuration("RETRY_MAX_DELAY_MS", 30000) * time.Millisecond,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback))
}
