// Package config loads agentd's process configuration from environment
// variables, with safe local-dev defaults (§1.2).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	DataDir             string
	CredentialsKey      string
	LogLevel            string
	ShutdownTimeout     time.Duration
	RefreshMaxAttempts  int
	WSAddr              string
	IntegrationsFile    string
	CallerTokenKey      string
	CallerTokenTTL      time.Duration
	// RedisAddr, when set, backs the OAuth Refresh Manager's distributed
	// lock (§4.4) for multi-process deployments. Empty means single-
	// process in-memory dedup only.
	RedisAddr string
	// DatabaseURL, when set, is a postgres connection string for the
	// credential store (multi-writer deployments). Empty falls back to a
	// local sqlite file under DataDir.
	DatabaseURL string
}

// Load loads configuration from environment variables, falling back to
// defaults safe for local single-user development.
func Load() *Config {
	return &Config{
		DataDir:            getenv("AGENTD_DATA_DIR", "./data"),
		CredentialsKey:     getenv("AGENTD_CREDENTIALS_KEY", ""),
		LogLevel:           getenv("AGENTD_LOG_LEVEL", "INFO"),
		ShutdownTimeout:    getenvDuration("AGENTD_SHUTDOWN_TIMEOUT", 10*time.Second),
		RefreshMaxAttempts: getenvInt("AGENTD_REFRESH_MAX_ATTEMPTS", 3),
		WSAddr:             getenv("AGENTD_WS_ADDR", ":8090"),
		IntegrationsFile:   getenv("AGENTD_INTEGRATIONS_FILE", "integrations.yaml"),
		CallerTokenKey:     getenv("AGENTD_CALLER_TOKEN_KEY", ""),
		CallerTokenTTL:     getenvDuration("AGENTD_CALLER_TOKEN_TTL", time.Hour),
		RedisAddr:          getenv("AGENTD_REDIS_ADDR", ""),
		DatabaseURL:        getenv("AGENTD_DATABASE_URL", ""),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
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

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
