package config

import (
	"fmt"
	"os"
	"strconv"
)

// Backend names accepted in STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds server settings read from the environment.
type Config struct {
	Port         int
	StoreBackend string
	LogLevel     string
	RulesPath    string

	// RedisURL is used when StoreBackend is "redis".
	RedisURL string

	// Postgres is used when StoreBackend is "postgres".
	Postgres PostgresConfig

	// NATSURL switches event push delivery to NATS when set. When empty,
	// push rides the store's own pub/sub channel.
	NATSURL string
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads server settings from environment variables
// (with defaults suitable for local development).
func NewConfigFromEnv() Config {
	return Config{
		Port:         getEnvAsInt("PORT", 8080),
		StoreBackend: getEnv("STORE_BACKEND", BackendMemory),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		RulesPath:    getEnv("RULES_PATH", ""),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		Postgres: PostgresConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "emojidash"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		NATSURL: getEnv("NATS_URL", ""),
	}
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// DSN returns the Postgres connection URL.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
