package bootstrap

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	// SessionBackend selects the store pair once at startup: "redis" for
	// multi-worker deployments, "memory" for single-process ones.
	SessionBackend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionTTL          time.Duration
	CountUpdateInterval time.Duration

	// DatabaseDSN enables the Postgres session archive when set.
	DatabaseDSN string

	DetectorURL     string
	DetectorTimeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		SessionBackend: getEnv("SESSION_BACKEND", "redis"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SessionTTL:          time.Duration(getEnvInt("SESSION_TTL_SECONDS", 3600)) * time.Second,
		CountUpdateInterval: time.Duration(getEnvInt("COUNT_UPDATE_INTERVAL_SECONDS", 2)) * time.Second,

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		DetectorURL:     getEnv("DETECTOR_URL", "http://localhost:8090"),
		DetectorTimeout: time.Duration(getEnvInt("DETECTOR_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
