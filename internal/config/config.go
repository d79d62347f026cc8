package config

import (
	"os"
	"time"
)

type Config struct {
	// Client side.
	BaseURL         string
	HTTPTimeout     time.Duration
	StreamRetryBase time.Duration
	StreamRetryMax  time.Duration

	// Dev backend.
	ListenAddr      string
	StoreMode       string
	DatabaseURL     string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	DemoEmail       string
	DemoPassword    string

	LogLevel string
}

func Load() Config {
	return Config{
		BaseURL:         getEnv("BASE_URL", "http://localhost:18090"),
		HTTPTimeout:     getDuration("HTTP_TIMEOUT", 10*time.Second),
		StreamRetryBase: getDuration("STREAM_RETRY_BASE", 500*time.Millisecond),
		StreamRetryMax:  getDuration("STREAM_RETRY_MAX", 15*time.Second),
		ListenAddr:      getEnv("LISTEN_ADDR", ":18090"),
		StoreMode:       getEnv("STORE_MODE", "memory"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", "change-this-secret"),
		AccessTokenTTL:  getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getDuration("REFRESH_TOKEN_TTL", 720*time.Hour),
		DemoEmail:       getEnv("DEMO_EMAIL", "demo@bistro.local"),
		DemoPassword:    getEnv("DEMO_PASSWORD", "demo"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
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
