package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env             string
	HTTPAddr        string
	DatabaseURL     string
	RedisURL        string
	RedisTLSSkip    bool
	JWTAccessSecret string
	CORSAllowAll    bool
	CORSOrigins     []string
	PhoneRegion     string
	DedupeLookback  time.Duration
	BatchWorkers    int
	WebhookDeadline time.Duration
	AsynqQueue      string
	AsynqWorkers    int
	OutboundCallURL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:             getEnv("APP_ENV", "development"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		RedisTLSSkip:    strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:    corsAllowAll,
		CORSOrigins:     corsOrigins,
		PhoneRegion:     getEnv("PHONE_REGION", "IN"),
		DedupeLookback:  mustDuration(getEnv("DEDUPE_LOOKBACK", "2160h")),
		BatchWorkers:    mustInt(getEnv("INGEST_BATCH_WORKERS", "4")),
		WebhookDeadline: mustDuration(getEnv("WEBHOOK_DEADLINE", "3s")),
		AsynqQueue:      getEnv("ASYNQ_QUEUE", "default"),
		AsynqWorkers:    mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		OutboundCallURL: getEnv("OUTBOUND_CALL_URL", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.BatchWorkers < 1 {
		cfg.BatchWorkers = 1
	}
	if cfg.WebhookDeadline <= 0 {
		cfg.WebhookDeadline = 3 * time.Second
	}
	if cfg.DedupeLookback <= 0 {
		cfg.DedupeLookback = 90 * 24 * time.Hour
	}

	return cfg, nil
}

// GetJWTAccessSecret satisfies httpkit.JWTConfig.
func (c *Config) GetJWTAccessSecret() string {
	return c.JWTAccessSecret
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
