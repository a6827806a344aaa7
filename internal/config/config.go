// Package config reads process settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ServiceName    = "fulfillmentd"
	ServiceVersion = "0.1.0"
)

const (
	defaultPort              = "8080"
	defaultKafkaTopic        = "fulfillment-events"
	defaultUsersAPIURL       = "https://users.roblox.com"
	defaultEconomyAPIURL     = "https://economy.roblox.com"
	defaultPurchaseHorizon   = 30 * time.Minute
	defaultPollInterval      = 30 * time.Second
	defaultFetchLimit        = 10
	defaultBaselineLimit     = 50
	defaultLowStockThreshold = 3
	defaultIntentRetention   = time.Hour
	defaultMaxResolved       = 10000
	defaultLogLevel          = "info"
)

type Config struct {
	Port        string
	DatabaseURL string

	KafkaBroker string
	KafkaTopic  string

	UsersAPIURL   string
	EconomyAPIURL string
	GroupID       string
	EconomyCookie string

	PurchaseHorizon   time.Duration
	PollInterval      time.Duration
	FetchLimit        int
	BaselineLimit     int
	LowStockThreshold int

	IntentRetention time.Duration
	MaxResolved     int

	OtelEndpoint   string
	OtelAuthHeader string
	LogLevel       string
}

// FromEnv builds a Config. Optional settings fall back to defaults with a
// warning; malformed numbers and durations are errors.
func FromEnv(logger *zap.Logger) (Config, error) {
	cfg := Config{
		Port:           stringOr(logger, "PORT", defaultPort),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		KafkaBroker:    os.Getenv("KAFKA_BROKER"),
		KafkaTopic:     stringOr(logger, "KAFKA_TOPIC", defaultKafkaTopic),
		UsersAPIURL:    stringOr(logger, "USERS_API_URL", defaultUsersAPIURL),
		EconomyAPIURL:  stringOr(logger, "ECONOMY_API_URL", defaultEconomyAPIURL),
		GroupID:        strings.TrimSpace(os.Getenv("GROUP_ID")),
		EconomyCookie:  strings.TrimSpace(os.Getenv("ECONOMY_COOKIE")),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
		LogLevel:       stringOr(logger, "LOG_LEVEL", defaultLogLevel),
	}

	var err error
	if cfg.PurchaseHorizon, err = durationOr(logger, "PURCHASE_HORIZON", defaultPurchaseHorizon); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = durationOr(logger, "POLL_INTERVAL", defaultPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.FetchLimit, err = intOr(logger, "FETCH_LIMIT", defaultFetchLimit); err != nil {
		return Config{}, err
	}
	if cfg.BaselineLimit, err = intOr(logger, "BASELINE_LIMIT", defaultBaselineLimit); err != nil {
		return Config{}, err
	}
	if cfg.LowStockThreshold, err = intOr(logger, "LOW_STOCK_THRESHOLD", defaultLowStockThreshold); err != nil {
		return Config{}, err
	}
	if cfg.IntentRetention, err = durationOr(logger, "INTENT_RETENTION", defaultIntentRetention); err != nil {
		return Config{}, err
	}
	if cfg.MaxResolved, err = intOr(logger, "INTENT_RETAIN_MAX", defaultMaxResolved); err != nil {
		return Config{}, err
	}

	if cfg.GroupID == "" {
		return Config{}, fmt.Errorf("GROUP_ID environment variable is required")
	}
	if cfg.EconomyCookie == "" {
		return Config{}, fmt.Errorf("ECONOMY_COOKIE environment variable is required")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.PurchaseHorizon < 0 {
		return Config{}, fmt.Errorf("PURCHASE_HORIZON must not be negative, got %s", cfg.PurchaseHorizon)
	}
	if cfg.FetchLimit <= 0 || cfg.BaselineLimit <= 0 {
		return Config{}, fmt.Errorf("FETCH_LIMIT and BASELINE_LIMIT must be positive")
	}
	if cfg.IntentRetention < 0 || cfg.MaxResolved < 0 {
		return Config{}, fmt.Errorf("INTENT_RETENTION and INTENT_RETAIN_MAX must not be negative")
	}

	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, audit archive disabled")
	}
	if cfg.KafkaBroker == "" {
		logger.Warn("KAFKA_BROKER not set, events will be dropped")
	}
	return cfg, nil
}

func stringOr(logger *zap.Logger, key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		logger.Info("using default", zap.String("key", key), zap.String("value", def))
		return def
	}
	return v
}

func durationOr(logger *zap.Logger, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		logger.Info("using default", zap.String("key", key), zap.Duration("value", def))
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func intOr(logger *zap.Logger, key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		logger.Info("using default", zap.String("key", key), zap.Int("value", def))
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
