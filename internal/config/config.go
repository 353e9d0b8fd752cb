// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Port               string   `validate:"required,numeric"`
	DataDir            string   `validate:"required"`
	CORSAllowedOrigins []string `validate:"dive,required"`
	LogLevel           string   `validate:"oneof=debug info warn error"`
	LogFormat          string   `validate:"oneof=json text"`

	// MaxParallel bounds the number of files decoded concurrently.
	MaxParallel int `validate:"min=1,max=64"`

	// DailyStatTimeZone is the time_zone of ERA5 daily-statistics requests,
	// e.g. "utc+02:00".
	DailyStatTimeZone string `validate:"required,startswith=utc"`
	// Era5Frequency is the sub-daily sampling used for daily statistics.
	Era5Frequency string `validate:"oneof=1_hourly 3_hourly 6_hourly"`
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	maxParallel, err := getEnvInt("MAX_PARALLEL", 4)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DataDir:           getEnv("DATA_DIR", "./data"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "json")),
		MaxParallel:       maxParallel,
		DailyStatTimeZone: strings.ToLower(getEnv("DAILY_STAT_TIME_ZONE", "utc+02:00")),
		Era5Frequency:     getEnv("ERA5_FREQUENCY", "1_hourly"),
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, strings.TrimSpace(o))
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
