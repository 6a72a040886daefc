package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	pipelineconfig "github.com/02loveslollipop/urban-heat-differential/internal/config"
)

// Config holds environment-driven settings for the REST API.
type Config struct {
	AppEnv      string
	LogLevel    slog.Level
	DatabaseURL string
	Port        int
	BearerToken string
	DefaultDays int
	MaxDays     int
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		AppEnv:      "dev",
		Port:        8080,
		DefaultDays: 30,
		MaxDays:     366,
	}

	if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" {
		if env != "dev" && env != "prod" {
			return cfg, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", env)
		}
		cfg.AppEnv = env
	}

	level, err := pipelineconfig.ParseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return cfg, err
	}
	cfg.LogLevel = level

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	if daysStr := os.Getenv("API_DEFAULT_DAYS"); daysStr != "" {
		if days, err := strconv.Atoi(daysStr); err == nil && days > 0 {
			cfg.DefaultDays = days
		} else {
			return cfg, fmt.Errorf("invalid API_DEFAULT_DAYS: %s", daysStr)
		}
	}

	if daysStr := os.Getenv("API_MAX_DAYS"); daysStr != "" {
		if days, err := strconv.Atoi(daysStr); err == nil && days > 0 {
			cfg.MaxDays = days
		} else {
			return cfg, fmt.Errorf("invalid API_MAX_DAYS: %s", daysStr)
		}
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
