package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultWeatherURL     = "https://archive-api.open-meteo.com/v1/archive"
	defaultRequestTimeout = 30 * time.Second
	defaultDaysBack       = 3
	defaultMinRunInterval = 20 * time.Hour
	defaultMaxRetries     = 3
	defaultRetryBackoff   = 500 * time.Millisecond
	defaultRequestsPerMin = 10
	defaultScheduleAt     = "06:00"
	defaultMetricsAddr    = ":9102"
)

// Config holds runtime configuration for the daily pipeline.
type Config struct {
	AppEnv   string
	LogLevel slog.Level

	DatabaseURL    string
	WeatherURL     string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	// RequestsPerMinute throttles archive requests; negative disables it.
	RequestsPerMinute int

	DaysBack       int
	MinRunInterval time.Duration
	ScheduleAt     string
	MetricsAddr    string
	LocationsFile  string
	DryRun         bool

	ReportBucket    string
	ReportRegion    string
	ReportEndpoint  string
	ReportPathStyle bool

	TelegramToken   string
	TelegramChatIDs []int64
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.AppEnv = strings.TrimSpace(os.Getenv("APP_ENV"))
	if cfg.AppEnv == "" {
		cfg.AppEnv = "dev"
	}
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return cfg, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}

	level, err := ParseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return cfg, err
	}
	cfg.LogLevel = level

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	cfg.WeatherURL = strings.TrimSpace(os.Getenv("WEATHER_API_URL"))
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = defaultWeatherURL
	}

	cfg.RequestTimeout = defaultRequestTimeout
	if v := strings.TrimSpace(os.Getenv("PIPELINE_REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PIPELINE_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	cfg.MaxRetries = defaultMaxRetries
	if v := strings.TrimSpace(os.Getenv("PIPELINE_MAX_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid PIPELINE_MAX_RETRIES: %q", v)
		}
		cfg.MaxRetries = n
	}

	cfg.RetryBackoff = defaultRetryBackoff
	if v := strings.TrimSpace(os.Getenv("PIPELINE_RETRY_BACKOFF")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PIPELINE_RETRY_BACKOFF: %w", err)
		}
		cfg.RetryBackoff = d
	}

	cfg.RequestsPerMinute = defaultRequestsPerMin
	if v := strings.TrimSpace(os.Getenv("PIPELINE_REQUESTS_PER_MINUTE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n == 0 {
			return cfg, fmt.Errorf("invalid PIPELINE_REQUESTS_PER_MINUTE: %q", v)
		}
		cfg.RequestsPerMinute = n
	}

	cfg.DaysBack = defaultDaysBack
	if v := strings.TrimSpace(os.Getenv("PIPELINE_DAYS_BACK")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid PIPELINE_DAYS_BACK: %q", v)
		}
		cfg.DaysBack = n
	}

	cfg.MinRunInterval = defaultMinRunInterval
	if v := strings.TrimSpace(os.Getenv("PIPELINE_MIN_RUN_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PIPELINE_MIN_RUN_INTERVAL: %w", err)
		}
		cfg.MinRunInterval = d
	}

	cfg.ScheduleAt = strings.TrimSpace(os.Getenv("PIPELINE_SCHEDULE_AT"))
	if cfg.ScheduleAt == "" {
		cfg.ScheduleAt = defaultScheduleAt
	}
	if _, err := time.Parse("15:04", cfg.ScheduleAt); err != nil {
		return cfg, fmt.Errorf("invalid PIPELINE_SCHEDULE_AT: %w", err)
	}

	cfg.MetricsAddr = strings.TrimSpace(os.Getenv("METRICS_ADDR"))
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}

	cfg.LocationsFile = strings.TrimSpace(os.Getenv("LOCATIONS_FILE"))

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	cfg.ReportBucket = strings.TrimSpace(os.Getenv("RUN_REPORT_S3_BUCKET"))
	cfg.ReportRegion = strings.TrimSpace(os.Getenv("RUN_REPORT_S3_REGION"))
	cfg.ReportEndpoint = strings.TrimSpace(os.Getenv("RUN_REPORT_S3_ENDPOINT"))
	cfg.ReportPathStyle = strings.EqualFold(strings.TrimSpace(os.Getenv("RUN_REPORT_S3_PATH_STYLE")), "true")

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if raw := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_IDS")); raw != "" {
		ids, err := parseChatIDs(raw)
		if err != nil {
			return cfg, err
		}
		cfg.TelegramChatIDs = ids
	}
	if cfg.TelegramToken != "" && len(cfg.TelegramChatIDs) == 0 {
		return cfg, errors.New("TELEGRAM_CHAT_IDS is required when TELEGRAM_BOT_TOKEN is set")
	}

	return cfg, nil
}

// ParseLogLevel maps LOG_LEVEL values onto slog levels; empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func parseChatIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
