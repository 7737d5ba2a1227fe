package config

import (
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	BaseURL     string `env:"BASE_URL" default:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"168h"` // 7 days

	EmailAPIKey string `env:"EMAIL_API_KEY"`
	EmailFrom   string `env:"EMAIL_FROM"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Delivery worker tuning.
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" default:"1s"`
	SendTimeout        time.Duration `env:"SEND_TIMEOUT" default:"10s"`
	MaxSendRetries     int           `env:"MAX_SEND_RETRIES" default:"5"`
	InitialSendBackoff time.Duration `env:"INITIAL_SEND_BACKOFF" default:"5s"`
	MaxSendBackoff     time.Duration `env:"MAX_SEND_BACKOFF" default:"10m"`

	// How long a committed-but-incomplete idempotency reservation stays
	// authoritative before a retry may reclaim it.
	IdempotencyPendingLease time.Duration `env:"IDEMPOTENCY_PENDING_LEASE" default:"60s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":   cfg.DatabaseURL,
		"SESSION_SECRET": cfg.SessionSecret,
		"EMAIL_API_KEY":  cfg.EmailAPIKey,
		"EMAIL_FROM":     cfg.EmailFrom,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if _, err := mail.ParseAddress(cfg.EmailFrom); err != nil {
		return fmt.Errorf("EMAIL_FROM must be a valid email address: %w", err)
	}

	if cfg.MaxSendRetries < 1 {
		return fmt.Errorf("MAX_SEND_RETRIES must be at least 1, got %d", cfg.MaxSendRetries)
	}
	if cfg.InitialSendBackoff <= 0 || cfg.MaxSendBackoff < cfg.InitialSendBackoff {
		return fmt.Errorf("send backoff window is invalid: initial=%s max=%s", cfg.InitialSendBackoff, cfg.MaxSendBackoff)
	}

	return nil
}
