package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	OfflineRoot   string `envconfig:"OFFLINE_ROOT" default:"offline"`
	DBPath        string `envconfig:"DB_PATH" default:"downloads.db"`
	MaxConcurrent int    `envconfig:"MAX_CONCURRENT" default:"2"`

	// TransferTimeout bounds a single transfer. Zero disables the deadline.
	TransferTimeout time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"0"`

	// CleanupInterval paces the stale-completed sweep. Zero disables it.
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	LogLevel   string `envconfig:"LOG_LEVEL" default:"INFO"`
	WebhookURL string `envconfig:"WEBHOOK_URL"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8632"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT must be at least 1, got %d", cfg.MaxConcurrent)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
