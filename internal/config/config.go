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
	DownloadDir string `envconfig:"DOWNLOAD_DIR" required:"true"`
	DBPath      string `envconfig:"DB_PATH" default:"downloads.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`

	EnricherWorkers   int           `envconfig:"ENRICHER_WORKERS" default:"2"`
	DownloadWorkers   int           `envconfig:"DOWNLOAD_WORKERS" default:"2"`
	MaxEnrichAttempts int           `envconfig:"MAX_ENRICH_ATTEMPTS" default:"5"`
	ClaimPoll         time.Duration `envconfig:"CLAIM_POLL" default:"2s"`
	FetchTimeout      time.Duration `envconfig:"FETCH_TIMEOUT" default:"10m"`

	EnableRetryWorker bool          `envconfig:"ENABLE_RETRY_WORKER" default:"true"`
	RetryInterval     time.Duration `envconfig:"RETRY_INTERVAL" default:"1m"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Throttle struct {
		Enabled            bool          `split_words:"true" default:"false"`
		StatsPath          string        `split_words:"true" default:"throttle_stats.json"`
		DownloadDelay      time.Duration `split_words:"true" default:"3s"`
		MinDelay           time.Duration `split_words:"true" default:"30s"`
		MaxPerHour         int           `split_words:"true" default:"0"`
		MaxPerDay          int           `split_words:"true" default:"0"`
		SessionBreakTracks int           `split_words:"true" default:"15"`
		SessionBreak       time.Duration `split_words:"true" default:"5m"`
		Services           []string      `split_words:"true" default:"apple_music"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"on-the-spot"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9090"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
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

// ThrottledService reports whether the given service tag is on the paced list.
func (c *Config) ThrottledService(service string) bool {
	for _, s := range c.Throttle.Services {
		if strings.EqualFold(s, service) {
			return true
		}
	}
	return false
}
