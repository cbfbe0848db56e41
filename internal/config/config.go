package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	ProgressInterval  time.Duration `envconfig:"PROGRESS_INTERVAL" default:"120ms"`
	SpeedSmoothing    float64       `envconfig:"SPEED_SMOOTHING" default:"0"`
	KeepFinishedFor   time.Duration `envconfig:"KEEP_FINISHED_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"downloads.db"`

	HTTP struct {
		DialTimeout           time.Duration `split_words:"true" default:"30s"`
		TLSHandshakeTimeout   time.Duration `split_words:"true" default:"10s"`
		ResponseHeaderTimeout time.Duration `split_words:"true" default:"30s"`
		IdleConnTimeout       time.Duration `split_words:"true" default:"90s"`
		MaxIdleConnsPerHost   int           `split_words:"true" default:"10"`
		UserAgent             string        `split_words:"true" default:"game-downloader/1.0"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"game_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	if c.SpeedSmoothing < 0 || c.SpeedSmoothing >= 1 {
		return errors.New("SPEED_SMOOTHING must be in [0, 1)")
	}

	if c.ProgressInterval < 0 {
		return errors.New("PROGRESS_INTERVAL must not be negative")
	}

	if (c.API.Username == "") != (c.API.Password == "") {
		return errors.New("API_USERNAME and API_PASSWORD must be set together")
	}

	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
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
