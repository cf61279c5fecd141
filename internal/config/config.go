// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidMaxMediaItems is returned when MAX_MEDIA_ITEMS is not positive.
	ErrInvalidMaxMediaItems = errors.New("config: MAX_MEDIA_ITEMS must be positive")
	// ErrInvalidMaxUploadMB is returned when MAX_UPLOAD_MB is not positive.
	ErrInvalidMaxUploadMB = errors.New("config: MAX_UPLOAD_MB must be positive")
	// ErrInvalidMaxConcurrentRenders is returned when MAX_CONCURRENT_RENDERS is not positive.
	ErrInvalidMaxConcurrentRenders = errors.New("config: MAX_CONCURRENT_RENDERS must be positive")
	// ErrInvalidToolTimeout is returned when TOOL_TIMEOUT is negative.
	ErrInvalidToolTimeout = errors.New("config: TOOL_TIMEOUT must not be negative")
	// ErrDirRequired is returned when one of the working directories is empty.
	ErrDirRequired = errors.New("config: INTAKE_DIR, TEMP_DIR and OUTPUT_DIR are required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int `env:"PORT, default=8080" json:"port"`
	MaxUploadMB int `env:"MAX_UPLOAD_MB, default=512" json:"max_upload_mb"`

	// Working directories
	IntakeDir string `env:"INTAKE_DIR, default=/tmp/montage/uploads" json:"intake_dir"`
	TempDir   string `env:"TEMP_DIR, default=/tmp/montage/temp" json:"temp_dir"`
	OutputDir string `env:"OUTPUT_DIR, default=/tmp/montage/output" json:"output_dir"`

	// Tooling
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Processing settings
	MaxMediaItems        int           `env:"MAX_MEDIA_ITEMS, default=50" json:"max_media_items"`
	MaxConcurrentRenders int           `env:"MAX_CONCURRENT_RENDERS, default=2" json:"max_concurrent_renders"`
	ToolTimeout          time.Duration `env:"TOOL_TIMEOUT, default=0s" json:"tool_timeout"` // 0 disables

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MaxUploadBytes returns the multipart body limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that limits and directories are usable.
func (c *Config) Validate() error {
	if c.IntakeDir == "" || c.TempDir == "" || c.OutputDir == "" {
		return ErrDirRequired
	}
	if c.MaxMediaItems <= 0 {
		return ErrInvalidMaxMediaItems
	}
	if c.MaxUploadMB <= 0 {
		return ErrInvalidMaxUploadMB
	}
	if c.MaxConcurrentRenders <= 0 {
		return ErrInvalidMaxConcurrentRenders
	}
	if c.ToolTimeout < 0 {
		return ErrInvalidToolTimeout
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, IntakeDir: %s, TempDir: %s, OutputDir: %s, FFmpegPath: %s, MaxMediaItems: %d, MaxConcurrentRenders: %d, ToolTimeout: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.IntakeDir,
		c.TempDir,
		c.OutputDir,
		c.FFmpegPath,
		c.MaxMediaItems,
		c.MaxConcurrentRenders,
		c.ToolTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
