// Package bootstrap provides dependency initialization for the montage API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/montage-api/internal/audio"
	"github.com/maauso/montage-api/internal/config"
	"github.com/maauso/montage-api/internal/media"
	"github.com/maauso/montage-api/internal/render"
	"github.com/maauso/montage-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	RenderService *render.Service
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize media processor and audio muxer
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	muxer := audio.NewFFmpegMuxer(cfg.FFmpegPath)

	// Initialize render repository
	repo := render.NewMemoryRepository()

	svc := render.NewService(
		repo,
		processor,
		muxer,
		store,
		logger,
		render.WithMaxConcurrentRenders(cfg.MaxConcurrentRenders),
		render.WithToolTimeout(cfg.ToolTimeout),
		render.WithPublishToS3(cfg.S3Enabled()),
	)

	return &Dependencies{
		RenderService: svc,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	dirs := storage.Dirs{
		Intake: cfg.IntakeDir,
		Temp:   cfg.TempDir,
		Output: cfg.OutputDir,
	}

	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(dirs, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(dirs)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("intake_dir", cfg.IntakeDir),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("output_dir", cfg.OutputDir),
	)
	return localStore, nil
}
