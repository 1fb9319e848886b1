package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vbonduro/memelib/internal/config"
	"github.com/vbonduro/memelib/internal/db"
	"github.com/vbonduro/memelib/internal/disk"
	"github.com/vbonduro/memelib/internal/disk/local"
	"github.com/vbonduro/memelib/internal/disk/s3"
	"github.com/vbonduro/memelib/internal/metrics"
	"github.com/vbonduro/memelib/internal/service"
	"github.com/vbonduro/memelib/internal/store"
	"github.com/vbonduro/memelib/internal/web"
)

// App holds everything a command needs. The disk is chosen once from
// config and never swapped.
type App struct {
	Config  *config.Config
	DB      *db.DB
	Disk    disk.Disk
	Metrics *metrics.Metrics
	Service *service.TemplateService
	Logger  *slog.Logger

	// local is set only for the local driver, which also serves its blobs.
	local  *local.LocalDisk
	policy service.DeletePolicy
}

// New opens the database (applying migrations), builds and prepares the
// configured disk and wires the service. Callers must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	policy, err := service.ParseDeletePolicy(cfg.DeletePolicy)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &App{Config: cfg, DB: database, Metrics: metrics.New(), Logger: logger, policy: policy}

	raw, err := a.newDisk(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Disk = metrics.InstrumentDisk(raw, cfg.StorageDriver, a.Metrics)

	if err := a.Disk.Ensure(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to prepare %s storage: %w", cfg.StorageDriver, err)
	}
	logger.Info("storage ready", "driver", cfg.StorageDriver, "database", database.Dialect.String())

	a.Service = a.NewService()
	return a, nil
}

// NewService builds a template service over the App's database and disk
// with the configured delete policy and metrics. opts are applied last.
func (a *App) NewService(opts ...service.Option) *service.TemplateService {
	base := []service.Option{
		service.WithDeletePolicy(a.policy),
		service.WithRecorder(a.Metrics),
	}
	return service.NewTemplateService(store.NewTemplateStore(a.DB), a.Disk, a.Logger, append(base, opts...)...)
}

func (a *App) newDisk(ctx context.Context) (disk.Disk, error) {
	switch a.Config.StorageDriver {
	case config.StorageS3:
		d, err := s3.NewS3Disk(ctx, s3.Config{
			Bucket:          a.Config.S3Bucket,
			Region:          a.Config.S3Region,
			Prefix:          a.Config.S3Prefix,
			Endpoint:        a.Config.S3EndpointURL,
			AccessKeyID:     a.Config.S3AccessKeyID,
			SecretAccessKey: a.Config.S3SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 storage: %w", err)
		}
		return d, nil
	default:
		a.local = local.NewLocalDisk(a.Config.StorageLocalPath, a.Config.StorageLocalBaseURL)
		return a.local, nil
	}
}

// Server builds the HTTP surface. Locally stored blobs are served from
// the disk's URL prefix when it is a path on this server.
func (a *App) Server() *web.Server {
	opts := web.Options{
		Metrics:        a.Metrics.Handler(),
		Health:         a.DB.PingContext,
		MaxUploadBytes: a.Config.MaxUploadBytes,
		AllowedOrigins: a.Config.AllowedOrigins,
		AllowedHosts:   a.Config.AllowedHosts,
	}
	if a.local != nil && strings.HasPrefix(a.local.BaseURL(), "/") {
		opts.StaticPrefix = a.local.BaseURL()
		opts.StaticRoot = a.local.Root()
	}
	return web.NewServer(a.Service, a.Logger, opts)
}

func (a *App) Close() {
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("failed to close database", "error", err)
	}
}
