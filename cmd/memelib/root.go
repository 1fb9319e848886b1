package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vbonduro/memelib/internal/app"
	"github.com/vbonduro/memelib/internal/config"
	"github.com/vbonduro/memelib/internal/logging"
)

// errReported marks failures whose message was already written for the user.
var errReported = errors.New("reported")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memelib",
		Short: "Meme template library backend",
		Long: `memelib stores meme image templates and their metadata.
Configuration is read from the environment (DATABASE_URL, STORAGE_DRIVER, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newTemplatesCmd())
	return root
}

// withApp loads configuration and logging, builds the App, and runs fn with it.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()

	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	logger, cleanup, err := logging.New(logging.Options{
		Service: "memelib",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, cleanup, nil
}
