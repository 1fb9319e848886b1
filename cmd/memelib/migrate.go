package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbonduro/memelib/internal/config"
	"github.com/vbonduro/memelib/internal/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger, cleanup, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			// db.Open migrates before returning.
			database, err := db.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(); err != nil {
					logger.Error("failed to close database", "error", err)
				}
			}()

			logger.Info("migrations applied", "dialect", database.Dialect.String())
			fmt.Fprintln(cmd.OutOrStdout(), "Database migrations applied.")
			return nil
		},
	}
}
