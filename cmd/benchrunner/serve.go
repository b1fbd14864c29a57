package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/benchrunner/internal/api"
	"github.com/seantiz/benchrunner/internal/config"
	"github.com/seantiz/benchrunner/internal/engine"
	"github.com/seantiz/benchrunner/internal/store"
)

func newServeCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.Info("benchrunner: starting",
				"listen_addr", cfg.ListenAddr,
				"db_path", cfg.DBPath,
			)

			db, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			reg, err := newRegistry(cfg, logger)
			if err != nil {
				return err
			}

			eng := engine.NewEngine(db, reg, engine.Options{
				TotalSamples: cfg.TotalSamples,
				PerfSamples:  cfg.PerfSamples,
				Seed:         cfg.Seed,
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return api.NewServer(cfg.ListenAddr, db, reg, eng, logger).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	return cmd
}
