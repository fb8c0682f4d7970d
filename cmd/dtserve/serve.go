package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gnemet/datatables/database/dbpool"
	"github.com/gnemet/datatables/internal/config"
	"github.com/gnemet/datatables/internal/logging"
	"github.com/gnemet/datatables/internal/server"
	"github.com/gnemet/datatables/internal/sqlselect"
	"github.com/gnemet/datatables/internal/watch"
)

func newServeCommand() *cobra.Command {
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured grids over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath, watchConfig)
		},
	}
	cmd.Flags().BoolVarP(&watchConfig, "watch", "w", false, "Reload grids when the configuration file changes")
	return cmd
}

func runServe(ctx context.Context, path string, watchConfig bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger, closeLog := logging.Setup(cfg.Log)
	defer closeLog()

	cache, err := sqlselect.NewCache(cfg.Cache.Size)
	if err != nil {
		return fmt.Errorf("failed to create analysis cache: %w", err)
	}

	reg, err := server.NewRegistry(ctx, cfg, dbpool.Open)
	if err != nil {
		return err
	}
	srv := server.New(cfg.Server, reg, cache, logger)
	defer func() { <-srv.Swap(nil).Retire() }()

	if watchConfig {
		w, err := watch.New(path, func() error {
			return reload(ctx, srv, path, logger)
		}, watch.DefaultDebounce, logger)
		if err != nil {
			return err
		}
		w.Start()
		defer w.Stop()
	}

	return srv.ListenAndServe(ctx)
}

// reload swaps in the grids of the changed file. Server settings need a
// restart.
func reload(ctx context.Context, srv *server.Server, path string, logger *slog.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	reg, err := server.NewRegistry(ctx, cfg, dbpool.Open)
	if err != nil {
		return err
	}
	srv.Swap(reg).Retire()
	logger.Info("Grids reloaded", "grids", reg.Names())
	return nil
}
