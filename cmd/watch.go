package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/config"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/ingest"
	"github.com/kulesh/catsyphon-sub001/internal/watch"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Filesystem watch daemon management",
	}
	cmd.AddCommand(watchRunCmd())
	cmd.AddCommand(watchAddCmd())
	return cmd
}

// watchRunCmd restores every watch_configs row with is_active=true and
// blocks, running their daemons, until SIGINT/SIGTERM (§4.G).
func watchRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Restore and run every active watch daemon until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return apperr.Wrap(apperr.Internal, "load config", err)
			}
			logger := newLogger(cfg)

			stores, db, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			registry, err := newRegistry(cfg, logger)
			if err != nil {
				return err
			}
			pipeline := ingest.NewPipeline(stores, registry, logger)
			manager := watch.NewManager(stores, pipeline, cfg.Watch, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := manager.RestoreActive(ctx); err != nil {
				return err
			}
			logger.Info("watch.daemon_started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("watch.shutdown_signal", "signal", sig.String())
			cancel()
			return nil
		},
	}
}

// watchAddCmd only registers the row inactive; `watch run` (or the
// /watch/configs/{id}/start HTTP endpoint) is what actually starts a
// daemon, since a daemon started by a one-shot CLI process would die the
// moment this command returns.
func watchAddCmd() *cobra.Command {
	var workspaceIDStr string

	cmd := &cobra.Command{
		Use:   "add <directory>",
		Short: "Register a directory to watch for a workspace (inactive until started)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, err := uuid.Parse(workspaceIDStr)
			if err != nil {
				return apperr.Wrap(apperr.InvalidArgument, "--workspace-id is required and must be a UUID", err)
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return apperr.Wrap(apperr.Internal, "load config", err)
			}

			stores, db, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			wc := &domain.WatchConfig{WorkspaceID: workspaceID, DirectoryPath: args[0]}
			if err := stores.WatchConfigs.Create(context.Background(), wc); err != nil {
				return err
			}

			slog.Info("watch.config_created", "id", wc.ID, "directory_path", wc.DirectoryPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceIDStr, "workspace-id", "", "workspace UUID this watch belongs to (required)")
	return cmd
}
