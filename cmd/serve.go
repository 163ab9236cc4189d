package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/canon"
	"github.com/kulesh/catsyphon-sub001/internal/collector"
	"github.com/kulesh/catsyphon-sub001/internal/config"
	"github.com/kulesh/catsyphon-sub001/internal/httpapi"
	"github.com/kulesh/catsyphon-sub001/internal/ingest"
	"github.com/kulesh/catsyphon-sub001/internal/sweep"
	"github.com/kulesh/catsyphon-sub001/internal/watch"
	"github.com/kulesh/catsyphon-sub001/internal/worker"
)

// serveCmd runs the full long-lived process: the §6 HTTP surface, the §4.H
// background worker pool, the orphan-linkage sweep, and every active watch
// daemon restored from watch_configs — one process, like the teacher's
// single gateway binary.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, background workers, and watch daemons",
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
			coll := collector.New(stores, logger)
			canonGen := canon.New(stores)
			watchMgr := watch.NewManager(stores, pipeline, cfg.Watch, logger)

			provider := newProvider(cfg)
			if provider == nil {
				logger.Warn("serve.no_provider_configured", "hint", "set CATSYPHON_ANTHROPIC_API_KEY or CATSYPHON_OPENAI_API_KEY to enable tagging")
			}
			pool := worker.New(stores, canonGen, provider, cfg.Workers, logger)

			listWorkspaces := func(ctx context.Context) ([]uuid.UUID, error) {
				workspaces, err := stores.Workspaces.List(ctx)
				if err != nil {
					return nil, err
				}
				ids := make([]uuid.UUID, len(workspaces))
				for i, w := range workspaces {
					ids[i] = w.ID
				}
				return ids, nil
			}
			sweeper := sweep.New(stores, listWorkspaces, logger)

			server := httpapi.NewServer(stores, coll, canonGen, watchMgr, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := watchMgr.RestoreActive(ctx); err != nil {
				return err
			}
			go pool.Run(ctx)
			go sweeper.Run(ctx)

			addr := cfg.HTTP.Addr
			httpServer := &http.Server{
				Addr:         addr,
				Handler:      server.Mux(),
				ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
				WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("serve.shutdown_signal", "signal", sig.String())
				cancel()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info("serve.listening", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return apperr.Wrap(apperr.Internal, fmt.Sprintf("http server on %s", addr), err)
			}
			return nil
		},
	}
}
