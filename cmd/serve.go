package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pagecraft/internal/collab"
	"github.com/conneroisu/pagecraft/internal/server"
	"github.com/conneroisu/pagecraft/internal/templates"
	"github.com/conneroisu/pagecraft/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Run the hub with its websocket, API and preview endpoints",
	Long: `Run the sync hub. Editors connect to /ws/{project}/{page}; pages are
managed under /api/projects/{project}/pages and previewed at
/preview/{project}/{page}. Changed pages are flushed to storage on the
configured schedule and on shutdown.

Examples:
  pagecraft serve
  pagecraft serve --port 9000 --host 0.0.0.0
  PAGECRAFT_STORAGE_DRIVER=memory pagecraft serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	AddStandardFlags(serveCmd, "server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	pages, err := openPages(cfg)
	if err != nil {
		return err
	}
	defer pages.Close()

	library := templates.NewLibrary(cfg.Templates.Dir, logger)
	if err := library.Load(cmd.Context()); err != nil {
		logger.Warn(cmd.Context(), err, "some templates failed to load")
	}

	hub := collab.NewHub(collab.HubConfig{
		Pages:            pages,
		Logger:           logger,
		MaxReplayGap:     cfg.Sync.MaxReplayGap,
		JournalSize:      cfg.Sync.JournalSize,
		HeartbeatTimeout: cfg.Sync.HeartbeatTimeout,
		SendBuffer:       cfg.Sync.SendBuffer,
	})

	srv := server.New(server.Options{
		Config:    cfg.Server,
		Hub:       hub,
		Templates: library,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flusher, err := hub.ScheduleFlush(ctx, cfg.Storage.FlushSchedule)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.Templates.Watch && cfg.Templates.Dir != "" {
		g.Go(func() error {
			// Serving continues without hot reload.
			if err := library.Watch(gctx, watcher.DefaultDebounce); err != nil {
				logger.Warn(gctx, err, "template watcher stopped", "dir", cfg.Templates.Dir)
			}
			return nil
		})
	}

	cmd.Printf("pagecraft hub listening on http://%s\n", cfg.Server.Address())
	runErr := g.Wait()

	<-flusher.Stop().Done()
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		logger.Error(closeCtx, err, "final flush failed")
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info(closeCtx, "hub stopped")
	return runErr
}
