package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"plume/internal/browser"
	"plume/internal/config"
	"plume/internal/executor"
	"plume/internal/extract"
	"plume/internal/logging"
	"plume/internal/ratelimit"
	"plume/internal/recovery"
	"plume/internal/scheduler"
	"plume/internal/store"
	"plume/internal/walog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the posting daemon (scheduler + recovery sweep)",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cfg.StorePath())
		if err != nil {
			return fmt.Errorf("open decision store: %w", err)
		}
		defer st.Close()

		wal, err := walog.Open(cfg.WALPath())
		if err != nil {
			return fmt.Errorf("open write-ahead log: %w", err)
		}
		defer wal.Close()

		pool := browser.NewPool(cfg.Pool, cfg.Platform)
		defer pool.Shutdown()

		exec := executor.New(cfg.Executor, cfg.Platform)
		extractor := extract.New(cfg.Extraction, cfg.Platform)
		limiter := ratelimit.New(st, cfg.RateLimit)
		sched := scheduler.New(cfg.Scheduler, cfg.Platform, st, pool, exec, extractor, limiter, wal)
		rec := recovery.New(cfg.Recovery, cfg.Platform, st, wal, pool, extractor, nil)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Rate policy follows the config file while the daemon runs;
		// everything else requires a restart.
		if err := config.Watch(ctx, configPath, func(next *config.Config) {
			limiter.SetPolicy(next.RateLimit)
		}); err != nil {
			logging.Get(logging.CategoryBoot).Warn("config watch disabled: %v", err)
		}

		logging.Get(logging.CategoryBoot).Info("daemon starting: store=%s wal=%s", cfg.StorePath(), cfg.WALPath())

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sched.Run(ctx) })
		g.Go(func() error { return rec.Run(ctx) })
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
