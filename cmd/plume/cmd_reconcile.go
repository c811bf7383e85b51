package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"plume/internal/browser"
	"plume/internal/extract"
	"plume/internal/recovery"
	"plume/internal/store"
	"plume/internal/types"
	"plume/internal/walog"
)

var reconcileCompact bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one recovery sweep and exit",
	Long: `Runs a single reconciliation pass: unverified write-ahead records past
the grace period are resolved by post-hoc extraction, and intents stuck
awaiting confirmation past the escalation threshold are alerted on.
Useful after a crash, without waiting for the daemon's next sweep.`,
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

		extractor := extract.New(cfg.Extraction, cfg.Platform)
		rec := recovery.New(cfg.Recovery, cfg.Platform, st, wal, pool, extractor, stderrSink{})
		rec.Sweep(cmd.Context())

		if reconcileCompact {
			if err := wal.Compact(); err != nil {
				return fmt.Errorf("compact write-ahead log: %w", err)
			}
			fmt.Println("write-ahead log compacted")
		}
		return nil
	},
}

// stderrSink prints escalations where an operator running a manual
// sweep will actually see them.
type stderrSink struct{}

func (stderrSink) Escalate(e types.Escalation) {
	fmt.Printf("ESCALATION %s: unresolved for %ds, last state %s\n",
		e.DecisionID, e.AgeSeconds, e.LastKnownState)
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileCompact, "compact", false, "rewrite the write-ahead log dropping verified records")
	rootCmd.AddCommand(reconcileCmd)
}
