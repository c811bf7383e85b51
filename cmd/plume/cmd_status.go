package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"plume/internal/store"
	"plume/internal/walog"
)

var statusCmd = &cobra.Command{
	Use:   "status [decision-id]",
	Short: "Show store counts, or one intent's full state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cfg.StorePath())
		if err != nil {
			return fmt.Errorf("open decision store: %w", err)
		}
		defer st.Close()

		if len(args) == 1 {
			return printIntent(st, args[0])
		}

		stats, err := st.Stats()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-24s %d\n", k, stats[k])
		}

		wal, err := walog.Open(cfg.WALPath())
		if err != nil {
			return fmt.Errorf("open write-ahead log: %w", err)
		}
		defer wal.Close()
		fmt.Printf("%-24s %d\n", "wal_unverified", len(wal.Unverified(time.Now())))
		return nil
	},
}

func printIntent(st *store.Store, id string) error {
	intent, err := st.GetIntent(id)
	if err != nil {
		return err
	}
	if intent == nil {
		return fmt.Errorf("no intent %s", id)
	}
	fmt.Printf("decision_id:  %s\n", intent.DecisionID)
	fmt.Printf("kind:         %s\n", intent.Kind)
	fmt.Printf("status:       %s\n", intent.Status)
	fmt.Printf("identifier:   %s\n", intent.Identifier)
	fmt.Printf("attempts:     %d\n", intent.Attempts)
	fmt.Printf("scheduled_at: %s\n", intent.ScheduledAt.Format(time.RFC3339))
	fmt.Printf("updated_at:   %s\n", intent.UpdatedAt.Format(time.RFC3339))
	if intent.LastURL != "" {
		fmt.Printf("last_url:     %s\n", intent.LastURL)
	}

	outcome, err := st.GetOutcome(id)
	if err != nil {
		return err
	}
	if outcome != nil {
		fmt.Printf("outcome:      %s via %s (%s)\n", outcome.Identifier, outcome.Strategy, outcome.Confidence)
		if outcome.Err != "" {
			fmt.Printf("outcome_err:  %s\n", outcome.Err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
