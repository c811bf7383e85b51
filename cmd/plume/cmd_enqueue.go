package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"plume/internal/store"
	"plume/internal/types"
)

var (
	enqueueID       string
	enqueueKind     string
	enqueueTarget   string
	enqueueAt       string
	enqueueSegments []string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a post, reply, or thread for publication",
	Example: `  plume enqueue --segment "hello world"
  plume enqueue --kind reply --target 1234567890 --segment "agreed"
  plume enqueue --kind thread --segment "part one" --segment "part two" --at 2026-09-01T09:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(enqueueSegments) == 0 {
			return fmt.Errorf("at least one --segment required")
		}

		scheduledAt := time.Now()
		if enqueueAt != "" {
			var err error
			scheduledAt, err = time.Parse(time.RFC3339, enqueueAt)
			if err != nil {
				return fmt.Errorf("parse --at: %w", err)
			}
		}
		id := enqueueID
		if id == "" {
			id = uuid.NewString()
		}

		st, err := store.New(cfg.StorePath())
		if err != nil {
			return fmt.Errorf("open decision store: %w", err)
		}
		defer st.Close()

		intent := &types.PostIntent{
			DecisionID:  id,
			Segments:    enqueueSegments,
			Kind:        types.IntentKind(enqueueKind),
			TargetID:    enqueueTarget,
			ScheduledAt: scheduledAt,
			Status:      types.Queued(),
		}
		if err := st.EnqueueIntent(intent); err != nil {
			return err
		}
		fmt.Printf("queued %s (%s, %d segment(s)) for %s\n",
			id, enqueueKind, len(enqueueSegments), scheduledAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueID, "id", "", "decision id (default: random)")
	enqueueCmd.Flags().StringVar(&enqueueKind, "kind", "single", "single, reply, or thread")
	enqueueCmd.Flags().StringVar(&enqueueTarget, "target", "", "platform id of the post to reply to")
	enqueueCmd.Flags().StringVar(&enqueueAt, "at", "", "RFC3339 time to publish (default: now)")
	enqueueCmd.Flags().StringArrayVar(&enqueueSegments, "segment", nil, "post text; repeat for thread segments")
	rootCmd.AddCommand(enqueueCmd)
}
