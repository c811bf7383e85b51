// plume posts on a schedule through the platform's own web UI and
// refuses to lose track of what it posted. The daemon (plume run) pairs
// a posting scheduler with a recovery reconciler over a shared session
// pool; the remaining commands inspect and feed the decision store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plume/internal/config"
	"plume/internal/logging"
)

var (
	configPath string
	debugMode  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "plume",
	Short: "Resilient posting automation over a browser UI",
	Long: `plume drives a real browser to publish posts, replies, and threads on a
schedule. Every submission is written ahead to a durable log before it
touches the platform, confirmed through layered identifier extraction,
and reconciled by a background sweep, so a crash can never silently
lose or double-post content.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if debugMode {
			cfg.Logging.DebugMode = true
		}
		return logging.Initialize(cfg.DataDir, logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
			JSONFormat: cfg.Logging.JSONFormat,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "plume.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable category debug logs under <data_dir>/logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
