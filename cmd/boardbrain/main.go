// Package main implements the boardbrain CLI: boardview ingest, the chat
// message surface, probe guidance, and plan inspection for board repair
// cases.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"boardbrain/internal/config"
	"boardbrain/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "boardbrain",
	Short: "boardbrain - guardrailed intake engine for board repair diagnosis",
	Long: `boardbrain keeps an LLM diagnosis assistant honest about board facts.

Boardview files and knowledge-base text are ingested into a per-board truth
cache. Every net name a technician or the model mentions is resolved against
that cache before anything is stored; fuzzy matches are refused unless they
are unambiguous. Plans come from the LLM collaborator but only survive if
their requested measurements parse and reference real nets.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Verbose = true
		}
		logger, err = logging.New(cfg.Verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "boardbrain.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(ingestCmd, messageCmd, probeCmd, planCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
