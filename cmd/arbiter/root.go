package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/crewline/arbiter/internal/config"
)

var configPath string

// loadConfig loads configuration, honoring the global --config flag.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Asynchronous multi-agent task orchestration",
	Long: `Arbiter coordinates autonomous producer and validator agents over a
message bus. Producers turn component specs into artifacts, validators
judge each artifact against its acceptance criteria, and rejected work
retries with the validator's feedback folded into the next attempt.

A task that exhausts its retry budget escalates to a human, who answers
from the interactive console, with 'arbiter resolve', or by dropping a
control file under .arbiter/signals.

State is persisted per project under .arbiter/, so 'arbiter status' can
inspect a pipeline from another terminal while it runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file to use instead of the default search paths")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
