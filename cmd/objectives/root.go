package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/objectives/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "objectives",
	Short: "Objective policy lifecycle - variant evaluation and policy state",
	Long: `Objectives evaluates competing objective variants and maintains the
lifecycle state of objective policies.

It provides:
  - Deterministic A/B routing of runs to objective variants
  - Shadow evaluation with divergence and upgrade-readiness detection
  - Reward event reduction into CANDIDATE -> VALIDATED -> PROMOTED -> DEPRECATED
    lifecycle state, with tool auto-blacklisting
  - An append-only audit trail of every reduction

Configuration is read from --config (defaults apply when omitted) and can be
overridden with OBJECTIVES_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
