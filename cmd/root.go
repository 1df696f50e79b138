package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Persistent flags shared by every subcommand
type rootFlags struct {
	cfgFile  string
	verbose  bool
	seed     int64
	logLevel string
}

// NewRootCmd builds the horseshoe command tree
func NewRootCmd() *cobra.Command {
	rf := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "horseshoe",
		Short: "Bayesian sparse regression with a Horseshoe prior",
		Long: `horseshoe fits a linear regression with a Horseshoe prior on the
coefficients using the No-U-Turn sampler.
Among other features:

  - Simulated sparse datasets (or your own, in a simple text format)
  - Multiple chains with step size and diagonal metric adaptation
  - Effective sample size, R-hat, CSV traces and trace plots
  - Live Prometheus metrics while sampling
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rf.cfgFile, "config", "c", "", "config file (.yaml, .toml or .json)")
	pf.BoolVarP(&rf.verbose, "verbose", "v", false, "Verbose logging (same as --log-level debug)")
	pf.Int64VarP(&rf.seed, "seed", "r", 1, "Random seed for the sampler")
	pf.StringVar(&rf.logLevel, "log-level", "info", "Log level: debug|info|warn|error")

	rootCmd.AddCommand(
		newSimulateCmd(rf),
		newFitCmd(rf),
		newDotCmd(rf),
	)

	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
