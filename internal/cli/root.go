// Package cli implements the tally command-line interface using Cobra.
// Commands construct the daemon directly and operate on its engine.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "tally — provider-staking task consensus engine",
	Long: `tally runs consensus rounds over staked providers.
Requesters escrow rewards for numeric or categorical tasks, registered
providers submit results, and finalization pays the agreeing majority
while slashing outliers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
