// Command untether runs coding agents headless: one-shot prompts from
// the terminal, or a trigger server turning webhooks and schedules into
// runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/littlebearapps/untether/logger"
)

var rootCmd = &cobra.Command{
	Use:   "untether",
	Short: "Run coding agents without a terminal attached",
	Long: `Untether supervises coding agent subprocesses and turns their
streaming output into a uniform event feed.

Examples:
  untether run "fix the failing tests"
  untether run --resume abc123 "now add a regression test"
  untether triggers
  untether version`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetDebug(debugLogging)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		logger.Close()
	},
}

var debugLogging bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
