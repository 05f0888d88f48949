package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/littlebearapps/untether/process"
	"github.com/littlebearapps/untether/sessions"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Kill orphaned agent processes left by a crash",
	Long: `Cleanup scans for supervised agent processes whose session is not in
the local session store and kills them. Runs resumed from a stored
session survive a supervisor crash as ordinary OS processes; this
reclaims them.

Interactive agent sessions you started yourself are never touched.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := sessions.OpenDefault()
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}

		known := make(map[string]bool)
		for _, v := range store.ResumeValues() {
			known[v] = true
		}

		ctx := cmd.Context()
		if cleanupDryRun {
			orphans, err := process.FindOrphans(ctx, known)
			if err != nil {
				return err
			}
			if len(orphans) == 0 {
				fmt.Println("no orphaned agent processes found")
				return nil
			}
			for _, proc := range orphans {
				fmt.Printf("would kill %d: %s\n", proc.PID, proc.Command)
			}
			return nil
		}

		killed, err := process.CleanupOrphans(ctx, known)
		if err != nil {
			return err
		}
		fmt.Printf("killed %d orphaned agent process(es)\n", killed)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "list orphans without killing them")
	rootCmd.AddCommand(cleanupCmd)
}
