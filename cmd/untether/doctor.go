package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/littlebearapps/untether/cli"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that required CLI tools are installed",
	RunE: func(_ *cobra.Command, _ []string) error {
		prereqs := cli.DefaultPrerequisites()
		fmt.Print(cli.FormatCheckResults(cli.CheckAll(prereqs)))
		return cli.ValidateRequired(prereqs)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
