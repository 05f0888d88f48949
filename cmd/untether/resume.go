package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/littlebearapps/untether/claude"
	"github.com/littlebearapps/untether/engine"
)

var resumeFormat string

var resumeCmd = &cobra.Command{
	Use:   "resume [text]",
	Short: "Extract or format a resume marker",
	Long: `Resume extracts the session id from text containing a resume
marker, reading stdin when no argument is given. With --format it does
the reverse and prints the marker for a session id.

Examples:
  untether run "..." | untether resume
  untether resume --format abc123`,
	RunE: func(_ *cobra.Command, args []string) error {
		if resumeFormat != "" {
			fmt.Println(claude.FormatResume(engine.ResumeToken{Engine: engine.Claude, Value: resumeFormat}))
			return nil
		}

		text := strings.Join(args, " ")
		if text == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			text = string(data)
		}
		token, ok := claude.ParseResume(text)
		if !ok {
			return fmt.Errorf("no resume marker found")
		}
		fmt.Println(token.Value)
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFormat, "format", "", "session id to format as a marker")
	rootCmd.AddCommand(resumeCmd)
}
