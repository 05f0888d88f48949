package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is stamped by the release build; a source build reports the
// module version from build info.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the untether version",
	Run: func(_ *cobra.Command, _ []string) {
		v := version
		if v == "dev" {
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
				v = info.Main.Version
			}
		}
		fmt.Println("untether", v)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
