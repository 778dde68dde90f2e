package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var appVersion = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "portalpilot version %s\n", appVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// SetVersion sets the version reported by the version command
func SetVersion(version string) {
	appVersion = version
}
