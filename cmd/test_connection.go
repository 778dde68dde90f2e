package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection <target>",
	Short: "Log in to a target without submitting anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestConnection,
}

func init() {
	rootCmd.AddCommand(testConnectionCmd)
}

func runTestConnection(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	eng, err := a.buildEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	res, err := eng.TestConnection(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, line := range res.Logs {
		fmt.Fprintln(out, line)
	}
	if !res.Success {
		return &exitError{fmt.Errorf("connection test for %s failed", res.Target)}
	}
	fmt.Fprintf(out, "✅ %s reachable (%v)\n", res.Target, res.Duration.Round(time.Millisecond))
	return nil
}
