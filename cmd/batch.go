package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/lance13c/portalpilot/internal/engine"
	"github.com/spf13/cobra"
)

var batchConcurrency int

var batchCmd = &cobra.Command{
	Use:   "batch <target> <declaration-file>...",
	Short: "Submit several declarations concurrently",
	Long: `Batch submits each declaration in its own browser session, running at
most --concurrency at a time. A failed declaration does not stop the others.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 0, "sessions in flight (default from config)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	decls := make([]*engine.Declaration, 0, len(args)-1)
	for _, path := range args[1:] {
		d, err := engine.LoadDeclaration(path)
		if err != nil {
			return err
		}
		decls = append(decls, d)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	if batchConcurrency > 0 {
		a.cfg.Engine.Concurrency = batchConcurrency
	}

	eng, err := a.buildEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	results := eng.SubmitBatch(cmd.Context(), args[0], decls)

	failed := 0
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DECLARATION\tRECORD\tSTATUS\tREFERENCE\tERROR")
	for _, r := range results {
		id, status, ref, msg := "-", "not started", "", ""
		if r.Record != nil {
			id, status, ref = shortID(r.Record.ID), string(r.Record.Status), r.Record.Reference
		}
		if r.Err != nil {
			failed++
			msg = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Declaration, id, status, ref, msg)
	}
	tw.Flush()

	if failed > 0 {
		return &exitError{fmt.Errorf("%d of %d submissions failed", failed, len(results))}
	}
	return nil
}
