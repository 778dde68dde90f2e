package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/engine"
	"github.com/lance13c/portalpilot/internal/llm"
	"github.com/lance13c/portalpilot/internal/recorder"
	"github.com/spf13/cobra"
)

var (
	submitJSON  bool
	submitQuiet bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <target> <declaration-file>",
	Short: "Submit one declaration to a target portal",
	Long: `Submit reads a YAML or JSON declaration bundle and pushes it through the
target's workflow in a fresh browser session. The submission record is stored
whatever the outcome; its id is printed for 'records show'.`,
	Args: cobra.ExactArgs(2),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "print the submission record as JSON")
	submitCmd.Flags().BoolVarP(&submitQuiet, "quiet", "q", false, "do not print progress")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	decl, err := engine.LoadDeclaration(args[1])
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	var progress io.Writer
	if !submitQuiet {
		progress = cmd.ErrOrStderr()
	}
	eng, err := a.buildEngine(cmd.Context(), progress)
	if err != nil {
		return err
	}

	rec, runErr := eng.Submit(cmd.Context(), args[0], decl)
	if rec == nil {
		return runErr
	}
	if submitJSON {
		if err := printJSON(cmd.OutOrStdout(), rec); err != nil {
			return err
		}
	} else {
		printRecord(cmd.OutOrStdout(), rec, false)
	}
	if runErr != nil {
		return &exitError{runErr}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRecord writes a record summary, plus its audit trail when detailed
func printRecord(w io.Writer, rec *recorder.Record, detailed bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Record:\t%s\n", rec.ID)
	fmt.Fprintf(tw, "Target:\t%s\n", rec.TargetCode)
	fmt.Fprintf(tw, "Declaration:\t%s\n", rec.DeclarationID)
	fmt.Fprintf(tw, "Status:\t%s\n", rec.Status)
	if rec.Reference != "" {
		fmt.Fprintf(tw, "Reference:\t%s\n", rec.Reference)
	}
	if rec.ExternalRecordID != "" {
		fmt.Fprintf(tw, "Portal record:\t%s\n", rec.ExternalRecordID)
	}
	if rec.FailureKind != "" {
		fmt.Fprintf(tw, "Failure:\t%s: %s\n", rec.FailureKind, rec.FailureMessage)
	}
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(&rec.StartedAt))
	fmt.Fprintf(tw, "Finished:\t%s\n", formatTime(rec.FinishedAt))
	fmt.Fprintf(tw, "Screenshots:\t%d\n", len(rec.Screenshots))
	fmt.Fprintf(tw, "Errors/warnings:\t%d/%d\n", len(rec.Errors()), len(rec.Warnings()))
	tw.Flush()

	if !detailed {
		return
	}
	if len(rec.Events) > 0 {
		fmt.Fprintln(w, "\nEvents:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, e := range rec.Events {
			where := e.Page
			if e.Field != "" {
				where += "/" + e.Field
			}
			recovered := ""
			if e.Recovered {
				recovered = "recovered"
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\n", e.Seq, e.Kind, e.Fault, where, recovered, e.Message)
		}
		tw.Flush()
	}
	if len(rec.Decisions) > 0 {
		fmt.Fprintln(w, "\nRecovery decisions:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		var total float64
		for _, d := range rec.Decisions {
			verdict := "accepted"
			if !d.Accepted {
				verdict = "rejected: " + d.Rejection
			}
			cost := "-"
			if d.Source == advisor.SourceAI {
				cost = llm.FormatCost(d.Cost)
				total += d.Cost
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\tretry %d\t%s\t%s\t%s\n", d.Source, d.Kind, d.Action, d.Retry, cost, verdict, d.Reasoning)
		}
		tw.Flush()
		if total > 0 {
			fmt.Fprintf(w, "  advisor cost: %s\n", llm.FormatCost(total))
		}
	}
	if len(rec.Screenshots) > 0 {
		fmt.Fprintln(w, "\nScreenshots:")
		for _, s := range rec.Screenshots {
			fmt.Fprintf(w, "  %d %s %s %s\n", s.Seq, s.State, s.Page, s.Path)
		}
	}
}
