package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/lance13c/portalpilot/internal/database"
	"github.com/lance13c/portalpilot/internal/recorder"
	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored submission records",
}

var (
	recordsFilter recorder.Filter
	recordsStatus string
	recordsJSON   bool
)

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submission records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRecordsList,
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show one record with its errors, decisions and screenshots",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)

	f := recordsListCmd.Flags()
	f.StringVarP(&recordsFilter.TargetCode, "target", "t", "", "only records of this target")
	f.StringVarP(&recordsFilter.DeclarationID, "declaration", "d", "", "only records of this declaration")
	f.StringVarP(&recordsStatus, "status", "s", "", "pending, success or failed")
	f.IntVarP(&recordsFilter.Limit, "limit", "n", 50, "maximum records to list")

	recordsShowCmd.Flags().BoolVar(&recordsJSON, "json", false, "print the record as JSON")
}

func openDatabase() (*database.DB, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	return database.New(cfg.Storage.DatabasePath)
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	switch s := recorder.Status(recordsStatus); s {
	case "", recorder.StatusPending, recorder.StatusSuccess, recorder.StatusFailed:
		recordsFilter.Status = s
	default:
		return fmt.Errorf("unknown status %q", recordsStatus)
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.Submissions().List(cmd.Context(), recordsFilter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tDECLARATION\tSTATUS\tREFERENCE\tFAILURE\tSTARTED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.TargetCode, r.DeclarationID, r.Status, r.Reference, r.FailureKind, formatTime(&r.StartedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	stats, err := db.Statistics(cmd.Context())
	if err != nil {
		return err
	}
	statuses := make([]string, 0, len(stats))
	for s := range stats {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	fmt.Fprint(out, "\nTotals:")
	for _, s := range statuses {
		fmt.Fprintf(out, " %s=%d", s, stats[s])
	}
	fmt.Fprintln(out)
	return nil
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := db.Submissions().Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if recordsJSON {
		return printJSON(cmd.OutOrStdout(), rec)
	}
	printRecord(cmd.OutOrStdout(), rec, true)
	return nil
}
