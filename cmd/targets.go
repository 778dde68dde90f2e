package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/lance13c/portalpilot/internal/target"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Inspect target portal definitions",
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded targets with their last connection test",
	Args:  cobra.NoArgs,
	RunE:  runTargetsList,
}

var targetsValidateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Check target definition files and report every problem",
	Long: `Validate parses each definition file (by default every *.yaml and *.yml under
the configured targets directory) and reports all problems found, instead of
stopping at the first invalid file.`,
	RunE: runTargetsValidate,
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsValidateCmd)
}

func runTargetsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	targets := a.registry.Targets()
	sort.Slice(targets, func(i, j int) bool { return targets[i].Code < targets[j].Code })

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tAUTH\tACTIVE\tAI\tPAGES\tLAST TEST")
	for _, t := range targets {
		last := "-"
		ct, err := a.db.LastConnectionTest(cmd.Context(), t.Code)
		if err != nil {
			return err
		}
		if ct != nil {
			result := "failed"
			if ct.Success {
				result = "ok"
			}
			last = fmt.Sprintf("%s (%s)", formatTime(&ct.TestedAt), result)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%d\t%s\n", t.Code, t.Name, t.AuthMode, t.Active, t.AllowAI, len(t.Pages), last)
	}
	return tw.Flush()
}

func runTargetsValidate(cmd *cobra.Command, args []string) error {
	files := args
	if len(files) == 0 {
		cfg, err := loadedConfig()
		if err != nil {
			return err
		}
		files, err = definitionFiles(cfg.Targets.Dir)
		if err != nil {
			return err
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no target definitions found")
	}

	loader := target.NewLoader()
	out := cmd.OutOrStdout()
	invalid := 0
	codes := map[string]string{}
	for _, path := range files {
		t, err := loader.LoadFile(path)
		if err != nil {
			invalid++
			fmt.Fprintf(out, "❌ %s\n", path)
			var verr *target.ValidationError
			if errors.As(err, &verr) {
				for _, p := range verr.Problems {
					fmt.Fprintf(out, "   - %s\n", p)
				}
			} else {
				fmt.Fprintf(out, "   - %v\n", err)
			}
			continue
		}
		if prev, dup := codes[t.Code]; dup {
			invalid++
			fmt.Fprintf(out, "❌ %s\n   - code %s already defined in %s\n", path, t.Code, prev)
			continue
		}
		codes[t.Code] = path
		fmt.Fprintf(out, "✅ %s (%s, %d pages)\n", path, t.Code, len(t.Pages))
	}

	if invalid > 0 {
		return &exitError{fmt.Errorf("%d of %d definitions invalid", invalid, len(files))}
	}
	return nil
}

func definitionFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return files, nil
}
