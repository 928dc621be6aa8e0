package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wptspec/internal/productspec"
	"wptspec/internal/runs"
)

var (
	runProducts []string
	runMaxCount int
	runFrom     string
	runTo       string
)

// runsCmd groups the test-run store commands
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage the test-run store",
}

var runsImportCmd = &cobra.Command{
	Use:   "import [file...]",
	Short: "Import test runs from JSON files",
	Long: `Imports runs from JSON files holding either one run or an array of runs,
in the dashboard's run format. Nothing is stored if any file fails to decode.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest runs matching product specs",
	Long: `Lists the newest runs for each --product (default: the default browsers).

Example:
  wptspec runs list --product chrome[experimental] --product firefox-68 --max-count 3`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var runsVersionsCmd = &cobra.Command{
	Use:   "versions [spec]",
	Short: "List known versions of a product, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersions,
}

func init() {
	runsListCmd.Flags().StringArrayVarP(&runProducts, "product", "p", nil, "Product spec to match (repeatable)")
	runsListCmd.Flags().IntVarP(&runMaxCount, "max-count", "n", 1, "Maximum runs per product")
	runsListCmd.Flags().StringVar(&runFrom, "from", "", "Only runs started at or after this RFC 3339 time")
	runsListCmd.Flags().StringVar(&runTo, "to", "", "Only runs started before this RFC 3339 time")

	runsCmd.AddCommand(runsImportCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsVersionsCmd)
}

func openStore() (*runs.Store, error) {
	return runs.Open(cfg.Store.DatabasePath, cfg.GetBusyTimeout())
}

func runImport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := runs.Import(contextOf(cmd), store, args...)
	if err != nil {
		return err
	}
	logger.Info("imported runs", zap.Int("count", n), zap.Strings("files", args))
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d runs\n", n)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	if runMaxCount < 1 {
		return fmt.Errorf("--max-count must be at least 1")
	}
	q := runs.Query{MaxCount: runMaxCount}

	if len(runProducts) > 0 {
		specs, err := productspec.ParseAll(runProducts...)
		if err != nil {
			return err
		}
		q.Products = specs
	} else {
		q.Products = cfg.LabelCatalog().DefaultProducts()
	}
	var err error
	if q.From, err = parseTime(runFrom); err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	if q.To, err = parseTime(runTo); err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	found, err := store.List(contextOf(cmd), q)
	if err != nil {
		return err
	}
	if jsonOutput {
		if found == nil {
			found = []runs.TestRun{}
		}
		return writeJSON(cmd.OutOrStdout(), found)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSPEC\tOS\tSTARTED")
	for _, r := range found {
		started := ""
		if !r.TimeStart.IsZero() {
			started = r.TimeStart.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.Spec(), strings.TrimSpace(r.OSName+" "+r.OSVersion), started)
	}
	return tw.Flush()
}

func runVersions(cmd *cobra.Command, args []string) error {
	spec, err := productspec.Parse(args[0])
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	versions, err := store.Versions(contextOf(cmd), spec)
	if err != nil {
		return err
	}
	if jsonOutput {
		if versions == nil {
			versions = []string{}
		}
		return writeJSON(cmd.OutOrStdout(), versions)
	}
	for _, v := range versions {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// contextOf returns the command's context, or Background for commands run
// directly in tests.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
