package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect saved audit and remediation runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		runs, err := store.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved runs.")
			return nil
		}
		var rows [][]string
		for _, r := range runs {
			rows = append(rows, []string{
				r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Host,
				strconv.Itoa(r.Score), strconv.Itoa(r.High), strconv.Itoa(r.Medium), strconv.Itoa(r.Low),
				strconv.FormatBool(r.Remediated), strconv.Itoa(r.ExitCode),
			})
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header([]string{"Run", "Started", "Host", "Score", "High", "Medium", "Low", "Remediated", "Exit"})
		if err := table.Bulk(rows); err != nil {
			return err
		}
		return table.Render()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rep, err := store.Get(cmd.Context(), args[0])
		if errors.Is(err, history.ErrNotFound) {
			return usageError(err)
		}
		if err != nil {
			return err
		}
		if err := writeReport(cmd.OutOrStdout(), rep, format, false); err != nil {
			return usageError(err)
		}
		return nil
	},
}

var historyDiffCmd = &cobra.Command{
	Use:   "diff [base-run] [current-run]",
	Short: "Compare failed findings of two runs (default: the last two)",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var base, cur string
		if len(args) > 0 {
			base = args[0]
		}
		if len(args) > 1 {
			cur = args[1]
		}
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		diff, err := store.Diff(cmd.Context(), base, cur)
		if errors.Is(err, history.ErrNotFound) {
			return usageError(err)
		}
		if err != nil {
			return err
		}
		writeDiff(cmd, diff)
		return nil
	},
}

func writeDiff(cmd *cobra.Command, diff engine.Diff) {
	out := cmd.OutOrStdout()
	section := func(title string, fs []engine.Finding) {
		fmt.Fprintf(out, "%s (%d)\n", title, len(fs))
		for _, f := range fs {
			fmt.Fprintf(out, "  [%s] %s  %s\n", f.Severity, f.ID, f.Title)
		}
	}
	section("New", diff.New)
	section("Fixed", diff.Fixed)
	section("Unchanged", diff.Unchanged)
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 0 {
			return usageError(fmt.Errorf("--keep must not be negative"))
		}
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := store.Prune(cmd.Context(), keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs.\n", n)
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "Number of runs to list")
	historyShowCmd.Flags().StringP("output", "o", "text", "Output format: text, json or sarif")
	historyPruneCmd.Flags().Int("keep", 50, "Number of newest runs to keep")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDiffCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}
