package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/logging"
	"github.com/user/hostaudit/pkg/report"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit the host and print the score and findings",
	Long: `Runs every enabled module and prints the security score and failed
findings. Nothing on the host is changed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("output")
		all, _ := cmd.Flags().GetBool("all")
		save, _ := cmd.Flags().GetBool("save")
		failOn, _ := cmd.Flags().GetString("fail-on")
		only, _ := cmd.Flags().GetStringSlice("module")

		var threshold engine.Severity
		if failOn != "" {
			sev, err := engine.ParseSeverity(failOn)
			if err != nil {
				return usageError(err)
			}
			threshold = sev
		}

		a, err := newApp(only)
		if err != nil {
			return err
		}
		rep, _, err := a.session().Audit(cmd.Context())
		if err != nil {
			return err
		}

		if save {
			saveReport(cmd, rep)
		}
		if err := writeReport(cmd.OutOrStdout(), rep, format, all); err != nil {
			return usageError(err)
		}

		if threshold != "" {
			for _, f := range rep.Findings {
				if f.Failed() && f.Severity.Rank() >= threshold.Rank() {
					return exitWith(report.ExitFailure)
				}
			}
		}
		return nil
	},
}

// writeReport renders rep as text, json or sarif.
func writeReport(w io.Writer, rep *report.Report, format string, all bool) error {
	switch format {
	case "", "text":
		return report.WriteText(w, rep, report.TextOptions{Color: useColor(os.Stdout), All: all})
	case "json":
		return report.WriteJSON(w, rep)
	case "sarif":
		return report.WriteSARIF(w, rep, version)
	}
	return fmt.Errorf("unknown output format %q (text, json or sarif)", format)
}

// saveReport stores rep in the run history. A failure is logged, not fatal.
func saveReport(cmd *cobra.Command, rep *report.Report) {
	store, err := openHistory()
	if err != nil {
		logging.Logger.Warnw("run history unavailable", "path", cfg.HistoryDB, "error", err)
		return
	}
	defer func() { _ = store.Close() }()
	if err := store.Save(cmd.Context(), rep); err != nil {
		logging.Logger.Warnw("saving run failed", "run_id", rep.RunID, "error", err)
		return
	}
	logging.Logger.Debugw("run saved", "run_id", rep.RunID)
}

func init() {
	auditCmd.Flags().StringP("output", "o", "text", "Output format: text, json or sarif")
	auditCmd.Flags().Bool("all", false, "Also list passed checks")
	auditCmd.Flags().Bool("save", false, "Save the run to the history database")
	auditCmd.Flags().String("fail-on", "", "Exit 1 if a failed finding has at least this severity (low, medium, high)")
	auditCmd.Flags().StringSliceP("module", "m", nil, "Only audit these modules")
	rootCmd.AddCommand(auditCmd)
}
