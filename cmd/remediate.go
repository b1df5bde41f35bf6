package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/hostaudit/pkg/report"
	"github.com/user/hostaudit/pkg/ui"
)

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Guided remediation: audit, pick findings, review the plan, apply",
	Long: `Audits the host, lets you pick modules and findings, shows the ordered
plan and applies it step by step. Safe fixes run after the plan is confirmed;
confirm-required and lockout-protected fixes are confirmed one by one.
Changed files are backed up first and a failed step is rolled back, which
halts the plan.

Exit codes: 0 success, 1 a step failed or was rolled back, 2 usage error,
3 aborted by the operator.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")
		only, _ := cmd.Flags().GetStringSlice("module")
		reaudit, _ := cmd.Flags().GetBool("reaudit")
		save, _ := cmd.Flags().GetBool("save")
		format, _ := cmd.Flags().GetString("output")

		interactive := ui.IsTerminal(os.Stdin) && !yes
		if !interactive && !yes && !dryRun {
			return usageError(errors.New("stdin is not a terminal: pass --yes to apply without prompts or --dry-run to preview"))
		}

		a, err := newApp(only)
		if err != nil {
			return err
		}
		s := a.session()
		s.DryRun = dryRun
		s.Reaudit = reaudit
		s.Color = useColor(os.Stdout)

		if interactive {
			s.Adapter = ui.NewPlain(os.Stdin, cmd.OutOrStdout(), s.Color)
		} else {
			// Non-interactive runs show nothing until the final report.
			s.Adapter = &ui.Scripted{AssumeYes: yes, Handler: func(p ui.Prompt) (ui.Response, error) {
				switch p.Kind {
				case ui.KindSelectModules, ui.KindSelectFindings:
					return ui.Response{Selected: ui.Defaults(p.Options), Confirmed: true}, nil
				case ui.KindReviewPlan, ui.KindConfirmExecute:
					return ui.Response{Confirmed: yes}, nil
				case ui.KindShowResults:
					if format == "text" {
						fmt.Fprint(cmd.OutOrStdout(), p.Body)
					}
				case ui.KindShowError:
					fmt.Fprintln(cmd.ErrOrStderr(), "Error:", p.Body)
				}
				return ui.Response{Confirmed: true}, nil
			}}
		}

		rep, err := s.Run(cmd.Context())
		if save && rep != nil && !dryRun {
			saveReport(cmd, rep)
		}
		if errors.Is(err, context.Canceled) {
			return &exitError{code: report.ExitAborted, err: err}
		}
		if err != nil {
			return &exitError{code: report.ExitFailure, err: err}
		}
		if format != "text" {
			if err := writeReport(cmd.OutOrStdout(), rep, format, false); err != nil {
				return usageError(err)
			}
		}
		return exitWith(rep.ExitCode())
	},
}

func init() {
	remediateCmd.Flags().Bool("dry-run", false, "Show the plan without applying it")
	remediateCmd.Flags().BoolP("yes", "y", false, "Apply every selected fix without prompting (all modules and findings)")
	remediateCmd.Flags().StringSliceP("module", "m", nil, "Only consider these modules")
	remediateCmd.Flags().Bool("reaudit", true, "Audit again after applying fixes to report the new score")
	remediateCmd.Flags().Bool("save", true, "Save the run to the history database")
	remediateCmd.Flags().StringP("output", "o", "text", "Final report format: text, json or sarif")
	rootCmd.AddCommand(remediateCmd)
}
