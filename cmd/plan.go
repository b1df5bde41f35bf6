package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/hostaudit/pkg/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Audit and print the remediation plan without applying it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		only, _ := cmd.Flags().GetStringSlice("module")
		findings, _ := cmd.Flags().GetStringSlice("finding")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		_, reg, err := a.session().Audit(cmd.Context())
		if err != nil {
			return err
		}

		var sel engine.Selection
		if len(only) > 0 {
			sel.Modules = engine.NewSet(only...)
		}
		if len(findings) > 0 {
			sel.Findings = engine.NewSet(findings...)
		}
		plan, err := engine.BuildPlan(reg, sel, a.catalog)
		if errors.Is(err, engine.ErrEmptySelection) {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to remediate.")
			return nil
		}
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}
		fmt.Fprint(cmd.OutOrStdout(), plan.Render())
		return nil
	},
}

func init() {
	planCmd.Flags().StringSliceP("module", "m", nil, "Only plan fixes for these modules")
	planCmd.Flags().StringSliceP("finding", "f", nil, "Only plan fixes for these finding IDs")
	planCmd.Flags().Bool("json", false, "Print the plan as JSON")
	rootCmd.AddCommand(planCmd)
}
