package wrappers

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/hostaudit/pkg/engine"
)

// CompareTool diffs the latest audit against the last saved run.
type CompareTool struct {
	Workspace *Workspace
}

func (c *CompareTool) Name() string {
	return "compare_runs"
}

func (c *CompareTool) Description() string {
	return "Compares the latest audit with the most recent saved run and lists new, fixed and unchanged failed findings."
}

func (c *CompareTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"run_id": map[string]any{
				"type":        "string",
				"description": "Saved run to compare against. Omit for the most recent one.",
			},
		},
	}
}

func (c *CompareTool) Execute(ctx context.Context, args map[string]any, progress func(string)) (string, error) {
	h := c.Workspace.History
	if h == nil {
		return "Run history is not available.", nil
	}
	runID, _ := args["run_id"].(string)
	if runID == "" {
		runs, err := h.List(ctx, 1)
		if err != nil {
			return "", err
		}
		if len(runs) == 0 {
			return "No saved runs yet. Save one with `hostaudit audit --save`.", nil
		}
		runID = runs[0].RunID
	}
	base, err := h.Get(ctx, runID)
	if err != nil {
		return fmt.Sprintf("Error loading run %s: %v", runID, err), nil
	}
	cur, _, err := c.Workspace.Latest(ctx)
	if err != nil {
		return "", err
	}

	diff := engine.Compare(base.Findings, cur.Findings)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Compared with run %s from %s: score %d -> %d\n",
		base.RunID, base.StartedAt.Format("2006-01-02 15:04"), base.Score.Value, cur.Score.Value)
	section := func(title string, fs []engine.Finding) {
		fmt.Fprintf(&sb, "%s (%d):\n", title, len(fs))
		for _, f := range fs {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", f.Severity, f.ID, f.Title)
		}
	}
	section("New", diff.New)
	section("Fixed", diff.Fixed)
	section("Unchanged", diff.Unchanged)
	return sb.String(), nil
}
