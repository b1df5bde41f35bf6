package wrappers

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/hostaudit/pkg/engine"
)

// PlanTool previews the remediation plan for a selection. It never executes.
type PlanTool struct {
	Workspace *Workspace
}

func (p *PlanTool) Name() string {
	return "preview_plan"
}

func (p *PlanTool) Description() string {
	return "Builds the ordered remediation plan (safe fixes first, lockout-protected last) for the selected modules or findings of the latest audit. Preview only; nothing is applied."
}

func (p *PlanTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"modules": map[string]any{
				"type":        "array",
				"description": "Module names to include. Omit for all.",
				"items":       map[string]any{"type": "string"},
			},
			"finding_ids": map[string]any{
				"type":        "array",
				"description": "Finding IDs to include. Omit for all fixable findings.",
				"items":       map[string]any{"type": "string"},
			},
		},
	}
}

func (p *PlanTool) Execute(ctx context.Context, args map[string]any, progress func(string)) (string, error) {
	_, reg, err := p.Workspace.Latest(ctx)
	if err != nil {
		return "", err
	}
	var sel engine.Selection
	if mods := stringList(args["modules"]); len(mods) > 0 {
		sel.Modules = engine.NewSet(mods...)
	}
	if ids := stringList(args["finding_ids"]); len(ids) > 0 {
		sel.Findings = engine.NewSet(ids...)
	}

	plan, err := engine.BuildPlan(reg, sel, p.Workspace.Fixes)
	if errors.Is(err, engine.ErrEmptySelection) {
		return "Nothing to fix for this selection.", nil
	}
	if err != nil {
		return fmt.Sprintf("Error building plan: %v", err), nil
	}
	return fmt.Sprintf("Plan with %d steps (apply with `hostaudit remediate`):\n%s", plan.Len(), plan.Render()), nil
}
