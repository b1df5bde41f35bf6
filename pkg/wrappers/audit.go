package wrappers

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/hostaudit/pkg/engine"
)

// AuditTool runs an audit and summarizes the failed findings.
type AuditTool struct {
	Workspace *Workspace
}

func (a *AuditTool) Name() string {
	return "run_audit"
}

func (a *AuditTool) Description() string {
	return "Audits the host (firewall, SSH, updates, containers, processes, cloud agents and custom profiles) and returns the security score and the failed findings. Changes nothing."
}

func (a *AuditTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"module": map[string]any{
				"type":        "string",
				"description": "Only list findings of this module, e.g. 'ssh'. Omit for all modules.",
			},
		},
	}
}

func (a *AuditTool) Execute(ctx context.Context, args map[string]any, progress func(string)) (string, error) {
	progress("auditing host")
	rep, _, err := a.Workspace.Audit(ctx)
	if err != nil {
		return "", err
	}
	module, _ := args["module"].(string)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Security score: %d/100 (high %d, medium %d, low %d, passed %d)\n",
		rep.Score.Value, rep.Score.High, rep.Score.Medium, rep.Score.Low, rep.Score.Passed)
	listed := 0
	for _, f := range rep.Findings {
		if !f.Failed() || (module != "" && f.ModuleName != module) {
			continue
		}
		listed++
		fmt.Fprintf(&sb, "- [%s] %s: %s", f.Severity, f.ID, f.Title)
		if f.FixID != "" {
			fmt.Fprintf(&sb, " (fix: %s)", f.FixID)
		}
		sb.WriteString("\n")
	}
	if listed == 0 {
		sb.WriteString("No failed findings.\n")
	}
	return sb.String(), nil
}

// ExplainTool describes one finding and its fix.
type ExplainTool struct {
	Workspace *Workspace
}

func (e *ExplainTool) Name() string {
	return "explain_finding"
}

func (e *ExplainTool) Description() string {
	return "Returns the details of one finding from the latest audit: description, suggestion and the danger class, backed up files and manual steps of its fix."
}

func (e *ExplainTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"finding_id": map[string]any{
				"type":        "string",
				"description": "The finding ID, e.g. 'ufw.disabled'.",
			},
		},
		"required": []string{"finding_id"},
	}
}

func (e *ExplainTool) Execute(ctx context.Context, args map[string]any, progress func(string)) (string, error) {
	id, _ := args["finding_id"].(string)
	if id == "" {
		return "Error: finding_id is required.", nil
	}
	_, reg, err := e.Workspace.Latest(ctx)
	if err != nil {
		return "", err
	}
	f, ok := reg.Get(id)
	if !ok {
		return fmt.Sprintf("Finding %q is not in the latest audit.", id), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s, %s, module %s)\n%s\n", f.ID, f.Severity, f.Status, f.ModuleName, f.Title)
	if f.Description != "" {
		fmt.Fprintf(&sb, "Details: %s\n", f.Description)
	}
	if f.Suggestion != "" {
		fmt.Fprintf(&sb, "Suggestion: %s\n", f.Suggestion)
	}
	if f.FixID == "" {
		sb.WriteString("No automated fix exists for this finding.\n")
		return sb.String(), nil
	}
	spec, ok := e.Workspace.Fixes.LookupFix(f.FixID)
	if !ok {
		fmt.Fprintf(&sb, "Fix %s is not declared by any enabled module.\n", f.FixID)
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "Fix: %s (%s)\n", spec.ID, spec.Class)
	if spec.Description != "" {
		fmt.Fprintf(&sb, "Fix does: %s\n", spec.Description)
	}
	if len(spec.Targets) > 0 {
		fmt.Fprintf(&sb, "Backed up before applying: %s\n", strings.Join(spec.Targets, ", "))
	}
	if spec.Class == engine.LockoutProtected {
		sb.WriteString("SSH access is protected by a temporary allow rule and verified after the change.\n")
	}
	return sb.String(), nil
}
