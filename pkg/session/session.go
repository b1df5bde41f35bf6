// Package session drives the guided audit and remediation flow through an
// interaction adapter.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/executor"
	"github.com/user/hostaudit/pkg/guard"
	"github.com/user/hostaudit/pkg/logging"
	"github.com/user/hostaudit/pkg/module"
	"github.com/user/hostaudit/pkg/report"
	"github.com/user/hostaudit/pkg/ui"
)

// Session is one guided run.
type Session struct {
	Catalog  *module.Catalog
	Modules  []module.Module
	Runner   module.Runner
	Executor *executor.Executor
	Adapter  ui.Adapter
	Weights  engine.Weights
	// DryRun renders the plan and stops before execution.
	DryRun bool
	// Reaudit runs the audit again after fixes were applied.
	Reaudit bool
	// Color enables colored result rendering.
	Color bool

	now func() time.Time
}

func (s *Session) weights() engine.Weights {
	if s.Weights == (engine.Weights{}) {
		return engine.DefaultWeights
	}
	return s.Weights.Normalized()
}

func (s *Session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Audit runs every module once and returns the report and registry.
func (s *Session) Audit(ctx context.Context) (*report.Report, *engine.Registry, error) {
	rep := report.New(s.clock())
	reg, err := s.Runner.Run(ctx, s.Modules)
	if err != nil {
		return rep, reg, err
	}
	rep.SetAudit(reg, s.weights())
	rep.Finish(s.clock())
	return rep, reg, nil
}

// Run executes welcome, audit, select-modules, select-findings, review-plan,
// confirm-execute, execute and show-results. The returned report is always
// non-nil; an operator quit is recorded as Aborted rather than returned.
func (s *Session) Run(ctx context.Context) (*report.Report, error) {
	if _, err := s.Adapter.Ask(ctx, ui.Prompt{
		Kind:  ui.KindWelcome,
		Title: "hostaudit guided remediation",
		Body:  fmt.Sprintf("Auditing %d modules. Nothing is changed until you confirm the plan.", len(s.Modules)),
	}); err != nil {
		return s.aborted(report.New(s.clock()), err)
	}

	rep, reg, err := s.Audit(ctx)
	if err != nil {
		return s.fail(ctx, rep, err)
	}

	candidates := fixable(reg)
	if len(candidates) == 0 {
		return s.finish(ctx, rep)
	}

	modResp, err := s.Adapter.Ask(ctx, ui.Prompt{
		Kind:    ui.KindSelectModules,
		Title:   fmt.Sprintf("Security score %d/100. Select modules to remediate", rep.Score.Value),
		Options: moduleOptions(candidates),
	})
	if err != nil {
		return s.aborted(rep, err)
	}
	modules := engine.NewSet(modResp.Selected...)

	var findingOpts []ui.Option
	for _, f := range candidates {
		if modules.Has(f.ModuleName) {
			findingOpts = append(findingOpts, ui.Option{
				ID:       f.ID,
				Label:    f.Title,
				Detail:   fmt.Sprintf("%s, %s", f.Severity, f.ID),
				Selected: true,
			})
		}
	}
	findingIDs := []string{}
	if len(findingOpts) > 0 {
		fResp, err := s.Adapter.Ask(ctx, ui.Prompt{
			Kind:    ui.KindSelectFindings,
			Title:   "Select findings to fix",
			Options: findingOpts,
		})
		if err != nil {
			return s.aborted(rep, err)
		}
		findingIDs = fResp.Selected
	}

	plan, err := engine.BuildPlan(reg, engine.Selection{Modules: modules, Findings: engine.NewSet(findingIDs...)}, s.Catalog)
	if errors.Is(err, engine.ErrEmptySelection) {
		logging.Logger.Infow("nothing selected for remediation")
		return s.finish(ctx, rep)
	}
	if err != nil {
		return s.fail(ctx, rep, err)
	}
	rep.Plan = plan

	review, err := s.Adapter.Ask(ctx, ui.Prompt{
		Kind:  ui.KindReviewPlan,
		Title: fmt.Sprintf("Remediation plan (%d steps)", plan.Len()),
		Body:  plan.Render(),
	})
	if err != nil {
		return s.aborted(rep, err)
	}
	if s.DryRun {
		rep.DryRun = true
		return s.finish(ctx, rep)
	}
	if !review.Confirmed {
		rep.Aborted = true
		return s.finish(ctx, rep)
	}

	ack := guard.Ack{}
	for i := range plan.Steps {
		step := plan.Steps[i]
		if step.DangerClass == engine.Safe {
			continue
		}
		resp, err := s.Adapter.Ask(ctx, ui.Prompt{
			Kind:  ui.KindConfirmExecute,
			Title: fmt.Sprintf("Apply %s (%s)?", step.FixID, step.DangerClass),
			Body:  confirmBody(step),
			Step:  &step,
		})
		if err != nil {
			return s.aborted(rep, err)
		}
		if resp.Confirmed {
			ack[step.FixID] = struct{}{}
		}
	}

	log, execErr := s.Executor.Execute(ctx, plan, ack)
	rep.Outcomes = log.Outcomes
	rep.Aborted = log.Aborted
	rep.Halted = log.Halted
	if execErr != nil {
		rep.Error = execErr.Error()
	}

	if s.Reaudit && log.Count(engine.ResultApplied) > 0 && ctx.Err() == nil {
		if after, err := s.Runner.Run(ctx, s.Modules); err == nil {
			score := s.weights().Score(after.Findings())
			rep.ScoreAfter = &score
		}
	}
	return s.finish(ctx, rep)
}

func confirmBody(step engine.PlanStep) string {
	body := step.Description
	if len(step.Targets) > 0 {
		body += fmt.Sprintf("\nFiles backed up first: %v", step.Targets)
	}
	if step.DangerClass == engine.LockoutProtected {
		body += "\nAn allow rule for your SSH session is ensured first; the change is rolled back if your access cannot be verified."
	}
	return body
}

func (s *Session) finish(ctx context.Context, rep *report.Report) (*report.Report, error) {
	rep.Finish(s.clock())
	var buf bytes.Buffer
	if err := report.WriteText(&buf, rep, report.TextOptions{Color: s.Color}); err != nil {
		return rep, err
	}
	_, err := s.Adapter.Ask(ctx, ui.Prompt{Kind: ui.KindShowResults, Title: "Results", Body: buf.String()})
	if err != nil && !errors.Is(err, ui.ErrAborted) {
		return rep, err
	}
	return rep, nil
}

func (s *Session) fail(ctx context.Context, rep *report.Report, err error) (*report.Report, error) {
	rep.Error = err.Error()
	rep.Finish(s.clock())
	_, _ = s.Adapter.Ask(ctx, ui.Prompt{Kind: ui.KindShowError, Body: err.Error()})
	return rep, err
}

func (s *Session) aborted(rep *report.Report, err error) (*report.Report, error) {
	rep.Finish(s.clock())
	if errors.Is(err, ui.ErrAborted) || errors.Is(err, context.Canceled) {
		rep.Aborted = true
		return rep, nil
	}
	rep.Error = err.Error()
	return rep, err
}

func fixable(reg *engine.Registry) []engine.Finding {
	var out []engine.Finding
	for _, f := range reg.Findings() {
		if f.Fixable() {
			out = append(out, f)
		}
	}
	return out
}

func moduleOptions(findings []engine.Finding) []ui.Option {
	counts := make(map[string]int)
	var order []string
	for _, f := range findings {
		if counts[f.ModuleName] == 0 {
			order = append(order, f.ModuleName)
		}
		counts[f.ModuleName]++
	}
	opts := make([]ui.Option, 0, len(order))
	for _, name := range order {
		opts = append(opts, ui.Option{
			ID:       name,
			Label:    name,
			Detail:   fmt.Sprintf("%d fixable findings", counts[name]),
			Selected: true,
		})
	}
	return opts
}
