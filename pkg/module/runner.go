package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/logging"
)

// Runner audits modules concurrently and merges their findings into a
// registry.
type Runner struct {
	// Workers bounds how many modules audit at once. Values below 1 mean 1.
	Workers int
	// Timeout bounds each module's Audit. Zero means no bound beyond ctx.
	Timeout time.Duration
}

type auditResult struct {
	index    int
	findings []engine.Finding
}

// Run audits every module and returns the merged registry. Results are merged
// by a single writer in module order, so discovery order does not depend on
// scheduling. A module that fails or exceeds its timeout contributes one
// synthetic failed finding instead of aborting the run.
func (r Runner) Run(ctx context.Context, modules []Module) (*engine.Registry, error) {
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	results := make(chan auditResult, len(modules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, m := range modules {
		g.Go(func() error {
			findings := r.auditOne(gctx, m)
			results <- auditResult{index: i, findings: findings}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	collected := make([][]engine.Finding, len(modules))
	for res := range results {
		collected[res.index] = res.findings
	}

	reg := engine.NewRegistry()
	for _, findings := range collected {
		reg.AddFindings(findings)
	}
	if err := ctx.Err(); err != nil {
		return reg, err
	}
	return reg, nil
}

func (r Runner) auditOne(ctx context.Context, m Module) []engine.Finding {
	name := m.Name()
	actx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	type out struct {
		findings []engine.Finding
		err      error
	}
	done := make(chan out, 1)
	start := time.Now()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- out{err: fmt.Errorf("panic in audit: %v", p)}
			}
		}()
		f, err := m.Audit(actx)
		done <- out{findings: f, err: err}
	}()

	var res out
	select {
	case res = <-done:
	case <-actx.Done():
		// The module ignored cancellation; its goroutine is abandoned.
		res = out{err: actx.Err()}
	}

	logging.Logger.Debugw("module audited", "module", name, "findings", len(res.findings), "elapsed", time.Since(start))

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			logging.Logger.Warnw("module audit timed out", "module", name, "timeout", r.Timeout)
			return []engine.Finding{TimeoutFinding(name, r.Timeout)}
		}
		if ctx.Err() != nil {
			return nil
		}
		logging.Logger.Warnw("module audit failed", "module", name, "error", res.err)
		return []engine.Finding{ErrorFinding(name, res.err)}
	}

	for i := range res.findings {
		if res.findings[i].ModuleName == "" {
			res.findings[i].ModuleName = name
		}
	}
	return res.findings
}

// TimeoutFinding is the synthetic finding recorded for a module whose audit
// exceeded its bound.
func TimeoutFinding(module string, timeout time.Duration) engine.Finding {
	return engine.Finding{
		ID:          module + ".timeout",
		ModuleName:  module,
		Severity:    engine.SeverityMedium,
		Status:      engine.StatusFailed,
		Title:       fmt.Sprintf("%s audit timed out", module),
		Description: fmt.Sprintf("%v after %s", engine.ErrProbeTimeout, timeout),
		Suggestion:  "Re-run the audit or raise module-timeout.",
	}
}

// ErrorFinding is the synthetic finding recorded for a module whose audit
// returned an error.
func ErrorFinding(module string, err error) engine.Finding {
	return engine.Finding{
		ID:          module + ".error",
		ModuleName:  module,
		Severity:    engine.SeverityMedium,
		Status:      engine.StatusFailed,
		Title:       fmt.Sprintf("%s audit failed", module),
		Description: err.Error(),
		Suggestion:  "Run with --debug for details.",
	}
}
