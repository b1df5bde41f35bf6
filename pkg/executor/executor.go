// Package executor applies a remediation plan step by step with snapshots,
// rollback and fail-fast halting.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/hostaudit/pkg/backup"
	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/guard"
	"github.com/user/hostaudit/pkg/logging"
	"github.com/user/hostaudit/pkg/module"
)

// ErrRollbackFailed means a snapshot could not be restored. The on-disk state
// is no longer known and the session halts.
var ErrRollbackFailed = errors.New("rollback failed")

var errManualOnly = errors.New("manual only")

// Modules resolves a step's module by name.
type Modules interface {
	Module(name string) (module.Module, bool)
}

// Snapshots is the backup store as used by the executor.
type Snapshots interface {
	Snapshot(path string) (backup.Snapshot, error)
	Restore(snap backup.Snapshot) error
}

// Executor runs plans. Steps are strictly sequential.
type Executor struct {
	Modules Modules
	Store   Snapshots
	Guard   *guard.Guard
	// FixTimeout bounds one module Fix call. Zero means no bound.
	FixTimeout time.Duration
	// Proceed is asked before every step; returning false aborts the plan.
	Proceed func(ctx context.Context, index int, step engine.PlanStep) bool
	// Progress is called after each outcome is recorded.
	Progress func(index int, outcome engine.FixOutcome)

	now func() time.Time
}

// Log is the authoritative record of one execution, one outcome per step.
type Log struct {
	Outcomes []engine.FixOutcome `json:"outcomes"`
	// Aborted is set when the operator stopped the plan between steps.
	Aborted bool `json:"aborted"`
	// Halted is set when a rollback stopped the plan.
	Halted bool `json:"halted"`
}

// Executed returns the outcomes of steps the engine processed, in order.
// Steps skipped because of a halt or an abort are left out.
func (l *Log) Executed() []engine.FixOutcome {
	var out []engine.FixOutcome
	for _, o := range l.Outcomes {
		if o.Executed {
			out = append(out, o)
		}
	}
	return out
}

// Problems returns every outcome that was not applied.
func (l *Log) Problems() []engine.FixOutcome {
	var out []engine.FixOutcome
	for _, o := range l.Outcomes {
		if o.Problem() {
			out = append(out, o)
		}
	}
	return out
}

// Count returns how many outcomes have the given result.
func (l *Log) Count(r engine.Result) int {
	n := 0
	for _, o := range l.Outcomes {
		if o.Result == r {
			n++
		}
	}
	return n
}

// Execute applies plan under ack. The returned Log always covers every step.
// An error is returned only for session-fatal conditions: a failed rollback
// (ErrRollbackFailed) or a failed management-channel verification
// (engine.ErrLockoutVerification).
func (e *Executor) Execute(ctx context.Context, plan *engine.Plan, ack guard.Ack) (*Log, error) {
	log := &Log{Outcomes: make([]engine.FixOutcome, 0, plan.Len())}
	var fatal error

	for i, step := range plan.Steps {
		var out engine.FixOutcome
		switch {
		case log.Halted:
			out = skipped(step, engine.ReasonHaltedByRollback, nil)
		case log.Aborted || ctx.Err() != nil || (e.Proceed != nil && !e.Proceed(ctx, i, step)):
			log.Aborted = true
			out = skipped(step, engine.ReasonAborted, nil)
		default:
			var err error
			out, err = e.runStep(ctx, step, ack)
			if out.Result == engine.ResultRolledBack || err != nil {
				log.Halted = true
			}
			if err != nil && fatal == nil {
				fatal = err
			}
		}
		log.Outcomes = append(log.Outcomes, out)
		if e.Progress != nil {
			e.Progress(i, out)
		}
	}

	if log.Aborted {
		logging.Logger.Infow("plan aborted by operator", "applied", log.Count(engine.ResultApplied))
	}
	return log, fatal
}

func skipped(step engine.PlanStep, reason string, err error) engine.FixOutcome {
	o := engine.NewOutcome(step)
	o.Result = engine.ResultSkipped
	o.Reason = reason
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func (e *Executor) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// runStep executes one step. The step runs detached from ctx cancellation so
// an abort never interrupts a fix halfway; ctx values are kept.
func (e *Executor) runStep(ctx context.Context, step engine.PlanStep, ack guard.Ack) (engine.FixOutcome, error) {
	out := engine.NewOutcome(step)
	out.StartedAt = e.clock()
	out.Executed = true
	finish := func(r engine.Result, reason string, err error) (engine.FixOutcome, error) {
		out.Result = r
		out.Reason = reason
		if err != nil {
			out.Error = err.Error()
		}
		out.Duration = e.clock().Sub(out.StartedAt)
		logging.Logger.Infow("plan step finished", "fix_id", step.FixID, "module", step.ModuleName, "result", r, "reason", reason)
		return out, nil
	}

	g := e.Guard
	if g == nil {
		g = &guard.Guard{}
	}
	if err := g.Authorize(step, ack); err != nil {
		return finish(engine.ResultSkipped, engine.ReasonNotAcknowledged, err)
	}

	mod, ok := e.Modules.Module(step.ModuleName)
	if !ok {
		return finish(engine.ResultFailed, engine.ReasonUnknownModule, fmt.Errorf("module %q is not registered", step.ModuleName))
	}
	sctx := context.WithoutCancel(ctx)

	snaps, err := e.snapshot(step)
	if err != nil {
		return finish(engine.ResultFailed, engine.ReasonSnapshotFailed, err)
	}
	for _, s := range snaps {
		out.BackupRefs = append(out.BackupRefs, s.ID)
	}

	apply := func(c context.Context) error {
		return e.apply(c, mod, step.FixID)
	}
	rollback := func(c context.Context) error {
		return e.rollback(c, mod, step.FixID, snaps)
	}

	var applyErr error
	var retained []guard.Rule
	if step.DangerClass == engine.LockoutProtected {
		prot, perr := g.Protect(sctx, step, apply, rollback)
		retained = prot.Retained
		switch {
		case perr == nil:
		case errors.Is(perr, guard.ErrPreProtect):
			return finish(engine.ResultFailed, engine.ReasonPreProtectFailed, perr)
		case errors.Is(perr, engine.ErrLockoutVerification):
			if errors.Is(perr, ErrRollbackFailed) {
				o, _ := finish(engine.ResultFailed, engine.ReasonRestoreFailed, perr)
				return o, perr
			}
			o, _ := finish(engine.ResultRolledBack, engine.ReasonVerificationFailed, perr)
			return o, perr
		default:
			applyErr = perr
		}
	} else {
		applyErr = apply(sctx)
	}

	if applyErr == nil {
		reason := ""
		if len(retained) > 0 {
			reason = engine.ReasonTemporaryRuleRetained
		}
		return finish(engine.ResultApplied, reason, nil)
	}

	switch {
	case errors.Is(applyErr, errManualOnly):
		return finish(engine.ResultSkipped, engine.ReasonManualOnly, applyErr)
	case errors.Is(applyErr, engine.ErrLockContention):
		return finish(engine.ResultFailed, engine.ReasonLockContention, applyErr)
	}

	reason := engine.ReasonModuleFailure
	if errors.Is(applyErr, context.DeadlineExceeded) {
		reason = engine.ReasonFixTimeout
	}
	if len(snaps) == 0 {
		return finish(engine.ResultFailed, reason, applyErr)
	}
	if rerr := rollback(sctx); rerr != nil {
		err := errors.Join(applyErr, rerr)
		o, _ := finish(engine.ResultFailed, engine.ReasonRestoreFailed, err)
		return o, rerr
	}
	return finish(engine.ResultRolledBack, reason, applyErr)
}

func (e *Executor) snapshot(step engine.PlanStep) ([]backup.Snapshot, error) {
	if len(step.Targets) == 0 {
		return nil, nil
	}
	if e.Store == nil {
		return nil, fmt.Errorf("fix %s declares targets but no backup store is configured", step.FixID)
	}
	snaps := make([]backup.Snapshot, 0, len(step.Targets))
	for _, path := range step.Targets {
		s, err := e.Store.Snapshot(path)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

func (e *Executor) apply(ctx context.Context, mod module.Module, fixID string) error {
	if e.FixTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.FixTimeout)
		defer cancel()
	}
	res := mod.Fix(ctx, fixID)
	switch {
	case res.IsManual():
		if res.Detail != "" {
			return fmt.Errorf("%w: %s", errManualOnly, res.Detail)
		}
		return errManualOnly
	case res.OK:
		return nil
	case res.Err == nil && ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %w", engine.ErrModuleFixFailure, fixID, ctx.Err())
	case res.Err == nil:
		return fmt.Errorf("%w: %s", engine.ErrModuleFixFailure, fixID)
	default:
		return fmt.Errorf("%w: %s: %w", engine.ErrModuleFixFailure, fixID, res.Err)
	}
}

// rollback restores snapshots newest first, then lets the module undo live
// state the files do not capture.
func (e *Executor) rollback(ctx context.Context, mod module.Module, fixID string, snaps []backup.Snapshot) error {
	for i := len(snaps) - 1; i >= 0; i-- {
		if err := e.Store.Restore(snaps[i]); err != nil {
			logging.Logger.Errorw("restore failed", "fix_id", fixID, "path", snaps[i].Path, "error", err)
			return fmt.Errorf("%w: %s: %w", ErrRollbackFailed, snaps[i].Path, err)
		}
	}
	if r, ok := mod.(module.Reverter); ok {
		if err := r.Revert(ctx, fixID); err != nil {
			return fmt.Errorf("%w: revert %s: %w", ErrRollbackFailed, fixID, err)
		}
	}
	logging.Logger.Infow("step rolled back", "fix_id", fixID, "snapshots", len(snaps))
	return nil
}
