// Package module defines the contract every check provider implements and
// the host-side machinery that runs them.
package module

import (
	"context"
	"errors"

	"github.com/user/hostaudit/pkg/engine"
)

// Module is a pluggable unit that audits one security domain and knows how
// to fix what it finds.
type Module interface {
	// Name is the stable module identifier, e.g. "firewall".
	Name() string
	// Audit inspects system state without changing it. Absence of the audited
	// feature ("tool not installed") is a passed or info finding, not an error.
	Audit(ctx context.Context) ([]engine.Finding, error)
	// Fixes declares every fix the module can apply.
	Fixes() []engine.FixSpec
	// Fix applies one declared fix.
	Fix(ctx context.Context, fixID string) FixResult
}

// Reverter is implemented by modules whose fixes change live state that a
// file restore alone does not undo (a running firewall, a reloaded daemon).
// It is called after the step's snapshots have been restored.
type Reverter interface {
	Revert(ctx context.Context, fixID string) error
}

// FixResult is what a module reports for one Fix call.
type FixResult struct {
	OK bool
	// ManualOnly means the fix cannot be automated; the engine records the
	// step as skipped and does not roll back.
	ManualOnly bool
	Err        error
	// Detail is an optional human-readable note (command output, instructions).
	Detail string
}

// Applied is a successful result.
func Applied(detail string) FixResult {
	return FixResult{OK: true, Detail: detail}
}

// Failed wraps err as a module fix failure.
func Failed(err error) FixResult {
	return FixResult{Err: err}
}

// ManualOnly reports that the fix needs manual intervention.
func ManualOnly(instructions string) FixResult {
	return FixResult{ManualOnly: true, Err: engine.ErrNotAutoFixable, Detail: instructions}
}

// IsManual reports whether the result means "not auto-fixable".
func (r FixResult) IsManual() bool {
	return r.ManualOnly || errors.Is(r.Err, engine.ErrNotAutoFixable)
}
