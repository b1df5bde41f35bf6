// Package guard enforces the access-safety policy around plan steps: operator
// acknowledgment for confirm-required fixes and the pre-protect, apply,
// post-verify, cleanup protocol for fixes that could cut the operator off.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/logging"
)

// ErrPreProtect is returned when the management channel could not be
// detected or protected before a lockout-protected step. The step is not
// applied.
var ErrPreProtect = errors.New("could not protect management channel")

// Rule is one firewall allow rule. An empty From allows any source.
type Rule struct {
	Port  int    `json:"port"`
	Proto string `json:"proto"`
	From  string `json:"from,omitempty"`
}

func (r Rule) String() string {
	from := r.From
	if from == "" {
		from = "any"
	}
	return fmt.Sprintf("%d/%s from %s", r.Port, r.Proto, from)
}

// ManagementChannel is how the operator currently reaches the host.
type ManagementChannel struct {
	Port  int    `json:"port"`
	Proto string `json:"proto"`
	// Source is the operator's originating address, empty when unknown.
	Source string `json:"source,omitempty"`
}

// Rules returns the allow rules that keep the channel open: one for the
// port, and one for the operator's address when it is known.
func (c ManagementChannel) Rules() []Rule {
	rules := []Rule{{Port: c.Port, Proto: c.Proto}}
	if c.Source != "" {
		rules = append(rules, Rule{Port: c.Port, Proto: c.Proto, From: c.Source})
	}
	return rules
}

// Firewall is the host packet filter as seen by the guard.
type Firewall interface {
	// Permits reports whether traffic on the channel is currently accepted.
	Permits(ctx context.Context, ch ManagementChannel) (bool, error)
	// HasRule reports whether an allow rule is configured.
	HasRule(ctx context.Context, r Rule) (bool, error)
	// EnsureAllow adds the rule if missing. It is idempotent.
	EnsureAllow(ctx context.Context, r Rule) error
	// RemoveAllow deletes the rule.
	RemoveAllow(ctx context.Context, r Rule) error
}

// ChannelDetector finds the operator's management channel.
type ChannelDetector interface {
	Detect(ctx context.Context) (ManagementChannel, error)
}

// Ack is the set of fix IDs the operator acknowledged. Unlike engine.Set, a
// nil Ack acknowledges nothing.
type Ack map[string]struct{}

// NewAck builds an acknowledgment set.
func NewAck(fixIDs ...string) Ack {
	a := make(Ack, len(fixIDs))
	for _, id := range fixIDs {
		a[id] = struct{}{}
	}
	return a
}

// AckAll acknowledges every step of a plan.
func AckAll(plan *engine.Plan) Ack {
	return NewAck(plan.FixIDs()...)
}

// Has reports whether fixID was acknowledged.
func (a Ack) Has(fixID string) bool {
	_, ok := a[fixID]
	return ok
}

// Guard applies the safety policy. A Guard without a Firewall cannot run
// lockout-protected steps.
type Guard struct {
	Firewall Firewall
	Detector ChannelDetector
}

// Authorize checks that a step may run under ack. Confirm-required steps
// without acknowledgment return an error wrapping engine.ErrPermissionDenied.
// Lockout-protected steps need acknowledgment too since they touch access.
func (g *Guard) Authorize(step engine.PlanStep, ack Ack) error {
	if step.DangerClass == engine.Safe || ack.Has(step.FixID) {
		return nil
	}
	return fmt.Errorf("%w: %s (%s)", engine.ErrPermissionDenied, step.FixID, step.DangerClass)
}

// Protection describes what the guard did around one step.
type Protection struct {
	Channel ManagementChannel `json:"channel"`
	// Added lists rules created by pre-protect that did not exist before.
	Added []Rule `json:"added,omitempty"`
	// Retained lists added rules left in place after the step.
	Retained   []Rule `json:"retained,omitempty"`
	RolledBack bool   `json:"rolled_back"`
}

// Protect runs apply under the lockout protocol:
//  1. detect the management channel and ensure allow rules for it exist,
//  2. apply,
//  3. verify the allow rules are still configured and the channel is
//     permitted, calling rollback if not,
//  4. remove rules that step 1 added, as long as the channel stays permitted.
//
// An apply error is returned unchanged and the caller handles rollback.
// A failed verification returns engine.ErrLockoutVerification, joined with
// the rollback error if rollback failed too. Added rules are kept after a
// rollback.
func (g *Guard) Protect(ctx context.Context, step engine.PlanStep, apply, rollback func(context.Context) error) (Protection, error) {
	var prot Protection
	if g.Firewall == nil || g.Detector == nil {
		return prot, fmt.Errorf("%w: no firewall backend configured", ErrPreProtect)
	}

	ch, err := g.Detector.Detect(ctx)
	if err != nil {
		return prot, fmt.Errorf("%w: %w", ErrPreProtect, err)
	}
	prot.Channel = ch

	for _, r := range ch.Rules() {
		present, err := g.Firewall.HasRule(ctx, r)
		if err != nil {
			return prot, fmt.Errorf("%w: %w", ErrPreProtect, err)
		}
		if present {
			continue
		}
		if err := g.Firewall.EnsureAllow(ctx, r); err != nil {
			return prot, fmt.Errorf("%w: allow %s: %w", ErrPreProtect, r, err)
		}
		prot.Added = append(prot.Added, r)
		logging.Logger.Infow("pre-protect rule added", "fix_id", step.FixID, "rule", r.String())
	}

	if err := apply(ctx); err != nil {
		prot.Retained = prot.Added
		return prot, err
	}

	if ok, verr := g.verify(ctx, ch); !ok || verr != nil {
		logging.Logger.Warnw("management channel not protected after fix, rolling back",
			"fix_id", step.FixID, "port", ch.Port, "error", verr)
		prot.RolledBack = true
		prot.Retained = prot.Added
		cause := fmt.Errorf("%w: port %d/%s after %s", engine.ErrLockoutVerification, ch.Port, ch.Proto, step.FixID)
		if verr != nil {
			cause = fmt.Errorf("%w: %w", cause, verr)
		}
		if rerr := rollback(ctx); rerr != nil {
			return prot, errors.Join(cause, rerr)
		}
		return prot, cause
	}

	prot.Retained = g.cleanup(ctx, step, ch, prot.Added)
	return prot, nil
}

// verify re-checks the condition pre-protect established: every allow rule
// for the channel is configured and the channel is permitted.
func (g *Guard) verify(ctx context.Context, ch ManagementChannel) (bool, error) {
	for _, r := range ch.Rules() {
		present, err := g.Firewall.HasRule(ctx, r)
		if err != nil || !present {
			return false, err
		}
	}
	return g.Firewall.Permits(ctx, ch)
}

// cleanup removes synthetic rules one at a time and puts a rule back if the
// channel stops being permitted without it. It returns the rules kept.
func (g *Guard) cleanup(ctx context.Context, step engine.PlanStep, ch ManagementChannel, added []Rule) []Rule {
	var kept []Rule
	for i := len(added) - 1; i >= 0; i-- {
		r := added[i]
		if err := g.Firewall.RemoveAllow(ctx, r); err != nil {
			logging.Logger.Warnw("could not remove temporary rule", "fix_id", step.FixID, "rule", r.String(), "error", err)
			kept = append(kept, r)
			continue
		}
		if ok, err := g.Firewall.Permits(ctx, ch); ok && err == nil {
			continue
		}
		if err := g.Firewall.EnsureAllow(ctx, r); err != nil {
			logging.Logger.Errorw("could not restore temporary rule", "fix_id", step.FixID, "rule", r.String(), "error", err)
		}
		kept = append(kept, r)
	}
	return kept
}
