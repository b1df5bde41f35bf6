package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/logging"
	"github.com/user/hostaudit/pkg/module"
)

const fixApplyUpdates = "update.apply_all"

var errDpkgLocked = errors.New("dpkg lock is held by another process")

// Updates audits pending apt package upgrades.
type Updates struct {
	deps Deps
}

// NewUpdates returns the updates module.
func NewUpdates(d Deps) *Updates {
	return &Updates{deps: d}
}

func (m *Updates) Name() string { return "updates" }

func (m *Updates) Fixes() []engine.FixSpec {
	return []engine.FixSpec{{
		ID:          fixApplyUpdates,
		Class:       engine.ConfirmRequired,
		Description: "Refresh package lists and install all pending upgrades",
	}}
}

// PendingUpgrades is the result of a simulated upgrade.
type PendingUpgrades struct {
	Packages []string
	Security []string
}

// ParseSimulatedUpgrade reads `apt-get -s upgrade` output.
func ParseSimulatedUpgrade(out string) PendingUpgrades {
	var p PendingUpgrades
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "Inst ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		p.Packages = append(p.Packages, fields[1])
		if strings.Contains(line, "-security") || strings.Contains(line, "Debian-Security") {
			p.Security = append(p.Security, fields[1])
		}
	}
	return p
}

func (m *Updates) Audit(ctx context.Context) ([]engine.Finding, error) {
	if !m.deps.installed("apt-get") {
		return []engine.Finding{{
			ID:          "update.unsupported",
			Severity:    engine.SeverityInfo,
			Status:      engine.StatusPassed,
			Title:       "No apt package manager",
			Description: "Pending updates are only checked on apt-based systems.",
		}}, nil
	}

	argv := []string{"apt-get", "-s", "upgrade"}
	res := m.deps.probe(ctx, argv...)
	if err := res.Err(argv); err != nil {
		return nil, err
	}
	pending := ParseSimulatedUpgrade(res.Stdout)

	switch {
	case len(pending.Security) > 0:
		return []engine.Finding{{
			ID:          "update.security_pending",
			Severity:    engine.SeverityHigh,
			Status:      engine.StatusFailed,
			Title:       fmt.Sprintf("%d security updates pending", len(pending.Security)),
			Description: "Security updates: " + summarize(pending.Security, 10),
			Suggestion:  "Apply updates now and enable unattended-upgrades.",
			FixID:       fixApplyUpdates,
		}}, nil
	case len(pending.Packages) > 0:
		return []engine.Finding{{
			ID:          "update.pending",
			Severity:    engine.SeverityMedium,
			Status:      engine.StatusFailed,
			Title:       fmt.Sprintf("%d package updates pending", len(pending.Packages)),
			Description: "Upgradable: " + summarize(pending.Packages, 10),
			Suggestion:  "Apply pending updates during a maintenance window.",
			FixID:       fixApplyUpdates,
		}}, nil
	}
	return []engine.Finding{{
		ID:       "update.no_updates",
		Severity: engine.SeverityLow,
		Status:   engine.StatusPassed,
		Title:    "System packages are up to date",
	}}, nil
}

func (m *Updates) Fix(ctx context.Context, fixID string) module.FixResult {
	if fixID != fixApplyUpdates {
		return module.Failed(fmt.Errorf("%w: %s", engine.ErrUnknownFix, fixID))
	}
	steps := [][]string{
		{"apt-get", "update"},
		{"apt-get", "-y", "-o", "Dpkg::Options::=--force-confold", "upgrade"},
	}
	for _, argv := range steps {
		if err := m.runLocked(ctx, argv); err != nil {
			return module.Failed(err)
		}
	}
	return module.Applied("packages upgraded")
}

// runLocked runs an apt command, retrying with backoff while the dpkg lock
// is held. Once LockWait has elapsed it gives up with ErrLockContention.
func (m *Updates) runLocked(ctx context.Context, argv []string) error {
	wait := m.deps.LockWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(time.Second, wait/8)
	b.MaxInterval = min(15*time.Second, wait/2)
	b.MaxElapsedTime = wait

	op := func() error {
		res := m.deps.Runner.Run(ctx, argv...)
		if res.OK() {
			return nil
		}
		if isDpkgLocked(res.Combined()) {
			logging.Logger.Debugw("dpkg lock held, retrying", "command", strings.Join(argv, " "))
			return errDpkgLocked
		}
		return backoff.Permanent(res.Err(argv))
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if errors.Is(err, errDpkgLocked) {
		return fmt.Errorf("%w: %s: waited %s for the dpkg lock", engine.ErrLockContention, strings.Join(argv, " "), wait)
	}
	return err
}

func isDpkgLocked(out string) bool {
	return strings.Contains(out, "Could not get lock") ||
		strings.Contains(out, "Unable to acquire the dpkg frontend lock") ||
		strings.Contains(out, "is another process using it")
}

func summarize(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:limit], ", "), len(items)-limit)
}
