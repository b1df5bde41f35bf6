package checks

import (
	"context"
	"fmt"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/firewall"
	"github.com/user/hostaudit/pkg/module"
)

const (
	fixUFWEnable      = "ufw.enable"
	fixUFWDefaultDeny = "ufw.default_deny_incoming"
)

// Firewall audits the ufw host firewall.
type Firewall struct {
	deps Deps
	ufw  *firewall.UFW
}

// NewFirewall returns the firewall module.
func NewFirewall(d Deps) *Firewall {
	return &Firewall{deps: d, ufw: d.ufw()}
}

func (m *Firewall) Name() string { return "firewall" }

func (m *Firewall) Fixes() []engine.FixSpec {
	return []engine.FixSpec{
		{
			ID:          fixUFWEnable,
			Class:       engine.LockoutProtected,
			Description: "Set default deny incoming and enable ufw",
			Targets:     []string{"/etc/ufw/ufw.conf", "/etc/default/ufw"},
		},
		{
			ID:          fixUFWDefaultDeny,
			Class:       engine.LockoutProtected,
			Description: "Change the default incoming policy to deny",
			Targets:     []string{"/etc/default/ufw"},
		},
	}
}

func (m *Firewall) Audit(ctx context.Context) ([]engine.Finding, error) {
	if !m.deps.installed("ufw") {
		return []engine.Finding{{
			ID:          "ufw.not_installed",
			Severity:    engine.SeverityInfo,
			Status:      engine.StatusPassed,
			Title:       "ufw is not installed",
			Description: "No ufw binary found; the host firewall was not audited.",
			Suggestion:  "Install ufw (apt install ufw) to manage the host firewall.",
		}}, nil
	}

	argv := []string{"ufw", "status", "verbose"}
	res := m.deps.probe(ctx, argv...)
	if err := res.Err(argv); err != nil {
		return nil, err
	}
	st := firewall.ParseStatus(res.Stdout)

	disabled := engine.Finding{
		ID:       "ufw.disabled",
		Severity: engine.SeverityHigh,
		Status:   engine.StatusPassed,
		Title:    "Firewall is active",
	}
	if !st.Active {
		disabled.Status = engine.StatusFailed
		disabled.Title = "Firewall is disabled"
		disabled.Description = "ufw is installed but inactive; every listening port is reachable."
		disabled.Suggestion = "Enable ufw with a default deny incoming policy."
		disabled.FixID = fixUFWEnable
	}
	findings := []engine.Finding{disabled}

	if st.Active && st.DefaultIncoming != "" && st.DefaultIncoming != "deny" && st.DefaultIncoming != "reject" {
		findings = append(findings, engine.Finding{
			ID:          "ufw.default_incoming_allow",
			Severity:    engine.SeverityMedium,
			Status:      engine.StatusFailed,
			Title:       "Firewall allows incoming traffic by default",
			Description: fmt.Sprintf("Default incoming policy is %q.", st.DefaultIncoming),
			Suggestion:  "Set the default incoming policy to deny and allow services explicitly.",
			FixID:       fixUFWDefaultDeny,
		})
	}
	return findings, nil
}

func (m *Firewall) Fix(ctx context.Context, fixID string) module.FixResult {
	switch fixID {
	case fixUFWEnable:
		if err := m.ufw.DefaultDeny(ctx); err != nil {
			return module.Failed(err)
		}
		if err := m.ufw.Enable(ctx); err != nil {
			return module.Failed(err)
		}
		return module.Applied("ufw enabled with default deny incoming")
	case fixUFWDefaultDeny:
		if err := m.ufw.DefaultDeny(ctx); err != nil {
			return module.Failed(err)
		}
		return module.Applied("default incoming policy set to deny")
	}
	return module.Failed(fmt.Errorf("%w: %s", engine.ErrUnknownFix, fixID))
}

// Revert brings the running firewall back in line with the restored files.
func (m *Firewall) Revert(ctx context.Context, fixID string) error {
	if fixID == fixUFWEnable {
		return m.ufw.Disable(ctx)
	}
	return m.ufw.Reload(ctx)
}
