package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/hostaudit/pkg/backup"
	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/executor"
	"github.com/user/hostaudit/pkg/guard"
	"github.com/user/hostaudit/pkg/module"
	"github.com/user/hostaudit/pkg/report"
	"github.com/user/hostaudit/pkg/ui"
)

const ufwConf = "/etc/ufw/ufw.conf"

// firewallModule reports ufw.disabled until its fix enables the firewall.
func firewallModule(fw *guard.MemoryFirewall) *module.Fake {
	return &module.Fake{
		ModuleName: "firewall",
		AuditFunc: func(ctx context.Context) ([]engine.Finding, error) {
			f := engine.Finding{ID: "ufw.disabled", Severity: engine.SeverityHigh, Status: engine.StatusFailed, Title: "Firewall disabled", FixID: "ufw.enable"}
			if fw.Active {
				f.Status = engine.StatusPassed
			}
			return []engine.Finding{f, {ID: "update.no_updates", Severity: engine.SeverityLow, Status: engine.StatusPassed, Title: "Up to date"}}, nil
		},
		Specs: []engine.FixSpec{{ID: "ufw.enable", Class: engine.LockoutProtected, Targets: []string{ufwConf}}},
		FixFunc: func(ctx context.Context, fixID string) module.FixResult {
			fw.SetActive(true)
			return module.Applied("firewall enabled")
		},
	}
}

func dockerModule() *module.Fake {
	return &module.Fake{
		ModuleName: "docker",
		Findings: []engine.Finding{
			{ID: "docker.exposed_port.web", Severity: engine.SeverityMedium, Status: engine.StatusFailed, Title: "web publishes 0.0.0.0:8080", FixID: "docker.generate_proxy_template"},
		},
		Specs: []engine.FixSpec{{ID: "docker.generate_proxy_template", Class: engine.Safe}},
	}
}

func newSession(t *testing.T, adapter ui.Adapter, mods ...*module.Fake) (*Session, *guard.MemoryFirewall) {
	t.Helper()
	fw := guard.NewMemoryFirewall(false, guard.Rule{Port: 22, Proto: "tcp"})
	var list []module.Module
	for _, m := range mods {
		list = append(list, m)
	}
	if len(list) == 0 {
		list = []module.Module{firewallModule(fw), dockerModule()}
	}
	cat, err := module.NewCatalog(list, nil)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ufwConf, []byte("ENABLED=no\n"), 0o644))

	return &Session{
		Catalog: cat,
		Modules: list,
		Runner:  module.Runner{Workers: 2, Timeout: time.Second},
		Executor: &executor.Executor{
			Modules:    cat,
			Store:      backup.NewStore(fs, "/var/lib/hostaudit/backups"),
			Guard:      &guard.Guard{Firewall: fw, Detector: guard.StaticDetector{Channel: guard.ManagementChannel{Port: 22, Proto: "tcp"}}},
			FixTimeout: time.Second,
		},
		Adapter: adapter,
	}, fw
}

func kinds(prompts []ui.Prompt) []ui.Kind {
	var out []ui.Kind
	for _, p := range prompts {
		out = append(out, p.Kind)
	}
	return out
}

func TestGuidedFirewallRemediation(t *testing.T) {
	adapter := &ui.Scripted{AssumeYes: true}
	s, fw := newSession(t, adapter)
	s.Reaudit = true

	rep, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, fw.Active)
	assert.Equal(t, 78, rep.Score.Value)
	require.NotNil(t, rep.ScoreAfter)
	assert.Equal(t, 93, rep.ScoreAfter.Value)
	assert.Equal(t, []string{"docker.generate_proxy_template", "ufw.enable"}, rep.Plan.FixIDs())
	require.Len(t, rep.Outcomes, 2)
	for _, o := range rep.Outcomes {
		assert.Equal(t, engine.ResultApplied, o.Result, o.FixID)
	}
	assert.Equal(t, report.ExitOK, rep.ExitCode())

	// Only the lockout-protected step needs a confirmation.
	assert.Equal(t, []ui.Kind{
		ui.KindWelcome, ui.KindSelectModules, ui.KindSelectFindings,
		ui.KindReviewPlan, ui.KindConfirmExecute, ui.KindShowResults,
	}, kinds(adapter.Prompts()))
	confirm := adapter.Prompts()[4]
	require.NotNil(t, confirm.Step)
	assert.Equal(t, "ufw.enable", confirm.Step.FixID)
	assert.Contains(t, adapter.Prompts()[5].Body, "Score after remediation: 93/100")
}

func TestDryRunStopsBeforeExecution(t *testing.T) {
	adapter := &ui.Scripted{AssumeYes: true}
	fw := guard.NewMemoryFirewall(false)
	fwMod := firewallModule(fw)
	s, _ := newSession(t, adapter, fwMod)
	s.DryRun = true

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, 1, rep.Plan.Len())
	assert.Empty(t, rep.Outcomes)
	assert.Empty(t, fwMod.FixCalls())
	assert.False(t, fw.Active)
	assert.NotContains(t, kinds(adapter.Prompts()), ui.KindConfirmExecute)
}

func TestDeclinedPlanIsAborted(t *testing.T) {
	adapter := &ui.Scripted{AssumeYes: false}
	s, fw := newSession(t, adapter)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Aborted)
	assert.Empty(t, rep.Outcomes)
	assert.False(t, fw.Active)
	assert.Equal(t, report.ExitAborted, rep.ExitCode())
}

func TestUnconfirmedStepIsSkipped(t *testing.T) {
	adapter := &ui.Scripted{Handler: func(p ui.Prompt) (ui.Response, error) {
		switch p.Kind {
		case ui.KindSelectModules, ui.KindSelectFindings:
			return ui.Response{Selected: ui.Defaults(p.Options)}, nil
		case ui.KindConfirmExecute:
			return ui.Response{Confirmed: false}, nil
		}
		return ui.Response{Confirmed: true}, nil
	}}
	s, fw := newSession(t, adapter)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, fw.Active)
	require.Len(t, rep.Outcomes, 2)
	assert.Equal(t, engine.ResultApplied, rep.Outcomes[0].Result)
	assert.Equal(t, engine.ResultSkipped, rep.Outcomes[1].Result)
	assert.Equal(t, engine.ReasonNotAcknowledged, rep.Outcomes[1].Reason)
	assert.Equal(t, report.ExitOK, rep.ExitCode())
}

func TestDeselectingEverythingIsNothingToDo(t *testing.T) {
	adapter := &ui.Scripted{Handler: func(p ui.Prompt) (ui.Response, error) {
		if p.Kind == ui.KindSelectModules {
			return ui.Response{}, nil
		}
		return ui.Response{Confirmed: true}, nil
	}}
	s, _ := newSession(t, adapter)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rep.Plan)
	assert.Equal(t, report.ExitOK, rep.ExitCode())
	assert.Equal(t, []ui.Kind{ui.KindWelcome, ui.KindSelectModules, ui.KindShowResults}, kinds(adapter.Prompts()))
}

func TestQuitIsRecordedAsAbort(t *testing.T) {
	adapter := &ui.Scripted{Handler: func(p ui.Prompt) (ui.Response, error) {
		if p.Kind == ui.KindSelectFindings {
			return ui.Response{}, ui.ErrAborted
		}
		return ui.Response{Selected: ui.Defaults(p.Options), Confirmed: true}, nil
	}}
	s, _ := newSession(t, adapter)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Aborted)
	assert.Equal(t, report.ExitAborted, rep.ExitCode())
}

func TestNoFixableFindingsSkipsSelection(t *testing.T) {
	adapter := &ui.Scripted{AssumeYes: true}
	clean := &module.Fake{ModuleName: "updates", Findings: []engine.Finding{
		{ID: "update.no_updates", Severity: engine.SeverityLow, Status: engine.StatusPassed},
	}}
	s, _ := newSession(t, adapter, clean)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, rep.Score.Value)
	assert.Equal(t, []ui.Kind{ui.KindWelcome, ui.KindShowResults}, kinds(adapter.Prompts()))
}

func TestAdapterErrorIsReturned(t *testing.T) {
	boom := errors.New("terminal gone")
	adapter := &ui.Scripted{Handler: func(p ui.Prompt) (ui.Response, error) {
		if p.Kind == ui.KindReviewPlan {
			return ui.Response{}, boom
		}
		return ui.Response{Selected: ui.Defaults(p.Options), Confirmed: true}, nil
	}}
	s, _ := newSession(t, adapter)

	rep, err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, boom.Error(), rep.Error)
	assert.Equal(t, report.ExitFailure, rep.ExitCode())
}
