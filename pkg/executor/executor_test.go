package executor

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
	"github.com/user/hostaudit/pkg/guard"
	"github.com/user/hostaudit/pkg/module"
)

const (
	ufwConf  = "/etc/ufw/ufw.conf"
	sshdConf = "/etc/ssh/sshd_config"
)

type fixture struct {
	fs    afero.Fs
	fw    *guard.MemoryFirewall
	fake  map[string]*module.Fake
	exec  *Executor
	store *backup.Store
}

func newFixture(t *testing.T, mods ...*module.Fake) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ufwConf, []byte("ENABLED=no\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, sshdConf, []byte("PermitRootLogin yes\n"), 0o600))

	var list []module.Module
	byName := make(map[string]*module.Fake)
	for _, m := range mods {
		list = append(list, m)
		byName[m.ModuleName] = m
	}
	cat, err := module.NewCatalog(list, nil)
	require.NoError(t, err)

	fw := guard.NewMemoryFirewall(false, guard.Rule{Port: 22, Proto: "tcp"})
	store := backup.NewStore(fs, "/var/lib/hostaudit/backups")
	return &fixture{
		fs:    fs,
		fw:    fw,
		fake:  byName,
		store: store,
		exec: &Executor{
			Modules:    cat,
			Store:      store,
			Guard:      &guard.Guard{Firewall: fw, Detector: guard.StaticDetector{Channel: guard.ManagementChannel{Port: 22, Proto: "tcp"}}},
			FixTimeout: time.Second,
		},
	}
}

func (f *fixture) read(t *testing.T, path string) string {
	t.Helper()
	b, err := afero.ReadFile(f.fs, path)
	require.NoError(t, err)
	return string(b)
}

func step(fixID, mod string, class engine.DangerClass, targets ...string) engine.PlanStep {
	return engine.PlanStep{FixID: fixID, ModuleName: mod, FindingID: fixID, FindingIDs: []string{fixID}, DangerClass: class, Targets: targets}
}

func spec(s engine.PlanStep) engine.FixSpec {
	return engine.FixSpec{ID: s.FixID, Class: s.DangerClass, Targets: s.Targets}
}

var (
	proxyStep  = step("docker.generate_proxy_template", "docker", engine.Safe)
	rootStep   = step("ssh.disable_root_login", "ssh", engine.ConfirmRequired, sshdConf)
	updateStep = step("update.apply_all", "updates", engine.ConfirmRequired)
	ufwStep    = step("ufw.enable", "firewall", engine.LockoutProtected, ufwConf)
)

func outcomeResults(log *Log) []engine.Result {
	var out []engine.Result
	for _, o := range log.Outcomes {
		out = append(out, o.Result)
	}
	return out
}

func TestExecuteAppliesAndSkipsUnacknowledged(t *testing.T) {
	docker := &module.Fake{ModuleName: "docker", Specs: []engine.FixSpec{spec(proxyStep)}}
	ssh := &module.Fake{ModuleName: "ssh", Specs: []engine.FixSpec{spec(rootStep)}}
	updates := &module.Fake{ModuleName: "updates", Specs: []engine.FixSpec{spec(updateStep)}}
	f := newFixture(t, docker, ssh, updates)

	plan := &engine.Plan{Steps: []engine.PlanStep{proxyStep, rootStep, updateStep}}
	var progress []string
	f.exec.Progress = func(i int, o engine.FixOutcome) { progress = append(progress, o.FixID) }

	log, err := f.exec.Execute(context.Background(), plan, guard.NewAck("ssh.disable_root_login"))
	require.NoError(t, err)
	assert.Equal(t, []engine.Result{engine.ResultApplied, engine.ResultApplied, engine.ResultSkipped}, outcomeResults(log))
	assert.Equal(t, plan.FixIDs(), progress)

	skip := log.Outcomes[2]
	assert.Equal(t, engine.ReasonNotAcknowledged, skip.Reason)
	assert.Contains(t, skip.Error, engine.ErrPermissionDenied.Error())
	assert.Empty(t, updates.FixCalls(), "unacknowledged fix never runs")

	require.Len(t, log.Outcomes[1].BackupRefs, 1)
	snap, err := f.store.Load(log.Outcomes[1].BackupRefs[0])
	require.NoError(t, err)
	assert.Equal(t, sshdConf, snap.Path)
	assert.False(t, log.Halted)
	assert.Len(t, log.Problems(), 1)
}

func TestExecuteRollsBackAndHalts(t *testing.T) {
	ssh := &module.Fake{ModuleName: "ssh", Specs: []engine.FixSpec{spec(rootStep)}}
	updates := &module.Fake{ModuleName: "updates", Specs: []engine.FixSpec{spec(updateStep)}}
	docker := &module.Fake{ModuleName: "docker", Specs: []engine.FixSpec{spec(proxyStep)}}
	f := newFixture(t, ssh, updates, docker)

	ssh.FixFunc = func(ctx context.Context, fixID string) module.FixResult {
		_ = afero.WriteFile(f.fs, sshdConf, []byte("PermitRootLogin no\nbroken"), 0o600)
		return module.Failed(errors.New("sshd -t: bad configuration"))
	}

	plan := &engine.Plan{Steps: []engine.PlanStep{proxyStep, rootStep, updateStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.NoError(t, err)

	assert.Equal(t, []engine.Result{engine.ResultApplied, engine.ResultRolledBack, engine.ResultSkipped}, outcomeResults(log))
	assert.Equal(t, engine.ReasonModuleFailure, log.Outcomes[1].Reason)
	assert.Equal(t, engine.ReasonHaltedByRollback, log.Outcomes[2].Reason)
	assert.Len(t, log.Executed(), 2, "no step executes after a rollback")
	assert.True(t, log.Halted)

	assert.Equal(t, "PermitRootLogin yes\n", f.read(t, sshdConf))
	assert.Equal(t, []string{"ssh.disable_root_login"}, ssh.RevertCalls())
	assert.Empty(t, updates.FixCalls())
}

func TestExecuteFailureWithoutSnapshotContinues(t *testing.T) {
	updates := &module.Fake{ModuleName: "updates", Specs: []engine.FixSpec{spec(updateStep)},
		FixFunc: func(context.Context, string) module.FixResult { return module.Failed(errors.New("dpkg error")) }}
	docker := &module.Fake{ModuleName: "docker", Specs: []engine.FixSpec{spec(proxyStep)}}
	f := newFixture(t, updates, docker)

	plan := &engine.Plan{Steps: []engine.PlanStep{updateStep, proxyStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.NoError(t, err)
	assert.Equal(t, []engine.Result{engine.ResultFailed, engine.ResultApplied}, outcomeResults(log))
	assert.Contains(t, log.Outcomes[0].Error, "dpkg error")
	assert.Empty(t, updates.RevertCalls())
}

func TestExecuteManualOnlyIsSkipped(t *testing.T) {
	priv := step("docker.privileged_container", "docker", engine.ConfirmRequired)
	docker := &module.Fake{ModuleName: "docker", Specs: []engine.FixSpec{spec(priv), spec(proxyStep)},
		FixFunc: func(_ context.Context, id string) module.FixResult {
			if id == priv.FixID {
				return module.ManualOnly("recreate the container without --privileged")
			}
			return module.Applied("")
		}}
	f := newFixture(t, docker)

	plan := &engine.Plan{Steps: []engine.PlanStep{priv, proxyStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.NoError(t, err)
	assert.Equal(t, []engine.Result{engine.ResultSkipped, engine.ResultApplied}, outcomeResults(log))
	assert.Equal(t, engine.ReasonManualOnly, log.Outcomes[0].Reason)
	assert.Contains(t, log.Outcomes[0].Error, "--privileged")
	assert.Empty(t, docker.RevertCalls())
}

func TestExecuteLockContention(t *testing.T) {
	updates := &module.Fake{ModuleName: "updates", Specs: []engine.FixSpec{spec(updateStep)},
		FixFunc: func(context.Context, string) module.FixResult {
			return module.Failed(errors.Join(engine.ErrLockContention, errors.New("/var/lib/dpkg/lock-frontend held")))
		}}
	f := newFixture(t, updates)

	plan := &engine.Plan{Steps: []engine.PlanStep{updateStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.NoError(t, err)
	assert.Equal(t, engine.ResultFailed, log.Outcomes[0].Result)
	assert.Equal(t, engine.ReasonLockContention, log.Outcomes[0].Reason)
}

func TestExecuteFixTimeout(t *testing.T) {
	ssh := &module.Fake{ModuleName: "ssh", Specs: []engine.FixSpec{spec(rootStep)},
		FixFunc: func(ctx context.Context, _ string) module.FixResult {
			<-ctx.Done()
			return module.Failed(ctx.Err())
		}}
	f := newFixture(t, ssh)
	f.exec.FixTimeout = 10 * time.Millisecond

	plan := &engine.Plan{Steps: []engine.PlanStep{rootStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.NoError(t, err)
	assert.Equal(t, engine.ResultRolledBack, log.Outcomes[0].Result)
	assert.Equal(t, engine.ReasonFixTimeout, log.Outcomes[0].Reason)
}

func TestExecuteLockoutVerificationFailure(t *testing.T) {
	fwMod := &module.Fake{ModuleName: "firewall", Specs: []engine.FixSpec{spec(ufwStep)}}
	ssh := &module.Fake{ModuleName: "ssh", Specs: []engine.FixSpec{spec(rootStep)}}
	f := newFixture(t, fwMod, ssh)

	fwMod.FixFunc = func(context.Context, string) module.FixResult {
		_ = afero.WriteFile(f.fs, ufwConf, []byte("ENABLED=yes\n"), 0o644)
		f.fw.SetActive(true)
		f.fw.BrokenVerify = true
		return module.Applied("")
	}
	fwMod.RevertFunc = func(context.Context, string) error {
		f.fw.SetActive(false)
		return nil
	}

	plan := &engine.Plan{Steps: []engine.PlanStep{ufwStep, rootStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.ErrorIs(t, err, engine.ErrLockoutVerification)

	assert.Equal(t, []engine.Result{engine.ResultRolledBack, engine.ResultSkipped}, outcomeResults(log))
	assert.Equal(t, engine.ReasonVerificationFailed, log.Outcomes[0].Reason)
	assert.Equal(t, engine.ReasonHaltedByRollback, log.Outcomes[1].Reason)
	assert.Len(t, log.Executed(), 1)
	assert.Equal(t, "ENABLED=no\n", f.read(t, ufwConf))
	assert.False(t, f.fw.Active)
	assert.Contains(t, f.fw.Rules(), guard.Rule{Port: 22, Proto: "tcp"})
	assert.Empty(t, ssh.FixCalls())
}

func TestExecuteLockoutManagementRuleRemoved(t *testing.T) {
	fwMod := &module.Fake{ModuleName: "firewall", Specs: []engine.FixSpec{spec(ufwStep)}}
	ssh := &module.Fake{ModuleName: "ssh", Specs: []engine.FixSpec{spec(rootStep)}}
	f := newFixture(t, fwMod, ssh)
	f.fw.SetActive(true)
	portRule := guard.Rule{Port: 22, Proto: "tcp"}
	f.exec.Guard.Detector = guard.StaticDetector{Channel: guard.ManagementChannel{Port: 22, Proto: "tcp", Source: "10.0.0.5"}}

	fwMod.FixFunc = func(ctx context.Context, _ string) module.FixResult {
		_ = afero.WriteFile(f.fs, ufwConf, []byte("ENABLED=yes\n"), 0o644)
		_ = f.fw.RemoveAllow(ctx, portRule)
		return module.Applied("")
	}
	fwMod.RevertFunc = func(ctx context.Context, _ string) error {
		return f.fw.EnsureAllow(ctx, portRule)
	}

	plan := &engine.Plan{Steps: []engine.PlanStep{ufwStep, rootStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.ErrorIs(t, err, engine.ErrLockoutVerification)

	assert.Equal(t, []engine.Result{engine.ResultRolledBack, engine.ResultSkipped}, outcomeResults(log))
	assert.Equal(t, engine.ReasonVerificationFailed, log.Outcomes[0].Reason)
	assert.True(t, log.Halted)
	assert.Equal(t, []string{"ufw.enable"}, fwMod.RevertCalls())
	assert.Contains(t, f.fw.Rules(), portRule)
	assert.Equal(t, "ENABLED=no\n", f.read(t, ufwConf))
	assert.Empty(t, ssh.FixCalls())
}

func TestExecuteLockoutPreProtectFailure(t *testing.T) {
	fwMod := &module.Fake{ModuleName: "firewall", Specs: []engine.FixSpec{spec(ufwStep)}}
	f := newFixture(t, fwMod)
	f.exec.Guard.Detector = guard.StaticDetector{Err: errors.New("no sshd")}

	plan := &engine.Plan{Steps: []engine.PlanStep{ufwStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.NoError(t, err)
	assert.Equal(t, engine.ResultFailed, log.Outcomes[0].Result)
	assert.Equal(t, engine.ReasonPreProtectFailed, log.Outcomes[0].Reason)
	assert.Empty(t, fwMod.FixCalls())
}

func TestExecuteRollbackFailureHaltsSession(t *testing.T) {
	ssh := &module.Fake{ModuleName: "ssh", Specs: []engine.FixSpec{spec(rootStep)}}
	docker := &module.Fake{ModuleName: "docker", Specs: []engine.FixSpec{spec(proxyStep)}}
	f := newFixture(t, ssh, docker)
	ssh.FixFunc = func(context.Context, string) module.FixResult {
		_ = f.fs.RemoveAll("/etc/ssh")
		return module.Failed(errors.New("sshd reload failed"))
	}

	plan := &engine.Plan{Steps: []engine.PlanStep{rootStep, proxyStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.ErrorIs(t, err, ErrRollbackFailed)
	assert.ErrorIs(t, err, backup.ErrRestoreTargetMissing)
	assert.Equal(t, []engine.Result{engine.ResultFailed, engine.ResultSkipped}, outcomeResults(log))
	assert.Equal(t, engine.ReasonRestoreFailed, log.Outcomes[0].Reason)
	assert.True(t, log.Halted)
	assert.Empty(t, docker.FixCalls())
}

func TestExecuteAbortBetweenSteps(t *testing.T) {
	docker := &module.Fake{ModuleName: "docker", Specs: []engine.FixSpec{spec(proxyStep)}}
	ssh := &module.Fake{ModuleName: "ssh", Specs: []engine.FixSpec{spec(rootStep)}}
	updates := &module.Fake{ModuleName: "updates", Specs: []engine.FixSpec{spec(updateStep)}}
	f := newFixture(t, docker, ssh, updates)
	f.exec.Proceed = func(_ context.Context, i int, _ engine.PlanStep) bool { return i < 1 }

	plan := &engine.Plan{Steps: []engine.PlanStep{proxyStep, rootStep, updateStep}}
	log, err := f.exec.Execute(context.Background(), plan, guard.AckAll(plan))
	require.NoError(t, err)
	assert.True(t, log.Aborted)
	assert.Equal(t, []engine.Result{engine.ResultApplied, engine.ResultSkipped, engine.ResultSkipped}, outcomeResults(log))
	assert.Equal(t, engine.ReasonAborted, log.Outcomes[1].Reason)
	assert.Equal(t, engine.ReasonAborted, log.Outcomes[2].Reason)
	assert.Empty(t, docker.RevertCalls(), "applied steps are kept")
}

func TestExecuteCanceledContext(t *testing.T) {
	docker := &module.Fake{ModuleName: "docker", Specs: []engine.FixSpec{spec(proxyStep)}}
	f := newFixture(t, docker)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := &engine.Plan{Steps: []engine.PlanStep{proxyStep}}
	log, err := f.exec.Execute(ctx, plan, nil)
	require.NoError(t, err)
	assert.True(t, log.Aborted)
	assert.Empty(t, docker.FixCalls())
}

func TestExecuteUnknownModule(t *testing.T) {
	f := newFixture(t)
	plan := &engine.Plan{Steps: []engine.PlanStep{proxyStep}}
	log, err := f.exec.Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.ResultFailed, log.Outcomes[0].Result)
	assert.Equal(t, engine.ReasonUnknownModule, log.Outcomes[0].Reason)
}
