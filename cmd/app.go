package cmd

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/user/hostaudit/pkg/backup"
	"github.com/user/hostaudit/pkg/checks"
	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/executor"
	"github.com/user/hostaudit/pkg/firewall"
	"github.com/user/hostaudit/pkg/guard"
	"github.com/user/hostaudit/pkg/history"
	"github.com/user/hostaudit/pkg/logging"
	"github.com/user/hostaudit/pkg/module"
	"github.com/user/hostaudit/pkg/session"
	"github.com/user/hostaudit/pkg/sysexec"
)

// app wires the configured modules, backup store, firewall guard and
// executor for one command.
type app struct {
	catalog *module.Catalog
	modules []module.Module
	store   *backup.Store
	exec    *executor.Executor
}

// newApp builds the module catalog and selects the enabled modules. only
// overrides the configured module list when non-empty.
func newApp(only []string) (*app, error) {
	runner := &sysexec.ExecRunner{}
	deps := checks.Deps{
		Runner:            runner,
		Fs:                afero.NewOsFs(),
		ProbeTimeout:      cfg.ProbeTimeout,
		LockWait:          cfg.LockWait,
		ProxyTemplatePath: cfg.ProxyTemplate,
		CloudAgentPolicy:  cfg.Policy(),
		ProfilesDir:       cfg.ProfilesDir,
	}
	all, err := checks.All(deps)
	if err != nil {
		return nil, fmt.Errorf("load modules: %w", err)
	}
	overrides, err := cfg.ClassOverrides()
	if err != nil {
		return nil, usageError(err)
	}
	catalog, err := module.NewCatalog(all, overrides)
	if err != nil {
		return nil, usageError(err)
	}

	names := cfg.Modules
	if len(only) > 0 {
		names = only
	}
	enabled, err := catalog.Select(names)
	if err != nil {
		return nil, usageError(err)
	}

	store := backup.NewOsStore(cfg.BackupDir)
	return &app{
		catalog: catalog,
		modules: enabled,
		store:   store,
		exec: &executor.Executor{
			Modules: catalog,
			Store:   store,
			Guard: &guard.Guard{
				Firewall: &firewall.UFW{Runner: runner},
				Detector: firewall.NewSSHDetector(cfg.ManagementPort),
			},
			FixTimeout: cfg.FixTimeout,
			Progress: func(i int, o engine.FixOutcome) {
				logging.Logger.Infow("step finished", "step", i+1, "fix_id", o.FixID, "result", o.Result, "reason", o.Reason)
			},
		},
	}, nil
}

func (a *app) session() *session.Session {
	return &session.Session{
		Catalog:  a.catalog,
		Modules:  a.modules,
		Runner:   module.Runner{Workers: cfg.Workers, Timeout: cfg.ModuleTimeout},
		Executor: a.exec,
		Weights:  cfg.Weights,
	}
}

func openHistory() (*history.Store, error) {
	return history.Open(cfg.HistoryDB)
}
