package checks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/logging"
	"github.com/user/hostaudit/pkg/module"
)

// Profile is a YAML file describing a custom check module, e.g. a site
// hardening baseline.
type Profile struct {
	Module      string            `yaml:"module"`
	Standard    string            `yaml:"standard"`
	Description string            `yaml:"description"`
	Variables   map[string]string `yaml:"variables"`
	Checks      []ProfileCheck    `yaml:"checks"`
}

// ProfileCheck is one shell-probed control.
type ProfileCheck struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
	// Command passes when it exits zero and, if Expect is set, its output
	// contains Expect.
	Command    string      `yaml:"command"`
	Expect     string      `yaml:"expect"`
	Suggestion string      `yaml:"suggestion"`
	Fix        *ProfileFix `yaml:"fix"`
}

// ProfileFix is the remediation attached to a check.
type ProfileFix struct {
	ID                string `yaml:"id"`
	DangerClass       string `yaml:"danger_class"`
	Description       string `yaml:"description"`
	FixCommand        string `yaml:"fix_command"`
	ValidationCommand string `yaml:"validation_command"`
	// RollbackCommand runs after Targets are restored when the fix fails.
	// It requires at least one target.
	RollbackCommand string   `yaml:"rollback_command"`
	Targets         []string `yaml:"targets"`
	// ManualOnly fixes print Description as instructions instead of running.
	ManualOnly bool `yaml:"manual_only"`
}

// ProfileModule runs the checks of one profile.
type ProfileModule struct {
	deps    Deps
	profile Profile
	fixes   map[string]ProfileFix
	specs   []engine.FixSpec
}

// LoadProfiles reads every .yaml/.yml file in dir as a module. A missing
// directory yields no modules.
func LoadProfiles(fsys afero.Fs, dir string, d Deps) ([]*ProfileModule, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var mods []*ProfileModule
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			return nil, err
		}
		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		m, err := NewProfileModule(p, d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		mods = append(mods, m)
		logging.Logger.Debugw("loaded check profile", "module", p.Module, "checks", len(p.Checks), "path", path)
	}
	return mods, nil
}

// NewProfileModule validates a profile and builds its module.
func NewProfileModule(p Profile, d Deps) (*ProfileModule, error) {
	if p.Module == "" {
		return nil, fmt.Errorf("profile has no module name")
	}
	m := &ProfileModule{deps: d, profile: p, fixes: make(map[string]ProfileFix)}
	seen := make(map[string]bool)
	for _, c := range p.Checks {
		if c.ID == "" || c.Command == "" {
			return nil, fmt.Errorf("check %q needs an id and a command", c.ID)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate check id %q", c.ID)
		}
		seen[c.ID] = true
		if _, err := engine.ParseSeverity(c.Severity); err != nil {
			return nil, fmt.Errorf("check %s: %w", c.ID, err)
		}
		if c.Fix == nil {
			continue
		}
		if _, ok := m.fixes[c.Fix.ID]; ok {
			// Several checks may share one fix.
			continue
		}
		class, err := engine.ParseDangerClass(c.Fix.DangerClass)
		if err != nil {
			return nil, fmt.Errorf("fix %s: %w", c.Fix.ID, err)
		}
		if !c.Fix.ManualOnly && c.Fix.FixCommand == "" {
			return nil, fmt.Errorf("fix %s has no fix_command", c.Fix.ID)
		}
		// Rollback only happens for steps that snapshotted something.
		if c.Fix.RollbackCommand != "" && len(c.Fix.Targets) == 0 {
			return nil, fmt.Errorf("fix %s has a rollback_command but no targets", c.Fix.ID)
		}
		m.fixes[c.Fix.ID] = *c.Fix
		m.specs = append(m.specs, engine.FixSpec{
			ID:          c.Fix.ID,
			Class:       class,
			Description: c.Fix.Description,
			Targets:     c.Fix.Targets,
		})
	}
	return m, nil
}

func (m *ProfileModule) Name() string { return m.profile.Module }

func (m *ProfileModule) Fixes() []engine.FixSpec { return m.specs }

// Profile returns the loaded profile.
func (m *ProfileModule) Profile() Profile { return m.profile }

func (m *ProfileModule) Audit(ctx context.Context) ([]engine.Finding, error) {
	findings := make([]engine.Finding, 0, len(m.profile.Checks))
	for _, c := range m.profile.Checks {
		sev, _ := engine.ParseSeverity(c.Severity)
		f := engine.Finding{
			ID:          c.ID,
			Severity:    sev,
			Status:      engine.StatusPassed,
			Title:       c.Title,
			Description: c.Description,
			Suggestion:  c.Suggestion,
		}
		cmd, err := m.render(c.ID, c.Command)
		if err != nil {
			return nil, err
		}
		res := m.deps.probe(ctx, "sh", "-c", cmd)
		if !res.OK() || (c.Expect != "" && !strings.Contains(res.Stdout, c.Expect)) {
			f.Status = engine.StatusFailed
			if c.Fix != nil {
				f.FixID = c.Fix.ID
			}
		}
		if m.profile.Standard != "" {
			f.Description = strings.TrimSpace(fmt.Sprintf("[%s] %s", m.profile.Standard, f.Description))
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func (m *ProfileModule) Fix(ctx context.Context, fixID string) module.FixResult {
	fix, ok := m.fixes[fixID]
	if !ok {
		return module.Failed(fmt.Errorf("%w: %s", engine.ErrUnknownFix, fixID))
	}
	if fix.ManualOnly {
		return module.ManualOnly(fix.Description)
	}
	if err := m.run(ctx, fixID+".fix", fix.FixCommand); err != nil {
		return module.Failed(err)
	}
	if fix.ValidationCommand != "" {
		if err := m.run(ctx, fixID+".validate", fix.ValidationCommand); err != nil {
			return module.Failed(fmt.Errorf("validation failed: %w", err))
		}
	}
	return module.Applied(fix.Description)
}

// Revert runs the fix's rollback command, if any.
func (m *ProfileModule) Revert(ctx context.Context, fixID string) error {
	fix, ok := m.fixes[fixID]
	if !ok || fix.RollbackCommand == "" {
		return nil
	}
	return m.run(ctx, fixID+".rollback", fix.RollbackCommand)
}

func (m *ProfileModule) run(ctx context.Context, name, tmpl string) error {
	cmd, err := m.render(name, tmpl)
	if err != nil {
		return err
	}
	argv := []string{"sh", "-c", cmd}
	return m.deps.Runner.Run(ctx, argv...).Err(argv)
}

func (m *ProfileModule) render(name, tmplStr string) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, m.profile.Variables); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
