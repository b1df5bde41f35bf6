package checks

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/firewall"
	"github.com/user/hostaudit/pkg/module"
)

const (
	fixSSHRootLogin    = "ssh.disable_root_login"
	fixSSHPasswordAuth = "ssh.disable_password_auth"
)

// SSH audits the OpenSSH daemon configuration.
type SSH struct {
	deps       Deps
	configPath string
}

// NewSSH returns the ssh module.
func NewSSH(d Deps) *SSH {
	return &SSH{deps: d, configPath: firewall.SSHDConfig}
}

func (m *SSH) Name() string { return "ssh" }

func (m *SSH) Fixes() []engine.FixSpec {
	return []engine.FixSpec{
		{
			ID:          fixSSHRootLogin,
			Class:       engine.ConfirmRequired,
			Description: "Set PermitRootLogin no and reload sshd",
			Targets:     []string{m.configPath},
		},
		{
			ID:          fixSSHPasswordAuth,
			Class:       engine.ConfirmRequired,
			Description: "Set PasswordAuthentication no and reload sshd",
			Targets:     []string{m.configPath},
		},
	}
}

func (m *SSH) Audit(_ context.Context) ([]engine.Finding, error) {
	data, err := afero.ReadFile(m.deps.Fs, m.configPath)
	if os.IsNotExist(err) {
		return []engine.Finding{{
			ID:          "ssh.not_installed",
			Severity:    engine.SeverityInfo,
			Status:      engine.StatusPassed,
			Title:       "OpenSSH server is not configured",
			Description: fmt.Sprintf("%s does not exist.", m.configPath),
		}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.configPath, err)
	}

	root, rootFrom, ok := m.option(data, "PermitRootLogin")
	if !ok {
		root = "prohibit-password"
	}
	rootFinding := engine.Finding{
		ID:       "ssh.root_login",
		Severity: engine.SeverityHigh,
		Status:   engine.StatusPassed,
		Title:    "Root login over SSH is restricted",
	}
	if strings.EqualFold(root, "yes") {
		rootFinding.Status = engine.StatusFailed
		rootFinding.Title = "Root can log in over SSH with a password"
		rootFinding.Description = "PermitRootLogin is yes" + m.setIn(rootFrom) + "."
		rootFinding.Suggestion = "Log in as an unprivileged user and use sudo."
		rootFinding.FixID = fixSSHRootLogin
	}

	pw, pwFrom, ok := m.option(data, "PasswordAuthentication")
	if !ok {
		pw = "yes"
	}
	pwFinding := engine.Finding{
		ID:       "ssh.password_auth",
		Severity: engine.SeverityMedium,
		Status:   engine.StatusPassed,
		Title:    "SSH password authentication is disabled",
	}
	if strings.EqualFold(pw, "yes") {
		pwFinding.Status = engine.StatusFailed
		pwFinding.Title = "SSH accepts password authentication"
		pwFinding.Description = fmt.Sprintf("PasswordAuthentication is %s%s.", pw, m.setIn(pwFrom))
		pwFinding.Suggestion = "Install an SSH key for every operator, then disable passwords."
		pwFinding.FixID = fixSSHPasswordAuth
	}
	return []engine.Finding{rootFinding, pwFinding}, nil
}

// option returns the value sshd uses for a global keyword and the file it
// comes from. sshd keeps the first value it reads, and Include directives are
// read in place, so a drop-in can override a later line of the main file.
func (m *SSH) option(data []byte, keyword string) (value, file string, ok bool) {
	return m.lookup(data, m.configPath, keyword, 0)
}

const maxIncludeDepth = 4

func (m *SSH) lookup(data []byte, path, keyword string, depth int) (string, string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch {
		case strings.EqualFold(fields[0], "Match"):
			return "", "", false
		case strings.EqualFold(fields[0], keyword) && len(fields) > 1:
			return fields[1], path, true
		case strings.EqualFold(fields[0], "Include") && depth < maxIncludeDepth:
			for _, inc := range m.includes(fields[1:]) {
				b, err := afero.ReadFile(m.deps.Fs, inc)
				if err != nil {
					continue
				}
				if v, from, ok := m.lookup(b, inc, keyword, depth+1); ok {
					return v, from, true
				}
			}
		}
	}
	return "", "", false
}

// includes expands Include arguments. Relative paths are under /etc/ssh.
func (m *SSH) includes(patterns []string) []string {
	var files []string
	for _, p := range patterns {
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(m.configPath), p)
		}
		matches, err := afero.Glob(m.deps.Fs, p)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files
}

func (m *SSH) setIn(file string) string {
	if file == "" || file == m.configPath {
		return ""
	}
	return " (set in " + file + ")"
}

func (m *SSH) Fix(ctx context.Context, fixID string) module.FixResult {
	var key string
	switch fixID {
	case fixSSHRootLogin:
		key = "PermitRootLogin"
	case fixSSHPasswordAuth:
		key = "PasswordAuthentication"
	default:
		return module.Failed(fmt.Errorf("%w: %s", engine.ErrUnknownFix, fixID))
	}

	info, err := m.deps.Fs.Stat(m.configPath)
	if err != nil {
		return module.Failed(err)
	}
	data, err := afero.ReadFile(m.deps.Fs, m.configPath)
	if err != nil {
		return module.Failed(err)
	}
	if err := afero.WriteFile(m.deps.Fs, m.configPath, SetSSHDOption(data, key, "no"), info.Mode().Perm()); err != nil {
		return module.Failed(err)
	}

	if m.deps.installed("sshd") {
		argv := []string{"sshd", "-t"}
		if err := m.deps.Runner.Run(ctx, argv...).Err(argv); err != nil {
			return module.Failed(fmt.Errorf("configuration rejected: %w", err))
		}
	}
	if err := m.reload(ctx); err != nil {
		return module.Failed(err)
	}
	return module.Applied(fmt.Sprintf("%s set to no", key))
}

// Revert reloads sshd so the restored configuration takes effect.
func (m *SSH) Revert(ctx context.Context, _ string) error {
	return m.reload(ctx)
}

func (m *SSH) reload(ctx context.Context) error {
	var err error
	for _, unit := range []string{"ssh", "sshd"} {
		argv := []string{"systemctl", "reload", unit}
		if err = m.deps.Runner.Run(ctx, argv...).Err(argv); err == nil {
			return nil
		}
	}
	return err
}

// SetSSHDOption sets a global sshd_config keyword. The first active
// occurrence before any Include or Match line is rewritten; otherwise the
// option is inserted before the first Include or Match line, or appended.
// Placing it ahead of Include makes it win over drop-in files.
func SetSSHDOption(data []byte, keyword, value string) []byte {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}

	setting := keyword + " " + value
	insertAt := len(lines)
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if strings.EqualFold(fields[0], "Match") || strings.EqualFold(fields[0], "Include") {
			insertAt = i
			break
		}
		if strings.EqualFold(fields[0], keyword) {
			lines[i] = setting
			return []byte(strings.Join(lines, "\n") + "\n")
		}
	}

	lines = append(lines[:insertAt], append([]string{setting}, lines[insertAt:]...)...)
	return []byte(strings.Join(lines, "\n") + "\n")
}
