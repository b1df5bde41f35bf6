package checks

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/module"
)

const fixTerminateSuspicious = "process.terminate_suspicious"

var (
	suspiciousDirs = []string{"/tmp/", "/dev/shm/", "/var/tmp/"}
	minerNames     = map[string]bool{
		"xmrig": true, "kdevtmpfsi": true, "kinsing": true, "minerd": true,
		"cpuminer": true, "xmr-stak": true, "ethminer": true, "nbminer": true,
	}
)

// Process is one row of `ps -eo pid=,user=,comm=,args=`.
type Process struct {
	PID  string
	User string
	Comm string
	Args string
}

// ParsePS reads `ps -eo pid=,user=,comm=,args=` output.
func ParsePS(out string) []Process {
	var procs []Process
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		procs = append(procs, Process{
			PID:  fields[0],
			User: fields[1],
			Comm: fields[2],
			Args: strings.Join(fields[3:], " "),
		})
	}
	return procs
}

// Suspicious reports why a process looks malicious, or "".
func (p Process) Suspicious() string {
	if minerNames[strings.ToLower(p.Comm)] {
		return "known cryptominer name"
	}
	args := strings.Fields(p.Args)
	if len(args) == 0 {
		return ""
	}
	exe := args[0]
	if minerNames[strings.ToLower(path.Base(exe))] {
		return "known cryptominer name"
	}
	for _, dir := range suspiciousDirs {
		if strings.HasPrefix(exe, dir) {
			return "executable runs from " + strings.TrimSuffix(dir, "/")
		}
	}
	return ""
}

// ProcessModule looks for processes commonly left by intrusions.
type ProcessModule struct {
	deps Deps
}

// NewProcess returns the process module.
func NewProcess(d Deps) *ProcessModule {
	return &ProcessModule{deps: d}
}

func (m *ProcessModule) Name() string { return "process" }

func (m *ProcessModule) Fixes() []engine.FixSpec {
	return []engine.FixSpec{{
		ID:          fixTerminateSuspicious,
		Class:       engine.ConfirmRequired,
		Description: "Stop suspicious processes and remove their persistence",
	}}
}

func (m *ProcessModule) Audit(ctx context.Context) ([]engine.Finding, error) {
	argv := []string{"ps", "-eo", "pid=,user=,comm=,args="}
	res := m.deps.probe(ctx, argv...)
	if err := res.Err(argv); err != nil {
		return nil, err
	}

	byComm := make(map[string][]Process)
	reasons := make(map[string]string)
	for _, p := range ParsePS(res.Stdout) {
		if why := p.Suspicious(); why != "" {
			byComm[p.Comm] = append(byComm[p.Comm], p)
			reasons[p.Comm] = why
		}
	}
	if len(byComm) == 0 {
		return []engine.Finding{{
			ID:       "process.none_suspicious",
			Severity: engine.SeverityInfo,
			Status:   engine.StatusPassed,
			Title:    "No suspicious processes",
		}}, nil
	}

	names := make([]string, 0, len(byComm))
	for n := range byComm {
		names = append(names, n)
	}
	sort.Strings(names)

	var findings []engine.Finding
	for _, name := range names {
		procs := byComm[name]
		var pids []string
		for _, p := range procs {
			pids = append(pids, p.PID)
		}
		findings = append(findings, engine.Finding{
			ID:          "process.suspicious." + name,
			Severity:    engine.SeverityHigh,
			Status:      engine.StatusFailed,
			Title:       fmt.Sprintf("Suspicious process %s", name),
			Description: fmt.Sprintf("%s (pid %s, user %s): %s", reasons[name], strings.Join(pids, ","), procs[0].User, procs[0].Args),
			Suggestion:  "Investigate before killing: check crontabs, systemd units and authorized_keys for persistence.",
			FixID:       fixTerminateSuspicious,
		})
	}
	return findings, nil
}

func (m *ProcessModule) Fix(_ context.Context, fixID string) module.FixResult {
	if fixID != fixTerminateSuspicious {
		return module.Failed(fmt.Errorf("%w: %s", engine.ErrUnknownFix, fixID))
	}
	return module.ManualOnly("Preserve evidence, kill the listed PIDs, then remove persistence (cron, systemd units, ~/.ssh/authorized_keys) and rotate credentials.")
}
