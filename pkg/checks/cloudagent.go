package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/module"
)

const fixRemoveCloudAgents = "cloudagent.review_agents"

// CloudAgentPolicy decides the severity of installed cloud vendor agents.
type CloudAgentPolicy string

const (
	// PolicyAllOrNothing rates agents low only when every agent belongs to
	// the detected provider, medium otherwise.
	PolicyAllOrNothing CloudAgentPolicy = "all-or-nothing"
	// PolicyProportional rates by the share of agents that do not belong to
	// the detected provider.
	PolicyProportional CloudAgentPolicy = "proportional"
)

// ParseCloudAgentPolicy validates a policy name. Empty means all-or-nothing.
func ParseCloudAgentPolicy(s string) (CloudAgentPolicy, error) {
	switch CloudAgentPolicy(s) {
	case "", PolicyAllOrNothing:
		return PolicyAllOrNothing, nil
	case PolicyProportional:
		return PolicyProportional, nil
	}
	return "", fmt.Errorf("unknown cloud agent policy %q (want %s or %s)", s, PolicyAllOrNothing, PolicyProportional)
}

// Severity rates matching of total agents under the policy.
func (p CloudAgentPolicy) Severity(matching, total int) engine.Severity {
	if total == 0 {
		return engine.SeverityInfo
	}
	foreign := total - matching
	if p == PolicyProportional {
		switch {
		case foreign == 0:
			return engine.SeverityLow
		case foreign*2 <= total:
			return engine.SeverityMedium
		default:
			return engine.SeverityHigh
		}
	}
	if foreign == 0 {
		return engine.SeverityLow
	}
	return engine.SeverityMedium
}

var dmiFiles = []string{
	"/sys/class/dmi/id/sys_vendor",
	"/sys/class/dmi/id/product_name",
	"/sys/class/dmi/id/bios_vendor",
}

var providerMarkers = []struct {
	marker   string
	provider string
}{
	{"amazon", "aws"},
	{"google", "gcp"},
	{"microsoft", "azure"},
	{"digitalocean", "digitalocean"},
	{"hetzner", "hetzner"},
	{"alibaba", "alibaba"},
	{"tencent", "tencent"},
	{"oraclecloud", "oracle"},
}

// agentUnits maps systemd unit name prefixes to the provider shipping them.
var agentUnits = map[string]string{
	"amazon-ssm-agent":        "aws",
	"amazon-cloudwatch-agent": "aws",
	"google-guest-agent":      "gcp",
	"google-osconfig-agent":   "gcp",
	"google-cloud-ops-agent":  "gcp",
	"walinuxagent":            "azure",
	"waagent":                 "azure",
	"droplet-agent":           "digitalocean",
	"do-agent":                "digitalocean",
	"aliyun":                  "alibaba",
	"cloudmonitor":            "alibaba",
	"aegis":                   "alibaba",
	"tat_agent":               "tencent",
	"yunjing":                 "tencent",
	"oracle-cloud-agent":      "oracle",
}

// CloudAgent reports cloud vendor agents with remote execution capability.
type CloudAgent struct {
	deps   Deps
	policy CloudAgentPolicy
}

// NewCloudAgent returns the cloud agent module.
func NewCloudAgent(d Deps) *CloudAgent {
	policy := d.CloudAgentPolicy
	if policy == "" {
		policy = PolicyAllOrNothing
	}
	return &CloudAgent{deps: d, policy: policy}
}

func (m *CloudAgent) Name() string { return "cloudagent" }

func (m *CloudAgent) Fixes() []engine.FixSpec {
	return []engine.FixSpec{{
		ID:          fixRemoveCloudAgents,
		Class:       engine.ConfirmRequired,
		Description: "Review and remove cloud agents that are not needed",
	}}
}

// DetectProvider guesses the cloud provider from DMI data.
func DetectProvider(fsys afero.Fs) string {
	for _, f := range dmiFiles {
		data, err := afero.ReadFile(fsys, f)
		if err != nil {
			continue
		}
		v := strings.ToLower(strings.ReplaceAll(string(data), " ", ""))
		for _, pm := range providerMarkers {
			if strings.Contains(v, pm.marker) {
				return pm.provider
			}
		}
	}
	return ""
}

// MatchAgents returns installed agent units and their provider.
func MatchAgents(units []string) map[string]string {
	found := make(map[string]string)
	for _, u := range units {
		name := strings.ToLower(strings.TrimSuffix(u, ".service"))
		for prefix, provider := range agentUnits {
			if strings.HasPrefix(name, prefix) {
				found[name] = provider
			}
		}
	}
	return found
}

func (m *CloudAgent) Audit(ctx context.Context) ([]engine.Finding, error) {
	if !m.deps.installed("systemctl") {
		return []engine.Finding{{
			ID:       "cloudagent.unsupported",
			Severity: engine.SeverityInfo,
			Status:   engine.StatusPassed,
			Title:    "Cloud agents not checked (no systemd)",
		}}, nil
	}

	argv := []string{"systemctl", "list-unit-files", "--type=service", "--no-legend", "--plain"}
	res := m.deps.probe(ctx, argv...)
	if err := res.Err(argv); err != nil {
		return nil, err
	}
	var units []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			units = append(units, f[0])
		}
	}

	agents := MatchAgents(units)
	provider := DetectProvider(m.deps.Fs)
	if len(agents) == 0 {
		return []engine.Finding{{
			ID:       "cloudagent.none",
			Severity: engine.SeverityInfo,
			Status:   engine.StatusPassed,
			Title:    "No cloud vendor agents installed",
		}}, nil
	}

	names := make([]string, 0, len(agents))
	matching := 0
	for name, p := range agents {
		names = append(names, fmt.Sprintf("%s (%s)", name, p))
		if p == provider {
			matching++
		}
	}
	sort.Strings(names)

	detected := provider
	if detected == "" {
		detected = "unknown"
	}
	return []engine.Finding{{
		ID:       "cloudagent.agents_present",
		Severity: m.policy.Severity(matching, len(agents)),
		Status:   engine.StatusFailed,
		Title:    fmt.Sprintf("%d cloud vendor agents installed", len(agents)),
		Description: fmt.Sprintf("Detected provider: %s. Agents: %s. %d of %d belong to the detected provider.",
			detected, strings.Join(names, ", "), matching, len(agents)),
		Suggestion: "Vendor agents can run commands as root; keep only the ones you use.",
		FixID:      fixRemoveCloudAgents,
	}}, nil
}

func (m *CloudAgent) Fix(_ context.Context, fixID string) module.FixResult {
	if fixID != fixRemoveCloudAgents {
		return module.Failed(fmt.Errorf("%w: %s", engine.ErrUnknownFix, fixID))
	}
	return module.ManualOnly("Disable unneeded agents with systemctl disable --now <unit>; removing the provider's own agent may break console access.")
}
