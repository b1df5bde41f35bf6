package checks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/spf13/afero"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/module"
)

const (
	fixDockerPrivileged = "docker.privileged_container"
	fixDockerProxy      = "docker.generate_proxy_template"
)

// Container is the subset of `docker inspect` the module looks at.
type Container struct {
	Name       string
	Privileged bool
	// Published maps container port ("80/tcp") to host bindings.
	Published map[string][]PortBinding
}

// PortBinding is one host side of a published port.
type PortBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// PublicBindings returns the bindings reachable on every interface.
func (c Container) PublicBindings() []string {
	var out []string
	seen := make(map[string]bool)
	for port, binds := range c.Published {
		for _, b := range binds {
			s := fmt.Sprintf("%s->%s", b.HostPort, port)
			if isPublic(b.HostIP) && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func isPublic(hostIP string) bool {
	return hostIP == "" || hostIP == "0.0.0.0" || hostIP == "::"
}

type inspectRecord struct {
	Name       string `json:"Name"`
	HostConfig struct {
		Privileged bool `json:"Privileged"`
	} `json:"HostConfig"`
	NetworkSettings struct {
		Ports map[string][]PortBinding `json:"Ports"`
	} `json:"NetworkSettings"`
}

// ParseInspect decodes `docker inspect` JSON output.
func ParseInspect(data []byte) ([]Container, error) {
	var records []inspectRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode docker inspect: %w", err)
	}
	out := make([]Container, 0, len(records))
	for _, r := range records {
		out = append(out, Container{
			Name:       strings.TrimPrefix(r.Name, "/"),
			Privileged: r.HostConfig.Privileged,
			Published:  r.NetworkSettings.Ports,
		})
	}
	return out, nil
}

// Docker audits running containers.
type Docker struct {
	deps         Deps
	templatePath string
}

// NewDocker returns the docker module.
func NewDocker(d Deps) *Docker {
	path := d.ProxyTemplatePath
	if path == "" {
		path = DefaultProxyTemplatePath
	}
	return &Docker{deps: d, templatePath: path}
}

func (m *Docker) Name() string { return "docker" }

func (m *Docker) Fixes() []engine.FixSpec {
	return []engine.FixSpec{
		{
			ID:          fixDockerPrivileged,
			Class:       engine.ConfirmRequired,
			Description: "Recreate privileged containers without --privileged",
		},
		{
			ID:          fixDockerProxy,
			Class:       engine.Safe,
			Description: "Write a reverse proxy template that binds exposed containers to localhost",
			Targets:     []string{m.templatePath},
		},
	}
}

func (m *Docker) containers(ctx context.Context) ([]Container, error) {
	argv := []string{"docker", "ps", "-q"}
	res := m.deps.probe(ctx, argv...)
	if err := res.Err(argv); err != nil {
		return nil, err
	}
	ids := strings.Fields(res.Stdout)
	if len(ids) == 0 {
		return nil, nil
	}
	argv = append([]string{"docker", "inspect"}, ids...)
	res = m.deps.probe(ctx, argv...)
	if err := res.Err(argv); err != nil {
		return nil, err
	}
	return ParseInspect([]byte(res.Stdout))
}

func (m *Docker) Audit(ctx context.Context) ([]engine.Finding, error) {
	if !m.deps.installed("docker") {
		return []engine.Finding{{
			ID:       "docker.not_installed",
			Severity: engine.SeverityInfo,
			Status:   engine.StatusPassed,
			Title:    "Docker is not installed",
		}}, nil
	}
	containers, err := m.containers(ctx)
	if err != nil {
		return nil, err
	}

	var findings []engine.Finding
	for _, c := range containers {
		if c.Privileged {
			findings = append(findings, engine.Finding{
				ID:          "docker.privileged." + c.Name,
				Severity:    engine.SeverityHigh,
				Status:      engine.StatusFailed,
				Title:       fmt.Sprintf("Container %s runs privileged", c.Name),
				Description: "A privileged container has full access to host devices and kernel capabilities.",
				Suggestion:  "Recreate it with only the capabilities it needs (--cap-add).",
				FixID:       fixDockerPrivileged,
			})
		}
		if binds := c.PublicBindings(); len(binds) > 0 {
			findings = append(findings, engine.Finding{
				ID:          "docker.exposed_port." + c.Name,
				Severity:    engine.SeverityMedium,
				Status:      engine.StatusFailed,
				Title:       fmt.Sprintf("Container %s publishes ports on all interfaces", c.Name),
				Description: "Published: " + strings.Join(binds, ", ") + ". Docker rules bypass ufw.",
				Suggestion:  "Publish on 127.0.0.1 and front the service with a reverse proxy.",
				FixID:       fixDockerProxy,
			})
		}
	}
	if len(findings) == 0 {
		findings = append(findings, engine.Finding{
			ID:       "docker.containers_ok",
			Severity: engine.SeverityInfo,
			Status:   engine.StatusPassed,
			Title:    fmt.Sprintf("%d running containers, none privileged or publicly exposed", len(containers)),
		})
	}
	return findings, nil
}

func (m *Docker) Fix(ctx context.Context, fixID string) module.FixResult {
	switch fixID {
	case fixDockerPrivileged:
		return module.ManualOnly("Recreate each privileged container without --privileged, adding only required capabilities with --cap-add.")
	case fixDockerProxy:
		containers, err := m.containers(ctx)
		if err != nil {
			return module.Failed(err)
		}
		out, err := RenderProxyTemplate(containers)
		if err != nil {
			return module.Failed(err)
		}
		if err := m.deps.Fs.MkdirAll(filepath.Dir(m.templatePath), 0o755); err != nil {
			return module.Failed(err)
		}
		if err := afero.WriteFile(m.deps.Fs, m.templatePath, out, 0o644); err != nil {
			return module.Failed(err)
		}
		return module.Applied("proxy template written to " + m.templatePath)
	}
	return module.Failed(fmt.Errorf("%w: %s", engine.ErrUnknownFix, fixID))
}

var proxyTemplate = template.Must(template.New("proxy").Parse(`# Reverse proxy template generated by hostaudit.
# Republish each container on the loopback port shown for it, then include
# this file from your nginx configuration.
{{range .}}
# container {{.Name}}: -p 127.0.0.1:{{.Upstream}}:{{.ContainerPort}}
server {
    listen {{.HostPort}};
    location / {
        proxy_pass http://127.0.0.1:{{.Upstream}};
        proxy_set_header Host $host;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    }
}
{{end}}`))

type proxyEntry struct {
	Name          string
	ContainerPort string
	HostPort      string
	// Upstream is the loopback port the container moves to, so nginx can
	// take over HostPort.
	Upstream string
}

// upstreamOffset moves a republished container out of nginx's way.
const upstreamOffset = 10000

func upstreamPort(hostPort string) string {
	n, err := strconv.Atoi(hostPort)
	if err != nil || n+upstreamOffset > 65535 {
		return "UPSTREAM_PORT"
	}
	return strconv.Itoa(n + upstreamOffset)
}

// RenderProxyTemplate renders an nginx template for every public binding.
func RenderProxyTemplate(containers []Container) ([]byte, error) {
	var entries []proxyEntry
	seen := make(map[proxyEntry]bool)
	for _, c := range containers {
		for port, binds := range c.Published {
			for _, b := range binds {
				e := proxyEntry{Name: c.Name, ContainerPort: port, HostPort: b.HostPort, Upstream: upstreamPort(b.HostPort)}
				if isPublic(b.HostIP) && !seen[e] {
					seen[e] = true
					entries = append(entries, e)
				}
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].HostPort < entries[j].HostPort
	})
	var buf bytes.Buffer
	if err := proxyTemplate.Execute(&buf, entries); err != nil {
		return nil, fmt.Errorf("render proxy template: %w", err)
	}
	return buf.Bytes(), nil
}
