// Package checks contains the built-in audit modules.
package checks

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/user/hostaudit/pkg/firewall"
	"github.com/user/hostaudit/pkg/module"
	"github.com/user/hostaudit/pkg/sysexec"
)

// Deps are the host facilities the modules read and change.
type Deps struct {
	Runner sysexec.Runner
	Fs     afero.Fs
	// ProbeTimeout bounds each command a module runs while auditing.
	ProbeTimeout time.Duration
	// LockWait bounds how long package operations wait for the dpkg lock.
	LockWait time.Duration
	// ProxyTemplatePath is where the docker module writes its proxy template.
	ProxyTemplatePath string
	// CloudAgentPolicy selects the cloud agent severity policy.
	CloudAgentPolicy CloudAgentPolicy
	// ProfilesDir holds YAML check profiles loaded as extra modules.
	ProfilesDir string
}

// DefaultProxyTemplatePath is the default output of docker.generate_proxy_template.
const DefaultProxyTemplatePath = "/etc/hostaudit/docker-proxy.conf"

// Builtin returns the built-in modules in registration order.
func Builtin(d Deps) []module.Module {
	return []module.Module{
		NewFirewall(d),
		NewSSH(d),
		NewUpdates(d),
		NewDocker(d),
		NewProcess(d),
		NewCloudAgent(d),
	}
}

// All returns the built-in modules followed by the profiles in ProfilesDir.
func All(d Deps) ([]module.Module, error) {
	mods := Builtin(d)
	if d.ProfilesDir == "" {
		return mods, nil
	}
	profiles, err := LoadProfiles(d.Fs, d.ProfilesDir, d)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		mods = append(mods, p)
	}
	return mods, nil
}

func (d Deps) probe(ctx context.Context, argv ...string) sysexec.Result {
	if d.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ProbeTimeout)
		defer cancel()
	}
	return d.Runner.Run(ctx, argv...)
}

func (d Deps) installed(name string) bool {
	_, err := d.Runner.LookPath(name)
	return err == nil
}

func (d Deps) ufw() *firewall.UFW {
	return &firewall.UFW{Runner: d.Runner}
}
