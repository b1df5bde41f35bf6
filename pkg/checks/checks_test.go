package checks

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/user/hostaudit/pkg/backup"
	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/executor"
	"github.com/user/hostaudit/pkg/guard"
	"github.com/user/hostaudit/pkg/module"
	"github.com/user/hostaudit/pkg/sysexec"
)

type commands map[string]sysexec.Result

func newDeps(installed []string, cmds commands) (Deps, *sysexec.FakeRunner) {
	inst := make(map[string]bool)
	for _, n := range installed {
		inst[n] = true
	}
	r := &sysexec.FakeRunner{
		Installed: inst,
		Handler: func(argv []string) sysexec.Result {
			if res, ok := cmds[strings.Join(argv, " ")]; ok {
				return res
			}
			return sysexec.Fail(127, "unexpected command: "+strings.Join(argv, " "))
		},
	}
	return Deps{Runner: r, Fs: afero.NewMemMapFs(), ProbeTimeout: time.Second, LockWait: 50 * time.Millisecond}, r
}

func byID(findings []engine.Finding) map[string]engine.Finding {
	m := make(map[string]engine.Finding)
	for _, f := range findings {
		m[f.ID] = f
	}
	return m
}

func TestBuiltinCatalogIsValid(t *testing.T) {
	d, _ := newDeps(nil, nil)
	cat, err := module.NewCatalog(Builtin(d), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"firewall", "ssh", "updates", "docker", "process", "cloudagent"}, cat.Names())

	spec, ok := cat.LookupFix("ufw.enable")
	require.True(t, ok)
	assert.Equal(t, engine.LockoutProtected, spec.Class)
	spec, ok = cat.LookupFix("docker.generate_proxy_template")
	require.True(t, ok)
	assert.Equal(t, engine.Safe, spec.Class)
}

func TestFirewallAudit(t *testing.T) {
	t.Run("not installed", func(t *testing.T) {
		d, _ := newDeps(nil, nil)
		findings, err := NewFirewall(d).Audit(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "ufw.not_installed", findings[0].ID)
		assert.Equal(t, engine.StatusPassed, findings[0].Status)
	})

	t.Run("inactive", func(t *testing.T) {
		d, _ := newDeps([]string{"ufw"}, commands{"ufw status verbose": sysexec.Ok("Status: inactive\n")})
		findings, err := NewFirewall(d).Audit(context.Background())
		require.NoError(t, err)
		f := byID(findings)["ufw.disabled"]
		assert.Equal(t, engine.StatusFailed, f.Status)
		assert.Equal(t, engine.SeverityHigh, f.Severity)
		assert.Equal(t, "ufw.enable", f.FixID)
	})

	t.Run("active allow by default", func(t *testing.T) {
		d, _ := newDeps([]string{"ufw"}, commands{"ufw status verbose": sysexec.Ok("Status: active\nDefault: allow (incoming), allow (outgoing)\n")})
		findings, err := NewFirewall(d).Audit(context.Background())
		require.NoError(t, err)
		got := byID(findings)
		assert.Equal(t, engine.StatusPassed, got["ufw.disabled"].Status)
		assert.Equal(t, "ufw.default_deny_incoming", got["ufw.default_incoming_allow"].FixID)
	})

	t.Run("status error", func(t *testing.T) {
		d, _ := newDeps([]string{"ufw"}, commands{"ufw status verbose": sysexec.Fail(1, "need to be root")})
		_, err := NewFirewall(d).Audit(context.Background())
		assert.Error(t, err)
	})
}

func TestFirewallFixAndRevert(t *testing.T) {
	d, r := newDeps([]string{"ufw"}, commands{
		"ufw default deny incoming": sysexec.Ok(""),
		"ufw --force enable":        sysexec.Ok("Firewall is active"),
		"ufw disable":               sysexec.Ok(""),
	})
	m := NewFirewall(d)
	res := m.Fix(context.Background(), "ufw.enable")
	require.True(t, res.OK, res.Err)
	require.NoError(t, m.Revert(context.Background(), "ufw.enable"))
	assert.Equal(t, []string{"ufw default deny incoming", "ufw --force enable", "ufw disable"}, r.Calls())

	assert.ErrorIs(t, m.Fix(context.Background(), "nope").Err, engine.ErrUnknownFix)
}

func TestSSHAuditAndFix(t *testing.T) {
	d, r := newDeps([]string{"sshd"}, commands{
		"sshd -t":              sysexec.Ok(""),
		"systemctl reload ssh": sysexec.Ok(""),
	})
	require.NoError(t, afero.WriteFile(d.Fs, "/etc/ssh/sshd_config", []byte("Port 22\nPermitRootLogin yes\nMatch User git\n  PasswordAuthentication no\n"), 0o600))
	m := NewSSH(d)

	findings, err := m.Audit(context.Background())
	require.NoError(t, err)
	got := byID(findings)
	assert.Equal(t, engine.StatusFailed, got["ssh.root_login"].Status)
	assert.Equal(t, engine.StatusFailed, got["ssh.password_auth"].Status, "Match block values do not count")

	res := m.Fix(context.Background(), "ssh.disable_root_login")
	require.True(t, res.OK, res.Err)
	res = m.Fix(context.Background(), "ssh.disable_password_auth")
	require.True(t, res.OK, res.Err)

	data, err := afero.ReadFile(d.Fs, "/etc/ssh/sshd_config")
	require.NoError(t, err)
	assert.Equal(t, "Port 22\nPermitRootLogin no\nPasswordAuthentication no\nMatch User git\n  PasswordAuthentication no\n", string(data))
	info, err := d.Fs.Stat("/etc/ssh/sshd_config")
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())

	findings, err = m.Audit(context.Background())
	require.NoError(t, err)
	for _, f := range findings {
		assert.Equal(t, engine.StatusPassed, f.Status, f.ID)
	}
	assert.Contains(t, r.Calls(), "sshd -t")
}

func TestSSHFixRejectedConfig(t *testing.T) {
	d, _ := newDeps([]string{"sshd"}, commands{"sshd -t": sysexec.Fail(255, "line 3: Bad configuration option")})
	require.NoError(t, afero.WriteFile(d.Fs, "/etc/ssh/sshd_config", []byte("PermitRootLogin yes\n"), 0o600))
	res := NewSSH(d).Fix(context.Background(), "ssh.disable_root_login")
	assert.False(t, res.OK)
	assert.Contains(t, res.Err.Error(), "Bad configuration option")
}

func TestSSHNotInstalled(t *testing.T) {
	d, _ := newDeps(nil, nil)
	findings, err := NewSSH(d).Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ssh.not_installed", findings[0].ID)
}

func TestSSHIncludeDropIns(t *testing.T) {
	d, _ := newDeps([]string{"sshd"}, commands{
		"sshd -t":              sysexec.Ok(""),
		"systemctl reload ssh": sysexec.Ok(""),
	})
	main := "Include /etc/ssh/sshd_config.d/*.conf\nPermitRootLogin no\nPasswordAuthentication no\n"
	require.NoError(t, afero.WriteFile(d.Fs, "/etc/ssh/sshd_config", []byte(main), 0o600))
	require.NoError(t, afero.WriteFile(d.Fs, "/etc/ssh/sshd_config.d/50-cloud-init.conf", []byte("PasswordAuthentication yes\n"), 0o644))
	m := NewSSH(d)

	findings, err := m.Audit(context.Background())
	require.NoError(t, err)
	got := byID(findings)
	assert.Equal(t, engine.StatusPassed, got["ssh.root_login"].Status)
	pw := got["ssh.password_auth"]
	assert.Equal(t, engine.StatusFailed, pw.Status, "the drop-in is read before the main file's setting")
	assert.Contains(t, pw.Description, "set in /etc/ssh/sshd_config.d/50-cloud-init.conf")

	res := m.Fix(context.Background(), "ssh.disable_password_auth")
	require.True(t, res.OK, res.Err)
	data, err := afero.ReadFile(d.Fs, "/etc/ssh/sshd_config")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "PasswordAuthentication no\nInclude "))

	findings, err = m.Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPassed, byID(findings)["ssh.password_auth"].Status)
}

func TestSetSSHDOptionAppends(t *testing.T) {
	out := SetSSHDOption([]byte("# defaults\nUsePAM yes\n"), "PermitRootLogin", "no")
	assert.Equal(t, "# defaults\nUsePAM yes\nPermitRootLogin no\n", string(out))
}

const aptSimulation = `Reading package lists...
Inst openssl [3.0.2-0ubuntu1.10] (3.0.2-0ubuntu1.12 Ubuntu:22.04/jammy-updates, Ubuntu:22.04/jammy-security [amd64])
Inst vim [2:8.2.3995-1ubuntu2.13] (2:8.2.3995-1ubuntu2.15 Ubuntu:22.04/jammy-updates [amd64])
Conf openssl (3.0.2-0ubuntu1.12 Ubuntu:22.04/jammy-updates [amd64])
`

func TestUpdatesAudit(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		id       string
		severity engine.Severity
		status   engine.Status
	}{
		{"security", aptSimulation, "update.security_pending", engine.SeverityHigh, engine.StatusFailed},
		{"regular", "Inst vim [1] (2 Ubuntu:22.04/jammy-updates [amd64])\n", "update.pending", engine.SeverityMedium, engine.StatusFailed},
		{"none", "Reading package lists...\n0 upgraded, 0 newly installed\n", "update.no_updates", engine.SeverityLow, engine.StatusPassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDeps([]string{"apt-get"}, commands{"apt-get -s upgrade": sysexec.Ok(tt.output)})
			findings, err := NewUpdates(d).Audit(context.Background())
			require.NoError(t, err)
			require.Len(t, findings, 1)
			assert.Equal(t, tt.id, findings[0].ID)
			assert.Equal(t, tt.severity, findings[0].Severity)
			assert.Equal(t, tt.status, findings[0].Status)
		})
	}

	p := ParseSimulatedUpgrade(aptSimulation)
	assert.Equal(t, []string{"openssl", "vim"}, p.Packages)
	assert.Equal(t, []string{"openssl"}, p.Security)
}

func TestUpdatesFixWaitsForLock(t *testing.T) {
	var attempts int32
	d, _ := newDeps([]string{"apt-get"}, nil)
	d.LockWait = time.Second
	d.Runner = &sysexec.FakeRunner{Handler: func(argv []string) sysexec.Result {
		if argv[1] == "update" && atomic.AddInt32(&attempts, 1) < 3 {
			return sysexec.Fail(100, "E: Could not get lock /var/lib/apt/lists/lock. It is held by process 812 (apt-get)")
		}
		return sysexec.Ok("")
	}}
	res := NewUpdates(d).Fix(context.Background(), "update.apply_all")
	require.True(t, res.OK, res.Err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestUpdatesFixLockContention(t *testing.T) {
	d, _ := newDeps([]string{"apt-get"}, nil)
	d.LockWait = 30 * time.Millisecond
	d.Runner = &sysexec.FakeRunner{Handler: func([]string) sysexec.Result {
		return sysexec.Fail(100, "E: Unable to acquire the dpkg frontend lock (/var/lib/dpkg/lock-frontend)")
	}}
	res := NewUpdates(d).Fix(context.Background(), "update.apply_all")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, engine.ErrLockContention)
}

func TestUpdatesFixOtherFailureIsNotRetried(t *testing.T) {
	var attempts int32
	d, _ := newDeps([]string{"apt-get"}, nil)
	d.Runner = &sysexec.FakeRunner{Handler: func([]string) sysexec.Result {
		atomic.AddInt32(&attempts, 1)
		return sysexec.Fail(100, "E: Unable to locate package")
	}}
	res := NewUpdates(d).Fix(context.Background(), "update.apply_all")
	assert.False(t, res.OK)
	assert.False(t, errors.Is(res.Err, engine.ErrLockContention))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

const inspectJSON = `[
  {"Name": "/web", "HostConfig": {"Privileged": false},
   "NetworkSettings": {"Ports": {"80/tcp": [{"HostIp": "0.0.0.0", "HostPort": "8080"}, {"HostIp": "::", "HostPort": "8080"}]}}},
  {"Name": "/db", "HostConfig": {"Privileged": true},
   "NetworkSettings": {"Ports": {"5432/tcp": [{"HostIp": "127.0.0.1", "HostPort": "5432"}]}}}
]`

func TestDockerAudit(t *testing.T) {
	d, _ := newDeps([]string{"docker"}, commands{
		"docker ps -q":         sysexec.Ok("a1\nb2\n"),
		"docker inspect a1 b2": sysexec.Ok(inspectJSON),
	})
	findings, err := NewDocker(d).Audit(context.Background())
	require.NoError(t, err)
	got := byID(findings)
	require.Len(t, got, 2)

	exposed := got["docker.exposed_port.web"]
	assert.Equal(t, "docker.generate_proxy_template", exposed.FixID)
	assert.Contains(t, exposed.Description, "8080->80/tcp")
	assert.Equal(t, engine.SeverityHigh, got["docker.privileged.db"].Severity)
	_, dbExposed := got["docker.exposed_port.db"]
	assert.False(t, dbExposed, "loopback bindings are fine")
}

func TestDockerFixes(t *testing.T) {
	d, _ := newDeps([]string{"docker"}, commands{
		"docker ps -q":         sysexec.Ok("a1 b2"),
		"docker inspect a1 b2": sysexec.Ok(inspectJSON),
	})
	d.ProxyTemplatePath = "/etc/hostaudit/proxy.conf"
	m := NewDocker(d)

	res := m.Fix(context.Background(), "docker.generate_proxy_template")
	require.True(t, res.OK, res.Err)
	data, err := afero.ReadFile(d.Fs, "/etc/hostaudit/proxy.conf")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "server {"))
	assert.Contains(t, string(data), "# container web: -p 127.0.0.1:18080:80/tcp")
	assert.Contains(t, string(data), "listen 8080;")
	assert.Contains(t, string(data), "proxy_pass http://127.0.0.1:18080;")
	assert.NotContains(t, string(data), "127.0.0.1:8080", "nginx and the container never share a port")

	res = m.Fix(context.Background(), "docker.privileged_container")
	assert.True(t, res.IsManual())
}

func TestUpstreamPort(t *testing.T) {
	assert.Equal(t, "18080", upstreamPort("8080"))
	assert.Equal(t, "UPSTREAM_PORT", upstreamPort("60000"))
	assert.Equal(t, "UPSTREAM_PORT", upstreamPort(""))
}

func TestDockerNotInstalled(t *testing.T) {
	d, _ := newDeps(nil, nil)
	findings, err := NewDocker(d).Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "docker.not_installed", findings[0].ID)
}

func TestProcessAudit(t *testing.T) {
	ps := `    1 root     systemd         /sbin/init
  812 www-data kdevtmpfsi      /tmp/kdevtmpfsi
  813 www-data .x              /dev/shm/.x -o pool.example:3333
  900 root     sshd            sshd: /usr/sbin/sshd -D
`
	d, _ := newDeps(nil, commands{"ps -eo pid=,user=,comm=,args=": sysexec.Ok(ps)})
	m := NewProcess(d)
	findings, err := m.Audit(context.Background())
	require.NoError(t, err)
	got := byID(findings)
	require.Len(t, got, 2)
	assert.Contains(t, got["process.suspicious.kdevtmpfsi"].Description, "cryptominer")
	assert.Contains(t, got["process.suspicious..x"].Description, "/dev/shm")
	assert.True(t, m.Fix(context.Background(), "process.terminate_suspicious").IsManual())

	d, _ = newDeps(nil, commands{"ps -eo pid=,user=,comm=,args=": sysexec.Ok("1 root systemd /sbin/init\n")})
	findings, err = NewProcess(d).Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "process.none_suspicious", findings[0].ID)
}

func TestCloudAgentPolicy(t *testing.T) {
	tests := []struct {
		policy   CloudAgentPolicy
		matching int
		total    int
		want     engine.Severity
	}{
		{PolicyAllOrNothing, 2, 2, engine.SeverityLow},
		{PolicyAllOrNothing, 2, 3, engine.SeverityMedium},
		{PolicyAllOrNothing, 0, 3, engine.SeverityMedium},
		{PolicyProportional, 3, 3, engine.SeverityLow},
		{PolicyProportional, 2, 4, engine.SeverityMedium},
		{PolicyProportional, 1, 4, engine.SeverityHigh},
		{PolicyProportional, 0, 0, engine.SeverityInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.policy.Severity(tt.matching, tt.total), "%s %d/%d", tt.policy, tt.matching, tt.total)
	}

	p, err := ParseCloudAgentPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAllOrNothing, p)
	_, err = ParseCloudAgentPolicy("strict")
	assert.Error(t, err)
}

func TestCloudAgentAudit(t *testing.T) {
	units := "amazon-ssm-agent.service enabled enabled\ngoogle-guest-agent.service enabled enabled\nssh.service enabled enabled\n"
	d, _ := newDeps([]string{"systemctl"}, commands{
		"systemctl list-unit-files --type=service --no-legend --plain": sysexec.Ok(units),
	})
	require.NoError(t, afero.WriteFile(d.Fs, "/sys/class/dmi/id/sys_vendor", []byte("Amazon EC2\n"), 0o444))

	findings, err := NewCloudAgent(d).Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "cloudagent.agents_present", f.ID)
	assert.Equal(t, engine.SeverityMedium, f.Severity, "a foreign agent is present")
	assert.Contains(t, f.Description, "Detected provider: aws")
	assert.Contains(t, f.Description, "1 of 2")

	d.CloudAgentPolicy = PolicyProportional
	findings, err = NewCloudAgent(d).Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.SeverityMedium, findings[0].Severity)
}

const profileYAML = `module: baseline
standard: CIS
variables:
  mount: /tmp
checks:
  - id: baseline.tmp_noexec
    title: /tmp is mounted noexec
    severity: medium
    command: findmnt -no OPTIONS {{.mount}}
    expect: noexec
    fix:
      id: baseline.remount_tmp
      danger_class: confirm-required
      description: Remount /tmp with noexec
      fix_command: mount -o remount,noexec {{.mount}}
      validation_command: findmnt -no OPTIONS {{.mount}} | grep -q noexec
      rollback_command: mount -o remount,exec {{.mount}}
      targets: [/etc/fstab]
  - id: baseline.core_dumps
    title: Core dumps are restricted
    severity: low
    command: sysctl -n fs.suid_dumpable
    expect: "0"
`

func TestProfileModule(t *testing.T) {
	d, r := newDeps(nil, commands{
		"sh -c findmnt -no OPTIONS /tmp":                  sysexec.Ok("rw,nosuid,nodev\n"),
		"sh -c sysctl -n fs.suid_dumpable":                sysexec.Ok("0\n"),
		"sh -c mount -o remount,noexec /tmp":              sysexec.Ok(""),
		"sh -c findmnt -no OPTIONS /tmp | grep -q noexec": sysexec.Ok(""),
		"sh -c mount -o remount,exec /tmp":                sysexec.Ok(""),
	})
	require.NoError(t, d.Fs.MkdirAll("/etc/hostaudit/profiles", 0o755))
	require.NoError(t, afero.WriteFile(d.Fs, "/etc/hostaudit/profiles/baseline.yaml", []byte(profileYAML), 0o644))
	require.NoError(t, afero.WriteFile(d.Fs, "/etc/hostaudit/profiles/README.md", []byte("ignored"), 0o644))
	d.ProfilesDir = "/etc/hostaudit/profiles"

	mods, err := All(d)
	require.NoError(t, err)
	require.Len(t, mods, 7)
	m := mods[6]
	assert.Equal(t, "baseline", m.Name())

	findings, err := m.Audit(context.Background())
	require.NoError(t, err)
	got := byID(findings)
	assert.Equal(t, engine.StatusFailed, got["baseline.tmp_noexec"].Status)
	assert.Equal(t, "baseline.remount_tmp", got["baseline.tmp_noexec"].FixID)
	assert.Contains(t, got["baseline.tmp_noexec"].Description, "[CIS]")
	assert.Equal(t, engine.StatusPassed, got["baseline.core_dumps"].Status)

	res := m.Fix(context.Background(), "baseline.remount_tmp")
	require.True(t, res.OK, res.Err)
	require.NoError(t, m.(module.Reverter).Revert(context.Background(), "baseline.remount_tmp"))
	assert.Contains(t, r.Calls(), "sh -c mount -o remount,exec /tmp")

	_, err = module.NewCatalog(mods, nil)
	require.NoError(t, err)
}

func TestProfileValidation(t *testing.T) {
	d, _ := newDeps(nil, nil)
	_, err := NewProfileModule(Profile{}, d)
	assert.Error(t, err)
	_, err = NewProfileModule(Profile{Module: "x", Checks: []ProfileCheck{{ID: "x.a", Command: "true", Severity: "critical"}}}, d)
	assert.Error(t, err)
	_, err = NewProfileModule(Profile{Module: "x", Checks: []ProfileCheck{
		{ID: "x.a", Command: "true", Severity: "low", Fix: &ProfileFix{ID: "x.fix", DangerClass: "yolo", FixCommand: "true"}},
	}}, d)
	assert.Error(t, err)
	_, err = NewProfileModule(Profile{Module: "x", Checks: []ProfileCheck{
		{ID: "x.a", Command: "true", Severity: "low", Fix: &ProfileFix{ID: "x.fix", DangerClass: "safe", FixCommand: "true", RollbackCommand: "false"}},
	}}, d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no targets")

	mods, err := LoadProfiles(d.Fs, "/nonexistent", d)
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestProfileFixRollsBackOnValidationFailure(t *testing.T) {
	d, r := newDeps(nil, commands{
		"sh -c mount -o remount,noexec /tmp":              sysexec.Ok(""),
		"sh -c findmnt -no OPTIONS /tmp | grep -q noexec": sysexec.Fail(1, ""),
		"sh -c mount -o remount,exec /tmp":                sysexec.Ok(""),
	})
	require.NoError(t, afero.WriteFile(d.Fs, "/etc/fstab", []byte("UUID=abc / ext4 defaults 0 1\n"), 0o644))
	var p Profile
	require.NoError(t, yaml.Unmarshal([]byte(profileYAML), &p))
	m, err := NewProfileModule(p, d)
	require.NoError(t, err)
	cat, err := module.NewCatalog([]module.Module{m}, nil)
	require.NoError(t, err)

	ex := &executor.Executor{Modules: cat, Store: backup.NewStore(d.Fs, "/var/lib/hostaudit/backups")}
	plan := &engine.Plan{Steps: []engine.PlanStep{{
		FixID: "baseline.remount_tmp", ModuleName: "baseline", FindingID: "baseline.tmp_noexec",
		DangerClass: engine.ConfirmRequired, Targets: []string{"/etc/fstab"},
	}}}
	log, err := ex.Execute(context.Background(), plan, guard.AckAll(plan))
	require.NoError(t, err)
	assert.Equal(t, engine.ResultRolledBack, log.Outcomes[0].Result)
	assert.Contains(t, log.Outcomes[0].Error, "validation failed")
	assert.Contains(t, r.Calls(), "sh -c mount -o remount,exec /tmp")
}

func TestShippedProfilesLoad(t *testing.T) {
	d, _ := newDeps(nil, nil)
	mods, err := LoadProfiles(afero.NewOsFs(), "../../profiles", d)
	require.NoError(t, err)
	require.NotEmpty(t, mods)
	_, err = module.NewCatalog(append(Builtin(d), mods[0]), nil)
	require.NoError(t, err)

	for _, m := range mods {
		for _, c := range m.Profile().Checks {
			if c.Fix != nil && c.Fix.RollbackCommand != "" {
				assert.NotEmpty(t, c.Fix.Targets, c.Fix.ID)
			}
		}
	}
}
