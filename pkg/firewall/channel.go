package firewall

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/user/hostaudit/pkg/guard"
)

// SSHDConfig is the default sshd configuration path.
const SSHDConfig = "/etc/ssh/sshd_config"

// SSHDetector finds the SSH management channel. The port comes from, in
// order: Port, the server side of SSH_CONNECTION, sshd_config, 22. The
// operator's address comes from SSH_CONNECTION or SSH_CLIENT.
type SSHDetector struct {
	Fs         afero.Fs
	ConfigPath string
	// Port overrides detection when non-zero.
	Port   int
	Getenv func(string) string
}

var _ guard.ChannelDetector = (*SSHDetector)(nil)

// NewSSHDetector returns a detector for the local host.
func NewSSHDetector(port int) *SSHDetector {
	return &SSHDetector{Fs: afero.NewOsFs(), ConfigPath: SSHDConfig, Port: port, Getenv: os.Getenv}
}

func (d *SSHDetector) Detect(_ context.Context) (guard.ManagementChannel, error) {
	ch := guard.ManagementChannel{Proto: "tcp", Port: d.Port}
	getenv := d.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	if conn := strings.Fields(getenv("SSH_CONNECTION")); len(conn) == 4 {
		ch.Source = conn[0]
		if ch.Port == 0 {
			if p, err := strconv.Atoi(conn[3]); err == nil {
				ch.Port = p
			}
		}
	} else if client := strings.Fields(getenv("SSH_CLIENT")); len(client) >= 1 {
		ch.Source = client[0]
	}

	if ch.Port == 0 {
		p, err := d.configPort()
		if err != nil {
			return ch, err
		}
		ch.Port = p
	}
	return ch, nil
}

func (d *SSHDetector) configPort() (int, error) {
	path := d.ConfigPath
	if path == "" {
		path = SSHDConfig
	}
	fsys := d.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fsys, path)
	if os.IsNotExist(err) {
		return 22, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	if v, ok := SSHDOption(data, "Port"); ok {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return 0, fmt.Errorf("invalid Port %q in %s", v, path)
		}
		return p, nil
	}
	return 22, nil
}

// SSHDOption returns the first value of an sshd_config keyword, outside any
// Match block. Keywords are case-insensitive.
func SSHDOption(data []byte, keyword string) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if strings.EqualFold(fields[0], "Match") {
			return "", false
		}
		if strings.EqualFold(fields[0], keyword) && len(fields) > 1 {
			return fields[1], true
		}
	}
	return "", false
}
