// Package firewall drives ufw and detects the operator's management channel.
package firewall

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/hostaudit/pkg/guard"
	"github.com/user/hostaudit/pkg/sysexec"
)

// Status is the parsed output of `ufw status verbose`.
type Status struct {
	Active          bool
	DefaultIncoming string
	Rules           []StatusRule
}

// StatusRule is one row of the ufw rule table.
type StatusRule struct {
	To     string
	Action string
	From   string
}

var (
	columnSep     = regexp.MustCompile(`\s{2,}`)
	defaultPolicy = regexp.MustCompile(`Default:\s*(\w+)\s*\(incoming\)`)
)

// ParseStatus parses `ufw status verbose` output.
func ParseStatus(out string) Status {
	var st Status
	inTable := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Status:"):
			st.Active = strings.TrimSpace(strings.TrimPrefix(line, "Status:")) == "active"
		case strings.HasPrefix(line, "Default:"):
			if m := defaultPolicy.FindStringSubmatch(line); m != nil {
				st.DefaultIncoming = m[1]
			}
		case strings.HasPrefix(line, "--"):
			inTable = true
		case inTable && line != "":
			cols := columnSep.Split(line, -1)
			if len(cols) < 3 {
				continue
			}
			st.Rules = append(st.Rules, StatusRule{To: cols[0], Action: cols[1], From: cols[2]})
		}
	}
	return st
}

// Allows reports whether the row allows inbound traffic for the rule.
func (r StatusRule) Allows(port int, proto, from string) bool {
	if !strings.HasPrefix(r.Action, "ALLOW") || strings.HasSuffix(r.Action, "OUT") {
		return false
	}
	if strings.Contains(r.To, "(v6)") {
		return false
	}
	if !matchesPort(r.To, port, proto) {
		return false
	}
	src := strings.TrimSuffix(r.From, "/32")
	if from == "" {
		return src == "Anywhere"
	}
	return src == "Anywhere" || src == from
}

func matchesPort(to string, port int, proto string) bool {
	if to == "OpenSSH" {
		return port == 22 && proto == "tcp"
	}
	p, pr, hasProto := strings.Cut(to, "/")
	if hasProto && pr != proto {
		return false
	}
	n, err := strconv.Atoi(p)
	return err == nil && n == port
}

// UFW implements guard.Firewall on top of the ufw command.
type UFW struct {
	Runner sysexec.Runner
}

var _ guard.Firewall = (*UFW)(nil)

// Installed reports whether the ufw binary is available.
func (u *UFW) Installed() bool {
	_, err := u.Runner.LookPath("ufw")
	return err == nil
}

// Status reads the current ufw state.
func (u *UFW) Status(ctx context.Context) (Status, error) {
	argv := []string{"ufw", "status", "verbose"}
	res := u.Runner.Run(ctx, argv...)
	if err := res.Err(argv); err != nil {
		return Status{}, err
	}
	return ParseStatus(res.Stdout), nil
}

// Permits reports whether inbound traffic on the channel is accepted.
func (u *UFW) Permits(ctx context.Context, ch guard.ManagementChannel) (bool, error) {
	st, err := u.Status(ctx)
	if err != nil {
		return false, err
	}
	if !st.Active || st.DefaultIncoming == "allow" {
		return true, nil
	}
	for _, r := range st.Rules {
		if r.Allows(ch.Port, ch.Proto, ch.Source) {
			return true, nil
		}
	}
	return false, nil
}

// ParseAdded parses `ufw show added`, which lists the configured rules even
// while ufw is inactive. Only inbound allow rules naming one port are
// returned; a rule without a protocol yields one entry per protocol.
func ParseAdded(out string) []guard.Rule {
	var rules []guard.Rule
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) < 3 || f[0] != "ufw" || f[1] != "allow" {
			continue
		}
		f = f[2:]
		if f[0] == "in" {
			f = f[1:]
		}
		rules = append(rules, parseAddedRule(f)...)
	}
	return rules
}

func parseAddedRule(f []string) []guard.Rule {
	var port, proto, from string
	for i := 0; i < len(f); i++ {
		switch tok := f[i]; tok {
		case "comment":
			i = len(f)
		case "on", "out":
			return nil
		case "from", "to", "port", "proto":
			if i+1 >= len(f) {
				return nil
			}
			i++
			switch tok {
			case "from":
				from = f[i]
			case "port":
				port = f[i]
			case "proto":
				proto = f[i]
			}
		default:
			if port != "" {
				return nil
			}
			if tok == "OpenSSH" {
				port, proto = "22", "tcp"
				continue
			}
			port, proto, _ = strings.Cut(tok, "/")
		}
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return nil
	}
	from = strings.TrimSuffix(from, "/32")
	if from == "any" {
		from = ""
	}
	protos := []string{proto}
	if proto == "" || proto == "any" {
		protos = []string{"tcp", "udp"}
	}
	rules := make([]guard.Rule, 0, len(protos))
	for _, p := range protos {
		rules = append(rules, guard.Rule{Port: n, Proto: p, From: from})
	}
	return rules
}

// Added lists the configured allow rules, active or not.
func (u *UFW) Added(ctx context.Context) ([]guard.Rule, error) {
	argv := []string{"ufw", "show", "added"}
	res := u.Runner.Run(ctx, argv...)
	if err := res.Err(argv); err != nil {
		return nil, err
	}
	return ParseAdded(res.Stdout), nil
}

// HasRule reports whether a rule with exactly this source is configured.
// It reads the rule files rather than the live table, so rules of an
// inactive firewall count.
func (u *UFW) HasRule(ctx context.Context, rule guard.Rule) (bool, error) {
	if rule.Proto == "" {
		rule.Proto = "tcp"
	}
	rules, err := u.Added(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range rules {
		if r == rule {
			return true, nil
		}
	}
	return false, nil
}

// EnsureAllow adds an allow rule. ufw skips rules that already exist.
func (u *UFW) EnsureAllow(ctx context.Context, rule guard.Rule) error {
	argv := append([]string{"ufw", "allow"}, ruleArgs(rule)...)
	return u.Runner.Run(ctx, argv...).Err(argv)
}

// RemoveAllow deletes an allow rule.
func (u *UFW) RemoveAllow(ctx context.Context, rule guard.Rule) error {
	argv := append([]string{"ufw", "delete", "allow"}, ruleArgs(rule)...)
	return u.Runner.Run(ctx, argv...).Err(argv)
}

// Enable turns ufw on without the interactive prompt.
func (u *UFW) Enable(ctx context.Context) error {
	argv := []string{"ufw", "--force", "enable"}
	return u.Runner.Run(ctx, argv...).Err(argv)
}

// Disable turns ufw off.
func (u *UFW) Disable(ctx context.Context) error {
	argv := []string{"ufw", "disable"}
	return u.Runner.Run(ctx, argv...).Err(argv)
}

// Reload re-reads the rule files.
func (u *UFW) Reload(ctx context.Context) error {
	argv := []string{"ufw", "reload"}
	return u.Runner.Run(ctx, argv...).Err(argv)
}

// DefaultDeny sets the incoming policy to deny.
func (u *UFW) DefaultDeny(ctx context.Context) error {
	argv := []string{"ufw", "default", "deny", "incoming"}
	return u.Runner.Run(ctx, argv...).Err(argv)
}

func ruleArgs(r guard.Rule) []string {
	proto := r.Proto
	if proto == "" {
		proto = "tcp"
	}
	if r.From == "" {
		return []string{fmt.Sprintf("%d/%s", r.Port, proto)}
	}
	return []string{"proto", proto, "from", r.From, "to", "any", "port", strconv.Itoa(r.Port)}
}
