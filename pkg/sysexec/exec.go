// Package sysexec runs system management commands (ufw, apt-get, docker,
// systemctl) behind an interface that tests can replace.
package sysexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrorKind classifies why a command did not succeed.
type ErrorKind string

const (
	KindNone     ErrorKind = ""
	KindExit     ErrorKind = "exit"
	KindTimeout  ErrorKind = "timeout"
	KindSpawn    ErrorKind = "spawn"
	KindNotFound ErrorKind = "not-found"
	KindCanceled ErrorKind = "canceled"
)

// MaxOutputBytes caps captured stdout and stderr.
const MaxOutputBytes = 64 * 1024

// Result captures the output of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Kind     ErrorKind
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.Kind == KindNone && r.ExitCode == 0
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Err converts a non-successful result into an error.
func (r Result) Err(argv []string) error {
	if r.OK() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(r.Stdout)
	}
	return fmt.Errorf("%s: %s (exit %d): %s", strings.Join(argv, " "), r.Kind, r.ExitCode, msg)
}

// Runner executes commands. Argv[0] is the program; there is no shell.
type Runner interface {
	Run(ctx context.Context, argv ...string) Result
	LookPath(name string) (string, error)
}

// ExecRunner is the production Runner built on os/exec.
type ExecRunner struct {
	// Timeout bounds each command; zero means only ctx applies.
	Timeout time.Duration
}

var _ Runner = (*ExecRunner)(nil)

// Run executes argv and classifies the result.
func (r *ExecRunner) Run(ctx context.Context, argv ...string) Result {
	if len(argv) == 0 {
		return Result{ExitCode: -1, Kind: KindSpawn, Stderr: "empty argv"}
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(cmd.Environ(), "LC_ALL=C", "DEBIAN_FRONTEND=noninteractive")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: truncate(stdout.Bytes()),
		Stderr: truncate(stderr.Bytes()),
	}
	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.Kind = KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		res.ExitCode = -1
		res.Kind = KindCanceled
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Kind = KindExit
	case errors.Is(err, exec.ErrNotFound):
		res.ExitCode = -1
		res.Kind = KindNotFound
		res.Stderr = err.Error()
	default:
		res.ExitCode = -1
		res.Kind = KindSpawn
		res.Stderr = err.Error()
	}
	return res
}

// LookPath reports whether a program is installed.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func truncate(raw []byte) string {
	if len(raw) > MaxOutputBytes {
		raw = raw[:MaxOutputBytes]
	}
	return string(raw)
}
