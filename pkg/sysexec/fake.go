package sysexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeRunner is a Runner for tests. Handler decides the result of each
// command; every call is recorded.
type FakeRunner struct {
	Handler   func(argv []string) Result
	Installed map[string]bool

	mu    sync.Mutex
	calls [][]string
}

var _ Runner = (*FakeRunner)(nil)

// Run records argv and returns the handler's result.
func (f *FakeRunner) Run(_ context.Context, argv ...string) Result {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	f.mu.Unlock()

	if f.Handler == nil {
		return Result{ExitCode: -1, Kind: KindSpawn, Stderr: "fake runner: no handler defined"}
	}
	return f.Handler(argv)
}

// LookPath succeeds for programs listed in Installed.
func (f *FakeRunner) LookPath(name string) (string, error) {
	if f.Installed[name] {
		return "/usr/bin/" + name, nil
	}
	return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
}

// Calls returns the recorded command lines joined by spaces.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

// Ok is a successful result with the given stdout.
func Ok(stdout string) Result {
	return Result{Stdout: stdout}
}

// Fail is an exit-code failure with the given stderr.
func Fail(code int, stderr string) Result {
	return Result{ExitCode: code, Kind: KindExit, Stderr: stderr}
}
