package module

import (
	"context"
	"sync"

	"github.com/user/hostaudit/pkg/engine"
)

// Fake is a scriptable Module for tests and dry runs.
type Fake struct {
	ModuleName string
	Findings   []engine.Finding
	AuditErr   error
	// AuditFunc overrides Findings/AuditErr when set.
	AuditFunc func(ctx context.Context) ([]engine.Finding, error)
	Specs     []engine.FixSpec
	// FixFunc decides each fix's result; nil means every fix applies.
	FixFunc    func(ctx context.Context, fixID string) FixResult
	RevertFunc func(ctx context.Context, fixID string) error

	mu       sync.Mutex
	fixed    []string
	reverted []string
}

func (f *Fake) Name() string { return f.ModuleName }

func (f *Fake) Audit(ctx context.Context) ([]engine.Finding, error) {
	if f.AuditFunc != nil {
		return f.AuditFunc(ctx)
	}
	return append([]engine.Finding(nil), f.Findings...), f.AuditErr
}

func (f *Fake) Fixes() []engine.FixSpec { return f.Specs }

func (f *Fake) Fix(ctx context.Context, fixID string) FixResult {
	f.mu.Lock()
	f.fixed = append(f.fixed, fixID)
	f.mu.Unlock()
	if f.FixFunc != nil {
		return f.FixFunc(ctx, fixID)
	}
	return Applied("")
}

func (f *Fake) Revert(ctx context.Context, fixID string) error {
	f.mu.Lock()
	f.reverted = append(f.reverted, fixID)
	f.mu.Unlock()
	if f.RevertFunc != nil {
		return f.RevertFunc(ctx, fixID)
	}
	return nil
}

// FixCalls returns the fix IDs passed to Fix, in call order.
func (f *Fake) FixCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fixed...)
}

// RevertCalls returns the fix IDs passed to Revert, in call order.
func (f *Fake) RevertCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reverted...)
}
