package guard

import (
	"context"
	"sync"
)

// MemoryFirewall is an in-memory Firewall. With Active false every channel
// is permitted, as with a disabled host firewall.
type MemoryFirewall struct {
	mu     sync.Mutex
	Active bool
	rules  []Rule
	// BrokenVerify makes Permits always report false.
	BrokenVerify bool
}

// NewMemoryFirewall returns a firewall holding the given rules.
func NewMemoryFirewall(active bool, rules ...Rule) *MemoryFirewall {
	return &MemoryFirewall{Active: active, rules: append([]Rule(nil), rules...)}
}

func (f *MemoryFirewall) Permits(_ context.Context, ch ManagementChannel) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BrokenVerify {
		return false, nil
	}
	if !f.Active {
		return true, nil
	}
	for _, r := range f.rules {
		if r.Port == ch.Port && r.Proto == ch.Proto && (r.From == "" || r.From == ch.Source) {
			return true, nil
		}
	}
	return false, nil
}

func (f *MemoryFirewall) HasRule(_ context.Context, r Rule) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index(r) >= 0, nil
}

func (f *MemoryFirewall) EnsureAllow(_ context.Context, r Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index(r) < 0 {
		f.rules = append(f.rules, r)
	}
	return nil
}

func (f *MemoryFirewall) RemoveAllow(_ context.Context, r Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.index(r); i >= 0 {
		f.rules = append(f.rules[:i], f.rules[i+1:]...)
	}
	return nil
}

// SetActive switches the firewall on or off.
func (f *MemoryFirewall) SetActive(active bool) {
	f.mu.Lock()
	f.Active = active
	f.mu.Unlock()
}

// Rules returns a copy of the configured rules.
func (f *MemoryFirewall) Rules() []Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Rule(nil), f.rules...)
}

func (f *MemoryFirewall) index(r Rule) int {
	for i, v := range f.rules {
		if v == r {
			return i
		}
	}
	return -1
}

// StaticDetector always reports the same channel.
type StaticDetector struct {
	Channel ManagementChannel
	Err     error
}

func (d StaticDetector) Detect(context.Context) (ManagementChannel, error) {
	return d.Channel, d.Err
}
