package engine

import (
	"fmt"
	"strings"
)

// Severity is the normalized impact of a finding.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; higher is worse. Unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInfo:
		return 0
	default:
		return -1
	}
}

// ParseSeverity accepts the lower or upper case name of a severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() < 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Status is the outcome of a single check.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Finding represents one audit observation produced by a module.
type Finding struct {
	ID          string   `json:"id"` // stable across runs, e.g. "ufw.disabled"
	ModuleName  string   `json:"module"`
	Severity    Severity `json:"severity"`
	Status      Status   `json:"status"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
	FixID       string   `json:"fix_id,omitempty"` // empty: informational only
}

// Failed reports whether the check did not pass.
func (f Finding) Failed() bool {
	return f.Status == StatusFailed
}

// Fixable reports whether the finding can be put into a remediation plan.
func (f Finding) Fixable() bool {
	return f.Failed() && f.FixID != ""
}
