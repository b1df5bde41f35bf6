package engine

import (
	"fmt"
	"strings"
)

// Registry holds the findings of one audit run, keyed by finding ID.
// Insertion order is preserved for rendering and plan tiebreaks.
//
// A Registry is not safe for concurrent mutation; the audit runner owns it
// and merges module results from a single goroutine.
type Registry struct {
	order []string
	byID  map[string]Finding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]Finding),
	}
}

// Upsert inserts a finding or overwrites an existing one with the same ID.
// An overwritten finding keeps its original position.
func (r *Registry) Upsert(f Finding) {
	if _, exists := r.byID[f.ID]; !exists {
		r.order = append(r.order, f.ID)
	}
	r.byID[f.ID] = f
}

// AddFindings upserts every finding in order.
func (r *Registry) AddFindings(findings []Finding) {
	for _, f := range findings {
		r.Upsert(f)
	}
}

// Get returns the finding with the given ID.
func (r *Registry) Get(id string) (Finding, bool) {
	f, ok := r.byID[id]
	return f, ok
}

// Len returns the number of distinct findings.
func (r *Registry) Len() int {
	return len(r.order)
}

// Findings returns a copy of all findings in discovery order.
func (r *Registry) Findings() []Finding {
	out := make([]Finding, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Index returns the discovery position of a finding, or -1.
func (r *Registry) Index(id string) int {
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

// Modules returns the distinct module names in discovery order.
func (r *Registry) Modules() []string {
	seen := make(map[string]bool)
	var names []string
	for _, id := range r.order {
		name := r.byID[id].ModuleName
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// GetReport returns a text summary of the failed findings.
func (r *Registry) GetReport() string {
	var sb strings.Builder
	failed := 0
	for _, f := range r.Findings() {
		if f.Failed() {
			failed++
		}
	}
	sb.WriteString(fmt.Sprintf("Audit registry (%d findings, %d failed):\n", r.Len(), failed))
	sb.WriteString("--------------------------------------------------\n")

	for _, f := range r.Findings() {
		if !f.Failed() {
			continue
		}
		sb.WriteString(fmt.Sprintf("[%s] %s (%s)\n", f.Severity, f.Title, f.ID))
		if f.Description != "" {
			sb.WriteString(fmt.Sprintf("  Details: %s\n", f.Description))
		}
		if f.Suggestion != "" {
			sb.WriteString(fmt.Sprintf("  Suggestion: %s\n", f.Suggestion))
		}
		if f.FixID != "" {
			sb.WriteString(fmt.Sprintf("  Fix: %s\n", f.FixID))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
