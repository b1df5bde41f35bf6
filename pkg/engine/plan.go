package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Set is a selection filter. A nil Set matches everything; a non-nil Set
// matches only its members.
type Set map[string]struct{}

// NewSet builds a non-nil set from the given values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is selected.
func (s Set) Has(v string) bool {
	if s == nil {
		return true
	}
	_, ok := s[v]
	return ok
}

// Selection is the operator's choice of modules and findings to remediate.
type Selection struct {
	Modules  Set
	Findings Set
}

// PlanStep is one fix to apply. Findings sharing a fix collapse into one step.
type PlanStep struct {
	FixID       string      `json:"fix_id"`
	ModuleName  string      `json:"module"`
	FindingID   string      `json:"finding_id"`
	FindingIDs  []string    `json:"finding_ids"`
	DangerClass DangerClass `json:"danger_class"`
	Severity    Severity    `json:"severity"`
	Targets     []string    `json:"targets,omitempty"`
	Description string      `json:"description,omitempty"`

	discovery int
}

// Plan is an ordered, deduplicated sequence of steps. It must not be changed
// once execution has started.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// FixIDs returns the fix IDs in execution order.
func (p *Plan) FixIDs() []string {
	ids := make([]string, 0, p.Len())
	for _, s := range p.Steps {
		ids = append(ids, s.FixID)
	}
	return ids
}

// BuildPlan selects failed, fixable findings of the selected modules and
// turns them into an ordered plan:
//  1. danger class ascending,
//  2. severity descending within a class,
//  3. discovery order.
//
// A fix referenced by a selected finding but not declared by any module is an
// ErrUnknownFix error. A plan without steps is ErrEmptySelection.
func BuildPlan(reg *Registry, sel Selection, fixes FixLookup) (*Plan, error) {
	steps := make(map[string]*PlanStep)
	var order []string

	for i, f := range reg.Findings() {
		if !f.Fixable() || !sel.Modules.Has(f.ModuleName) || !sel.Findings.Has(f.ID) {
			continue
		}

		if step, ok := steps[f.FixID]; ok {
			step.FindingIDs = append(step.FindingIDs, f.ID)
			if f.Severity.Rank() > step.Severity.Rank() {
				step.Severity = f.Severity
			}
			continue
		}

		spec, ok := fixes.LookupFix(f.FixID)
		if !ok {
			return nil, fmt.Errorf("%w: %q referenced by finding %q", ErrUnknownFix, f.FixID, f.ID)
		}
		if spec.ModuleName != "" && spec.ModuleName != f.ModuleName {
			return nil, fmt.Errorf("%w: %q is declared by module %q, not %q", ErrUnknownFix, f.FixID, spec.ModuleName, f.ModuleName)
		}

		steps[f.FixID] = &PlanStep{
			FixID:       f.FixID,
			ModuleName:  f.ModuleName,
			FindingID:   f.ID,
			FindingIDs:  []string{f.ID},
			DangerClass: spec.Class,
			Severity:    f.Severity,
			Targets:     append([]string(nil), spec.Targets...),
			Description: spec.Description,
			discovery:   i,
		}
		order = append(order, f.FixID)
	}

	if len(order) == 0 {
		return nil, ErrEmptySelection
	}

	plan := &Plan{Steps: make([]PlanStep, 0, len(order))}
	for _, id := range order {
		plan.Steps = append(plan.Steps, *steps[id])
	}
	sort.SliceStable(plan.Steps, func(i, j int) bool {
		a, b := plan.Steps[i], plan.Steps[j]
		if a.DangerClass != b.DangerClass {
			return a.DangerClass < b.DangerClass
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.discovery < b.discovery
	})
	return plan, nil
}

// Render returns the plan as text for review and dry runs.
func (p *Plan) Render() string {
	var sb strings.Builder
	sb.WriteString("[FIX PLAN]\n")
	for i, s := range p.Steps {
		sb.WriteString(fmt.Sprintf("%d. %s (%s, %s)\n", i+1, s.FixID, s.DangerClass, s.Severity))
		sb.WriteString(fmt.Sprintf("   Module: %s\n", s.ModuleName))
		sb.WriteString(fmt.Sprintf("   Findings: %s\n", strings.Join(s.FindingIDs, ", ")))
		if s.Description != "" {
			sb.WriteString(fmt.Sprintf("   Action: %s\n", s.Description))
		}
		if len(s.Targets) > 0 {
			sb.WriteString(fmt.Sprintf("   Backup: %s\n", strings.Join(s.Targets, ", ")))
		}
	}
	return sb.String()
}
