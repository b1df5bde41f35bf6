package engine

// Diff is the difference between a baseline run and the current run,
// considering failed findings only.
type Diff struct {
	New       []Finding `json:"new"`
	Fixed     []Finding `json:"fixed"`
	Unchanged []Finding `json:"unchanged"`
}

// Compare diffs the failed findings of two runs by finding ID. A finding whose
// ID exists in both runs but changed severity is reported as unchanged with
// the current values.
func Compare(baseline, current []Finding) Diff {
	base := make(map[string]Finding)
	for _, f := range baseline {
		if f.Failed() {
			base[f.ID] = f
		}
	}

	var diff Diff
	seen := make(map[string]bool)
	for _, f := range current {
		if !f.Failed() {
			continue
		}
		seen[f.ID] = true
		if _, ok := base[f.ID]; ok {
			diff.Unchanged = append(diff.Unchanged, f)
		} else {
			diff.New = append(diff.New, f)
		}
	}
	for _, f := range baseline {
		if f.Failed() && !seen[f.ID] {
			diff.Fixed = append(diff.Fixed, f)
		}
	}
	return diff
}
