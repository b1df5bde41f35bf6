package engine

// Score summarizes a registry. Counts only include failed findings, except
// Passed which counts passed checks.
type Score struct {
	Value  int `json:"value"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Info   int `json:"info"`
	Passed int `json:"passed"`
}

// Weights are the points subtracted from 100 per failed finding.
type Weights struct {
	High   int `mapstructure:"high" yaml:"high"`
	Medium int `mapstructure:"medium" yaml:"medium"`
	Low    int `mapstructure:"low" yaml:"low"`
}

// DefaultWeights are used when no weights are configured.
var DefaultWeights = Weights{High: 15, Medium: 7, Low: 2}

const maxScore = 100

// ComputeScore scores findings with DefaultWeights.
func ComputeScore(findings []Finding) Score {
	return DefaultWeights.Score(findings)
}

// Score starts at 100, subtracts the weight of each failed finding and floors
// at 0. Passing checks never add points.
func (w Weights) Score(findings []Finding) Score {
	s := Score{Value: maxScore}
	for _, f := range findings {
		if !f.Failed() {
			s.Passed++
			continue
		}
		switch f.Severity {
		case SeverityHigh:
			s.High++
			s.Value -= w.High
		case SeverityMedium:
			s.Medium++
			s.Value -= w.Medium
		case SeverityLow:
			s.Low++
			s.Value -= w.Low
		default:
			s.Info++
		}
	}
	if s.Value < 0 {
		s.Value = 0
	}
	return s
}

// Normalized replaces negative weights with zero so that adding a failed
// finding can never raise the score.
func (w Weights) Normalized() Weights {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		return v
	}
	return Weights{High: clamp(w.High), Medium: clamp(w.Medium), Low: clamp(w.Low)}
}
