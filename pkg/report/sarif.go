package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/user/hostaudit/pkg/engine"
)

// SARIF 2.1.0 subset, enough for code scanning dashboards.
type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules,omitempty"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
	Help             sarifMessage `json:"help,omitempty"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Message   sarifMessage    `json:"message"`
	Level     string          `json:"level"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text,omitempty"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysical `json:"physicalLocation"`
}

type sarifPhysical struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
	Region           sarifRegion   `json:"region"`
}

type sarifArtifact struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

// WriteSARIF exports the failed findings of r as a SARIF 2.1.0 log.
func WriteSARIF(w io.Writer, r *Report, toolVersion string) error {
	var results []sarifResult
	var rules []sarifRule
	for _, f := range r.Findings {
		if !f.Failed() {
			continue
		}
		msg := f.Title
		if f.Description != "" {
			msg += ": " + f.Description
		}
		results = append(results, sarifResult{
			RuleID:  f.ID,
			Level:   sevToLevel(f.Severity),
			Message: sarifMessage{Text: strings.TrimSpace(msg)},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysical{
					ArtifactLocation: sarifArtifact{URI: fmt.Sprintf("host/%s/%s", r.Host, f.ModuleName)},
					Region:           sarifRegion{StartLine: 1},
				},
			}},
		})
		rules = append(rules, sarifRule{
			ID:               f.ID,
			ShortDescription: sarifMessage{Text: f.Title},
			Help:             sarifMessage{Text: f.Suggestion},
		})
	}
	if results == nil {
		results = []sarifResult{}
	}

	log := sarifLog{
		Version: "2.1.0",
		Schema:  "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json",
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: "hostaudit", Version: toolVersion, Rules: rules}},
			Results: results,
		}},
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sarif: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func sevToLevel(s engine.Severity) string {
	switch s {
	case engine.SeverityHigh:
		return "error"
	case engine.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
