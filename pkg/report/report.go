// Package report assembles the result of an audit or remediation session and
// renders it as JSON, SARIF or a terminal table.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/user/hostaudit/pkg/engine"
)

// Exit codes returned by the CLI.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitAborted = 3
)

// Report is the machine-readable record of one run. Field names are stable.
type Report struct {
	RunID      string              `json:"run_id"`
	Host       string              `json:"host"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Modules    []string            `json:"modules"`
	Findings   []engine.Finding    `json:"findings"`
	Score      engine.Score        `json:"score"`
	ScoreAfter *engine.Score       `json:"score_after,omitempty"`
	Plan       *engine.Plan        `json:"plan,omitempty"`
	Outcomes   []engine.FixOutcome `json:"outcomes,omitempty"`
	DryRun     bool                `json:"dry_run,omitempty"`
	Aborted    bool                `json:"aborted"`
	Halted     bool                `json:"halted"`
	Error      string              `json:"error,omitempty"`
}

// New starts a report for the local host.
func New(started time.Time) *Report {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Report{
		RunID:     uuid.NewString(),
		Host:      host,
		StartedAt: started.UTC(),
	}
}

// SetAudit records the audit results and their score.
func (r *Report) SetAudit(reg *engine.Registry, w engine.Weights) {
	r.Findings = reg.Findings()
	r.Modules = reg.Modules()
	r.Score = w.Score(r.Findings)
}

// Finish stamps the end time.
func (r *Report) Finish(at time.Time) {
	r.FinishedAt = at.UTC()
}

// Problems returns every outcome that was not applied.
func (r *Report) Problems() []engine.FixOutcome {
	var out []engine.FixOutcome
	for _, o := range r.Outcomes {
		if o.Problem() {
			out = append(out, o)
		}
	}
	return out
}

// Failed reports whether the run must exit non-zero because of a failure.
func (r *Report) Failed() bool {
	if r.Error != "" || r.Halted {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Bad() {
			return true
		}
	}
	return false
}

// ExitCode maps the report to the process exit code: failures win over an
// abort so a rollback is never hidden.
func (r *Report) ExitCode() int {
	switch {
	case r.Failed():
		return ExitFailure
	case r.Aborted:
		return ExitAborted
	}
	return ExitOK
}

// WriteJSON writes the indented JSON report.
func WriteJSON(w io.Writer, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
