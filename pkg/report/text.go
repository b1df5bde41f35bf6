package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/user/hostaudit/pkg/engine"
)

type palette struct {
	high, medium, low, ok, muted func(a ...interface{}) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		high:   mk(color.FgRed, color.Bold),
		medium: mk(color.FgYellow),
		low:    mk(color.FgCyan),
		ok:     mk(color.FgGreen),
		muted:  mk(color.FgHiBlack),
	}
}

func (p palette) severity(s engine.Severity) string {
	switch s {
	case engine.SeverityHigh:
		return p.high(string(s))
	case engine.SeverityMedium:
		return p.medium(string(s))
	case engine.SeverityLow:
		return p.low(string(s))
	}
	return p.muted(string(s))
}

func (p palette) result(r engine.Result) string {
	switch r {
	case engine.ResultApplied:
		return p.ok(string(r))
	case engine.ResultSkipped:
		return p.medium(string(r))
	}
	return p.high(string(r))
}

// TextOptions controls the terminal rendering.
type TextOptions struct {
	Color bool
	// All includes passed findings.
	All bool
}

// WriteText renders the score, the findings table and, when present, the
// outcome of every plan step.
func WriteText(w io.Writer, r *Report, opts TextOptions) error {
	p := newPalette(opts.Color)

	score := fmt.Sprintf("%d/100", r.Score.Value)
	switch {
	case r.Score.Value >= 80:
		score = p.ok(score)
	case r.Score.Value >= 50:
		score = p.medium(score)
	default:
		score = p.high(score)
	}
	fmt.Fprintf(w, "Host %s  run %s\n", r.Host, r.RunID)
	fmt.Fprintf(w, "Security score: %s  (high %d, medium %d, low %d, passed %d)\n\n",
		score, r.Score.High, r.Score.Medium, r.Score.Low, r.Score.Passed)
	if r.ScoreAfter != nil {
		fmt.Fprintf(w, "Score after remediation: %d/100\n\n", r.ScoreAfter.Value)
	}

	var rows [][]string
	for _, f := range r.Findings {
		if !opts.All && !f.Failed() {
			continue
		}
		status := p.high(string(f.Status))
		if !f.Failed() {
			status = p.ok(string(f.Status))
		}
		rows = append(rows, []string{p.severity(f.Severity), status, f.ID, f.Title, f.FixID})
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, p.ok("No failed findings."))
	} else {
		table := tablewriter.NewWriter(w)
		table.Header([]string{"Severity", "Status", "ID", "Finding", "Fix"})
		if err := table.Bulk(rows); err != nil {
			return err
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(r.Outcomes) > 0 {
		fmt.Fprintln(w)
		if err := writeOutcomes(w, r, p); err != nil {
			return err
		}
	} else if r.Plan != nil && r.DryRun {
		fmt.Fprintln(w)
		fmt.Fprint(w, r.Plan.Render())
	}

	if r.Error != "" {
		fmt.Fprintf(w, "\n%s %s\n", p.high("Error:"), r.Error)
	}
	return nil
}

func writeOutcomes(w io.Writer, r *Report, p palette) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"#", "Fix", "Class", "Result", "Reason", "Backups"})
	var rows [][]string
	for i, o := range r.Outcomes {
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			o.FixID,
			o.DangerClass.String(),
			p.result(o.Result),
			o.Reason,
			fmt.Sprint(len(o.BackupRefs)),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	// Every outcome that was not applied is listed with its full reason.
	for _, o := range r.Problems() {
		line := fmt.Sprintf("- %s: %s", o.FixID, o.Result)
		if o.Reason != "" {
			line += " (" + o.Reason + ")"
		}
		if o.Error != "" {
			line += ": " + strings.TrimSpace(o.Error)
		}
		fmt.Fprintln(w, line)
	}
	switch {
	case r.Halted:
		fmt.Fprintln(w, p.high("Plan halted after a rollback; later steps were not run."))
	case r.Aborted:
		fmt.Fprintln(w, p.medium("Plan aborted by operator; applied steps were kept."))
	}
	return nil
}
