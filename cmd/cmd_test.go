package cmd

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/report"
)

func sampleReport() *report.Report {
	rep := report.New(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	reg := engine.NewRegistry()
	reg.AddFindings([]engine.Finding{
		{ID: "ufw.disabled", ModuleName: "firewall", Severity: engine.SeverityHigh, Status: engine.StatusFailed, Title: "Firewall disabled", FixID: "ufw.enable"},
	})
	rep.SetAudit(reg, engine.DefaultWeights)
	return rep
}

func TestWriteReportFormats(t *testing.T) {
	rep := sampleReport()
	for _, format := range []string{"text", "json", "sarif"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeReport(&buf, rep, format, false))
			assert.Contains(t, buf.String(), "ufw.disabled")
		})
	}
	assert.Error(t, writeReport(&bytes.Buffer{}, rep, "xml", false))
}

func TestExitCodes(t *testing.T) {
	assert.NoError(t, exitWith(report.ExitOK))

	var ee *exitError
	require.ErrorAs(t, exitWith(report.ExitAborted), &ee)
	assert.Equal(t, report.ExitAborted, ee.code)

	cause := errors.New("bad flag")
	err := usageError(cause)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, report.ExitUsage, ee.code)
	assert.ErrorIs(t, err, cause)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"audit"}, {"remediate"}, {"plan"}, {"assistant"},
		{"history", "list"}, {"history", "show"}, {"history", "diff"}, {"history", "prune"},
		{"backups", "list"}, {"backups", "prune"}, {"backups", "restore"},
		{"config", "set-key"}, {"config", "set-model"}, {"config", "set"}, {"config", "show"}, {"config", "setup"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], c.Name())
	}
}
