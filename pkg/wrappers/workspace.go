// Package wrappers exposes the audit engine to the assistant as read-only
// tools.
package wrappers

import (
	"context"
	"sync"

	"github.com/user/hostaudit/pkg/adk"
	"github.com/user/hostaudit/pkg/engine"
	"github.com/user/hostaudit/pkg/history"
	"github.com/user/hostaudit/pkg/report"
)

// Auditor runs one audit of the host.
type Auditor interface {
	Audit(ctx context.Context) (*report.Report, *engine.Registry, error)
}

// RunHistory is the saved report history as used by the tools.
type RunHistory interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
	Get(ctx context.Context, runID string) (*report.Report, error)
}

// Workspace holds the latest audit shared by the tools of one assistant
// session.
type Workspace struct {
	Auditor Auditor
	Fixes   engine.FixLookup
	// History is optional.
	History RunHistory

	mu  sync.Mutex
	rep *report.Report
	reg *engine.Registry
}

// Audit runs a fresh audit and keeps it as the latest.
func (w *Workspace) Audit(ctx context.Context) (*report.Report, *engine.Registry, error) {
	rep, reg, err := w.Auditor.Audit(ctx)
	if err != nil {
		return nil, nil, err
	}
	w.mu.Lock()
	w.rep, w.reg = rep, reg
	w.mu.Unlock()
	return rep, reg, nil
}

// Latest returns the latest audit, running one if none exists yet.
func (w *Workspace) Latest(ctx context.Context) (*report.Report, *engine.Registry, error) {
	w.mu.Lock()
	rep, reg := w.rep, w.reg
	w.mu.Unlock()
	if rep != nil {
		return rep, reg, nil
	}
	return w.Audit(ctx)
}

// Tools returns every tool bound to w.
func (w *Workspace) Tools() []adk.Tool {
	return []adk.Tool{
		&AuditTool{Workspace: w},
		&ExplainTool{Workspace: w},
		&PlanTool{Workspace: w},
		&CompareTool{Workspace: w},
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
