// Package ui is the interaction adapter of the guided session: the session
// emits abstract prompts and the adapter renders them and collects answers.
package ui

import (
	"context"
	"errors"
	"os"

	"golang.org/x/term"

	"github.com/user/hostaudit/pkg/engine"
)

// ErrAborted is returned by an adapter when the operator quits.
var ErrAborted = errors.New("aborted by operator")

// Kind is the step of the guided flow a prompt belongs to.
type Kind string

const (
	KindWelcome        Kind = "welcome"
	KindSelectModules  Kind = "select-modules"
	KindSelectFindings Kind = "select-findings"
	KindReviewPlan     Kind = "review-plan"
	KindConfirmExecute Kind = "confirm-execute"
	KindShowResults    Kind = "show-results"
	KindShowError      Kind = "show-error"
)

// Option is one selectable item.
type Option struct {
	ID       string
	Label    string
	Detail   string
	Selected bool
}

// Prompt is a request to the operator.
type Prompt struct {
	Kind  Kind
	Title string
	Body  string
	// Options are offered by the select kinds.
	Options []Option
	// Step is set for per-step confirmations.
	Step *engine.PlanStep
}

// Response is the operator's answer. Selected holds option IDs; Confirmed
// answers yes/no prompts.
type Response struct {
	Selected  []string
	Confirmed bool
}

// Adapter renders prompts and collects responses.
type Adapter interface {
	Ask(ctx context.Context, p Prompt) (Response, error)
}

// Defaults returns the IDs of the options selected by default.
func Defaults(opts []Option) []string {
	var ids []string
	for _, o := range opts {
		if o.Selected {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or fallback.
func Width(f *os.File, fallback int) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
