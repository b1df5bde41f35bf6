package ui

import (
	"context"
	"fmt"
	"sync"
)

// Scripted answers prompts without a human: selections keep their defaults
// and confirmations are answered with AssumeYes. Handler, when set, decides
// instead. Every prompt is recorded.
type Scripted struct {
	AssumeYes bool
	Handler   func(p Prompt) (Response, error)

	mu      sync.Mutex
	prompts []Prompt
}

func (s *Scripted) Ask(ctx context.Context, p Prompt) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()

	if s.Handler != nil {
		return s.Handler(p)
	}
	switch p.Kind {
	case KindSelectModules, KindSelectFindings:
		return Response{Selected: Defaults(p.Options), Confirmed: true}, nil
	case KindReviewPlan, KindConfirmExecute:
		return Response{Confirmed: s.AssumeYes}, nil
	case KindWelcome, KindShowResults, KindShowError:
		return Response{Confirmed: true}, nil
	}
	return Response{}, fmt.Errorf("unsupported prompt kind %q", p.Kind)
}

// Prompts returns the prompts seen so far.
func (s *Scripted) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}
