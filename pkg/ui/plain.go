package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Plain is a line-oriented terminal adapter.
type Plain struct {
	in    *bufio.Reader
	out   io.Writer
	title func(a ...interface{}) string
	warn  func(a ...interface{}) string

	// A single goroutine owns in so a prompt can give up on ctx without
	// racing the next prompt's read.
	readOnce sync.Once
	lines    chan lineResult
}

type lineResult struct {
	line string
	err  error
}

// NewPlain reads answers from in and writes prompts to out.
func NewPlain(in io.Reader, out io.Writer, useColor bool) *Plain {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return &Plain{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan lineResult),
		title: mk(color.FgCyan, color.Bold),
		warn:  mk(color.FgRed, color.Bold),
	}
}

func (p *Plain) Ask(ctx context.Context, pr Prompt) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if pr.Title != "" {
		fmt.Fprintf(p.out, "\n%s\n", p.title(pr.Title))
	}
	switch pr.Kind {
	case KindShowError:
		fmt.Fprintf(p.out, "%s %s\n", p.warn("Error:"), pr.Body)
		return Response{}, nil
	case KindWelcome, KindShowResults:
		if pr.Body != "" {
			fmt.Fprintln(p.out, pr.Body)
		}
		return Response{Confirmed: true}, nil
	case KindSelectModules, KindSelectFindings:
		return p.selectOptions(ctx, pr)
	case KindReviewPlan, KindConfirmExecute:
		if pr.Body != "" {
			fmt.Fprintln(p.out, pr.Body)
		}
		return p.confirm(ctx)
	}
	return Response{}, fmt.Errorf("unsupported prompt kind %q", pr.Kind)
}

func (p *Plain) readLoop() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if line != "" || (err != nil && err != io.EOF) {
			p.lines <- lineResult{line: line, err: err}
		}
		if err != nil {
			return
		}
	}
}

// readLine waits for one answer. It returns ctx's error as soon as ctx is
// done, without waiting for Enter.
func (p *Plain) readLine(ctx context.Context) (string, error) {
	p.readOnce.Do(func() { go p.readLoop() })
	var r lineResult
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-p.lines:
		if !ok {
			return "", ErrAborted
		}
		r = res
	}
	if r.err != nil && r.err != io.EOF {
		return "", r.err
	}
	line := strings.TrimSpace(r.line)
	if line == "q" || line == "quit" {
		return "", ErrAborted
	}
	return line, nil
}

func (p *Plain) confirm(ctx context.Context) (Response, error) {
	fmt.Fprint(p.out, "Proceed? [y/N]: ")
	line, err := p.readLine(ctx)
	if err != nil {
		return Response{}, err
	}
	line = strings.ToLower(line)
	return Response{Confirmed: line == "y" || line == "yes"}, nil
}

func (p *Plain) selectOptions(ctx context.Context, pr Prompt) (Response, error) {
	if pr.Body != "" {
		fmt.Fprintln(p.out, pr.Body)
	}
	for i, o := range pr.Options {
		mark := " "
		if o.Selected {
			mark = "x"
		}
		fmt.Fprintf(p.out, "  [%s] %2d. %s", mark, i+1, o.Label)
		if o.Detail != "" {
			fmt.Fprintf(p.out, "  (%s)", o.Detail)
		}
		fmt.Fprintln(p.out)
	}

	for {
		fmt.Fprint(p.out, "Select numbers (e.g. 1,3), 'all', 'none', Enter for [x], q to quit: ")
		line, err := p.readLine(ctx)
		if err != nil {
			return Response{}, err
		}
		ids, err := ParseSelection(line, pr.Options)
		if err == nil {
			return Response{Selected: ids, Confirmed: true}, nil
		}
		fmt.Fprintln(p.out, p.warn(err.Error()))
	}
}

// ParseSelection interprets a selection answer: empty keeps the defaults,
// "all" and "none" are literal, otherwise a comma or space separated list of
// 1-based indexes and ranges like 2-4.
func ParseSelection(answer string, opts []Option) ([]string, error) {
	answer = strings.ToLower(strings.TrimSpace(answer))
	switch answer {
	case "":
		return Defaults(opts), nil
	case "all", "a":
		ids := make([]string, 0, len(opts))
		for _, o := range opts {
			ids = append(ids, o.ID)
		}
		return ids, nil
	case "none", "n":
		return []string{}, nil
	}

	chosen := make([]bool, len(opts))
	for _, tok := range strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == ' ' }) {
		lo, hi, isRange := strings.Cut(tok, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", tok)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("not a range: %q", tok)
			}
		}
		if a < 1 || b > len(opts) || a > b {
			return nil, fmt.Errorf("out of range: %q (1-%d)", tok, len(opts))
		}
		for i := a; i <= b; i++ {
			chosen[i-1] = true
		}
	}
	ids := []string{}
	for i, c := range chosen {
		if c {
			ids = append(ids, opts[i].ID)
		}
	}
	return ids, nil
}
