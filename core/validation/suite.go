// Package validation runs startup checks and prints their results.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
)

// StepStatus is the outcome of one check.
type StepStatus int

const (
	StepPassed StepStatus = iota
	StepWarning
	StepFailed
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepWarning:
		return "warning"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ErrWarning marks a check error as non-fatal. Wrap it to report a warning.
var ErrWarning = errors.New("warning")

// Check is one named startup check. Run returns a short message on success,
// or an error; errors wrapping ErrWarning do not fail the suite.
type Check struct {
	Name string
	// Requires names an earlier check that must pass, or the check is skipped.
	Requires string
	Run      func(ctx context.Context) (string, error)
}

// Step is a completed check.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
	Err     error
	Latency time.Duration
}

// Result is the outcome of a suite run.
type Result struct {
	Steps    []Step
	Passed   int
	Failed   int
	Warnings int
	Skipped  int
	Duration time.Duration
}

// Success reports whether no check failed.
func (r Result) Success() bool {
	return r.Failed == 0
}

// Errors returns the errors of failed steps.
func (r Result) Errors() []error {
	var errs []error
	for _, s := range r.Steps {
		if s.Status == StepFailed && s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	return errs
}

// Suite runs checks in order and prints progress.
type Suite struct {
	title    string
	checks   []Check
	output   io.Writer
	quiet    bool
	failFast bool
	timeout  time.Duration
}

// NewSuite creates a suite writing to stdout.
func NewSuite(title string, checks ...Check) *Suite {
	return &Suite{
		title:   title,
		checks:  checks,
		output:  os.Stdout,
		timeout: 15 * time.Second,
	}
}

// WithOutput redirects progress output.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithQuiet suppresses progress output.
func (s *Suite) WithQuiet(quiet bool) *Suite {
	s.quiet = quiet
	return s
}

// WithFailFast skips every check after the first failure.
func (s *Suite) WithFailFast(failFast bool) *Suite {
	s.failFast = failFast
	return s
}

// WithTimeout bounds each check.
func (s *Suite) WithTimeout(timeout time.Duration) *Suite {
	s.timeout = timeout
	return s
}

// Run executes every check.
func (s *Suite) Run(ctx context.Context) Result {
	start := time.Now()
	s.printHeader()

	status := make(map[string]StepStatus, len(s.checks))
	failed := false
	steps := make([]Step, 0, len(s.checks))

	for _, check := range s.checks {
		var step Step
		switch {
		case failed && s.failFast:
			step = Step{Name: check.Name, Status: StepSkipped, Message: "skipped after earlier failure"}
		case check.Requires != "" && status[check.Requires] != StepPassed && status[check.Requires] != StepWarning:
			step = Step{Name: check.Name, Status: StepSkipped, Message: "requires " + check.Requires}
		default:
			step = s.runCheck(ctx, check)
		}
		status[check.Name] = step.Status
		failed = failed || step.Status == StepFailed
		s.printStep(step)
		steps = append(steps, step)
	}

	result := Result{Steps: steps, Duration: time.Since(start)}
	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.Passed++
		case StepWarning:
			result.Warnings++
		case StepFailed:
			result.Failed++
		case StepSkipped:
			result.Skipped++
		}
	}
	s.printSummary(result)
	return result
}

func (s *Suite) runCheck(ctx context.Context, check Check) Step {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	msg, err := check.Run(ctx)
	step := Step{Name: check.Name, Message: msg, Err: err, Latency: time.Since(start)}
	switch {
	case err == nil:
		step.Status = StepPassed
	case errors.Is(err, ErrWarning):
		step.Status = StepWarning
	default:
		step.Status = StepFailed
	}
	return step
}

func (s *Suite) printHeader() {
	if s.quiet {
		return
	}
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "\n━━━ %s ━━━\n\n", s.title)
}

func (s *Suite) printStep(step Step) {
	if s.quiet {
		return
	}
	var icon string
	var clr *color.Color
	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	default:
		icon, clr = "○", color.New(color.FgHiBlack)
	}

	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)
	if step.Err != nil && step.Status != StepPassed {
		clr.Fprintf(s.output, "    └─ %s\n", step.Err)
	}
}

func (s *Suite) printSummary(r Result) {
	if s.quiet {
		return
	}
	fmt.Fprintln(s.output)
	if r.Success() {
		color.New(color.FgGreen, color.Bold).Fprintf(s.output, "━━━ All checks passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d warnings in %v)\n\n",
			r.Passed, r.Warnings, r.Duration.Round(time.Millisecond))
		return
	}
	color.New(color.FgRed, color.Bold).Fprintf(s.output, "━━━ Checks failed ")
	color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed, %d skipped)\n\n",
		r.Passed, r.Failed, r.Skipped)
}
