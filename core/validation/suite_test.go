package validation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func pass(name string) Check {
	return Check{Name: name, Run: func(ctx context.Context) (string, error) { return "ok", nil }}
}

func fail(name string) Check {
	return Check{Name: name, Run: func(ctx context.Context) (string, error) { return "", errors.New("broken") }}
}

func TestSuite_Run(t *testing.T) {
	warn := Check{Name: "Disk Space", Run: func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("%w: low", ErrWarning)
	}}
	dependent := pass("Endpoint")
	dependent.Requires = "Configuration"

	var out bytes.Buffer
	result := NewSuite("NatureLens Doctor", fail("Configuration"), warn, dependent, pass("Data Directory")).
		WithOutput(&out).
		Run(context.Background())

	if result.Success() {
		t.Error("Success() = true with a failed check")
	}
	if result.Passed != 1 || result.Failed != 1 || result.Warnings != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.Steps[2].Status != StepSkipped {
		t.Errorf("dependent step = %v, want skipped", result.Steps[2].Status)
	}
	if errs := result.Errors(); len(errs) != 1 || !strings.HasPrefix(errs[0].Error(), "Configuration") {
		t.Errorf("Errors() = %v", errs)
	}

	text := out.String()
	for _, want := range []string{"NatureLens Doctor", "✗ Configuration", "! Disk Space", "requires Configuration", "Checks failed"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestSuite_FailFast(t *testing.T) {
	result := NewSuite("t", fail("first"), pass("second")).
		WithQuiet(true).
		WithFailFast(true).
		Run(context.Background())

	if result.Steps[1].Status != StepSkipped {
		t.Errorf("second step = %v, want skipped", result.Steps[1].Status)
	}
}

func TestSuite_Timeout(t *testing.T) {
	slow := Check{Name: "slow", Run: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}

	result := NewSuite("t", slow).WithQuiet(true).WithTimeout(10 * time.Millisecond).Run(context.Background())
	if !errors.Is(result.Steps[0].Err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", result.Steps[0].Err)
	}
}

func TestSuite_QuietWritesNothing(t *testing.T) {
	var out bytes.Buffer
	NewSuite("t", pass("a")).WithOutput(&out).WithQuiet(true).Run(context.Background())
	if out.Len() != 0 {
		t.Errorf("quiet suite wrote %q", out.String())
	}
}
