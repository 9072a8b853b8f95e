// Command naturelens classifies wildlife photos into species albums.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"naturelens/classify"
	"naturelens/core"
	"naturelens/imagegen"
	"naturelens/pipeline"
	"naturelens/shutdown"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}

	a := newApp()
	err := newRootCommand(a).Execute()
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}

	code := a.exitCode(err)
	if err != nil && !errors.Is(err, context.Canceled) {
		printError(os.Stderr, err, code, a.flags.jsonOutput)
	}
	os.Exit(code)
}

// errorReport is the --json form of a failed command.
type errorReport struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Action     string `json:"action,omitempty"`
	ExitCode   int    `json:"exitCode"`
	ExitStatus string `json:"exitStatus"`
}

func printError(w io.Writer, err error, code int, jsonOutput bool) {
	cfgErr, isConfig := core.IsConfigError(err)
	if jsonOutput {
		report := errorReport{
			Error:      err.Error(),
			Code:       core.GetErrorCode(err),
			ExitCode:   code,
			ExitStatus: core.ExitCodeName(code),
		}
		if isConfig {
			report.Error = cfgErr.Message
			report.Action = cfgErr.Action
		}
		if data, err := jsonIndent(report); err == nil {
			w.Write(data)
		}
		return
	}

	if isConfig {
		color.New(color.FgRed, color.Bold).Fprint(w, "Configuration error: ")
		fmt.Fprintln(w, cfgErr.Message)
		if cfgErr.Action != "" {
			color.New(color.FgYellow).Fprintf(w, "  → %s\n", cfgErr.Action)
		}
		return
	}
	color.New(color.FgRed).Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
}

// exitCode is the package-level mapping, refined by the signal that
// interrupted the run.
func (a *app) exitCode(err error) int {
	code := exitCode(err)
	if code == core.ExitCodeSIGINT && a.shutdown != nil {
		if sig, ok := a.shutdown.Interrupted(); ok {
			code = shutdown.ExitCode(sig)
		}
	}
	return code
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	if err == nil {
		return core.ExitCodeSuccess
	}

	var (
		cfgErr *core.ConfigError
		cerr   *classify.ClassificationError
		gerr   *imagegen.GenerationError
		eerr   *imagegen.EditError
	)
	switch {
	case errors.As(err, &cfgErr):
		return core.ExitCodeConfig
	case errors.As(err, &cerr), errors.As(err, &gerr), errors.As(err, &eerr), errors.Is(err, pipeline.ErrInvalidInput):
		return core.ExitCodeIngestFailed
	case errors.Is(err, context.Canceled):
		return core.ExitCodeSIGINT
	default:
		return core.ExitCodeError
	}
}
