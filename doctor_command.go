package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"naturelens/collection"
	"naturelens/core"
	"naturelens/core/validation"
	"naturelens/db"
	"naturelens/logging"
)

func newDoctorCommand(a *app) *cobra.Command {
	var offline, failFast bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:         "doctor",
		Short:       "Check configuration, storage and API connectivity",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.loadConfig()

			result := validation.NewSuite("NatureLens Doctor", doctorChecks(cfg, offline)...).
				WithOutput(cmd.OutOrStdout()).
				WithQuiet(a.flags.jsonOutput).
				WithFailFast(failFast).
				WithTimeout(timeout).
				Run(cmd.Context())

			if a.flags.jsonOutput {
				if err := writeJSON(cmd, doctorReport(result)); err != nil {
					return err
				}
			}
			if !result.Success() {
				return errors.Join(result.Errors()...)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip API key and connectivity checks")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first failed check")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Timeout per check")
	return cmd
}

func doctorChecks(cfg *core.Config, offline bool) []validation.Check {
	checks := []validation.Check{
		validation.ConfigCheck(cfg, offline),
		validation.WritableDirCheck("Data Directory", cfg.DataDir),
		validation.WritableDirCheck("Downloads Directory", cfg.DownloadsDir),
		validation.DiskSpaceCheck(cfg.DataDir, validation.MinFreeBytes),
	}
	if cfg.StoreBackend == core.StoreSQLite {
		checks = append(checks, databaseCheck(cfg))
	}
	checks = append(checks, collectionCheck(cfg))
	if !offline {
		name, url := validation.DefaultEndpoint(cfg)
		checks = append(checks, validation.EndpointCheck(name, url, core.GetHTTPClient(cfg, 10*time.Second)))
	}
	return checks
}

// databaseCheck opens the database, which applies pending migrations, and
// reports the schema version.
func databaseCheck(cfg *core.Config) validation.Check {
	return validation.Check{
		Name:     "Database",
		Requires: "Data Directory",
		Run: func(ctx context.Context) (string, error) {
			database, err := db.Open(ctx, cfg.DBPath)
			if err != nil {
				return "", err
			}
			defer database.Close()
			if err := database.Ping(ctx); err != nil {
				return "", err
			}

			version, dirty, err := db.MigrationVersion(ctx, cfg.DBPath)
			if err != nil {
				return "", err
			}
			if dirty {
				return "", fmt.Errorf("schema version %d is dirty", version)
			}
			return fmt.Sprintf("%s (schema v%d)", filepath.Base(cfg.DBPath), version), nil
		},
	}
}

// collectionCheck loads the saved collection. An unreadable blob is a
// warning: the app starts with an empty collection and overwrites it on the
// next save.
func collectionCheck(cfg *core.Config) validation.Check {
	requires := "Data Directory"
	if cfg.StoreBackend == core.StoreSQLite {
		requires = "Database"
	}
	return validation.Check{
		Name:     "Collection",
		Requires: requires,
		Run: func(ctx context.Context) (string, error) {
			var backend collection.Backend
			switch cfg.StoreBackend {
			case core.StoreSQLite:
				database, err := db.Open(ctx, cfg.DBPath)
				if err != nil {
					return "", err
				}
				defer database.Close()
				backend = db.NewBlobStore(database, collection.Namespace)
			case core.StoreFile:
				fb, err := collection.NewFileBackend(cfg.DataDir)
				if err != nil {
					return "", err
				}
				backend = fb
			default:
				return "in-memory store, nothing saved", nil
			}

			store := collection.Open(ctx, backend, logging.NewNop())
			if err := store.LoadErr(); err != nil {
				return "", fmt.Errorf("%w: saved collection unreadable: %w", validation.ErrWarning, err)
			}
			albums, recent := store.Counts()
			msg := fmt.Sprintf("%s, %s", pluralize(albums, "album", "albums"),
				pluralize(recent, "recent photo", "recent photos"))
			if ts, ok := backend.(collection.Timestamped); ok {
				updated, saved, err := ts.UpdatedAt(ctx)
				if err != nil {
					return "", err
				}
				if saved {
					msg += ", saved " + humanize.Time(updated)
				}
			}
			return msg, nil
		},
	}
}

type doctorStep struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

func doctorReport(r validation.Result) map[string]any {
	steps := make([]doctorStep, 0, len(r.Steps))
	for _, s := range r.Steps {
		step := doctorStep{
			Name:      s.Name,
			Status:    s.Status.String(),
			Message:   s.Message,
			LatencyMS: s.Latency.Milliseconds(),
		}
		if s.Err != nil {
			step.Error = s.Err.Error()
		}
		steps = append(steps, step)
	}
	return map[string]any{
		"success":  r.Success(),
		"passed":   r.Passed,
		"failed":   r.Failed,
		"warnings": r.Warnings,
		"skipped":  r.Skipped,
		"steps":    steps,
	}
}
