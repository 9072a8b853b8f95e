package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"naturelens/core"
	"naturelens/db"
)

func newDBCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and migrate the SQLite schema",
	}
	cmd.AddCommand(newDBVersionCommand(a), newDBMigrateCommand(a), newDBRollbackCommand(a))
	return cmd
}

type schemaView struct {
	Path    string `json:"path"`
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
}

func newDBVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.sqlitePath()
			if err != nil {
				return err
			}
			return a.printSchema(cmd, path)
		},
	}
}

func newDBMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.sqlitePath()
			if err != nil {
				return err
			}
			if err := db.MigrateUp(a.context(cmd), path); err != nil {
				return err
			}
			return a.printSchema(cmd, path)
		},
	}
}

func newDBRollbackCommand(a *app) *cobra.Command {
	var steps int
	var all bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back schema migrations",
		Long: `Roll back schema migrations. Rolling back past version 1 drops the
saved collection; export it first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				steps = -1
			} else if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			path, err := a.sqlitePath()
			if err != nil {
				return err
			}
			if err := db.MigrateDown(a.context(cmd), path, steps); err != nil {
				return err
			}
			return a.printSchema(cmd, path)
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "Roll back every migration")
	return cmd
}

// sqlitePath returns the database path, or an error for other stores.
func (a *app) sqlitePath() (string, error) {
	if a.cfg.StoreBackend != core.StoreSQLite {
		return "", fmt.Errorf("schema commands require the sqlite store (current: %s)", a.cfg.StoreBackend)
	}
	return a.cfg.DBPath, nil
}

func (a *app) printSchema(cmd *cobra.Command, path string) error {
	version, dirty, err := db.MigrationVersion(a.context(cmd), path)
	if err != nil {
		return err
	}
	view := schemaView{Path: path, Version: version, Dirty: dirty}
	if a.flags.jsonOutput {
		return writeJSON(cmd, view)
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema v%d (%s)\n", path, version, state)
	return nil
}
