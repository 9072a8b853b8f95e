package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"naturelens/collection"
	"naturelens/db"
)

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	var species, correlation string
	var stats bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent ingest attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.context(cmd)
			repo, err := a.historyRepo(ctx)
			if err != nil {
				return err
			}

			if stats {
				counts, err := repo.CountByStatus(ctx)
				if err != nil {
					return err
				}
				if a.flags.jsonOutput {
					return writeJSON(cmd, counts)
				}
				statuses := make([]string, 0, len(counts))
				for status := range counts {
					statuses = append(statuses, status)
				}
				sort.Strings(statuses)
				rows := make([][]string, 0, len(statuses))
				for _, status := range statuses {
					rows = append(rows, []string{status, humanize.Comma(counts[status])})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows,
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			}

			var records []db.IngestRecord
			switch {
			case correlation != "":
				records, err = repo.ByCorrelationID(ctx, correlation)
			case species != "":
				records, err = repo.BySpecies(ctx, collection.SpeciesKey(species), limit)
			default:
				records, err = repo.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}

			if a.flags.jsonOutput {
				return writeJSON(cmd, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No ingest history.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(records))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to show")
	cmd.Flags().StringVar(&species, "species", "", "Only show attempts filed under this species")
	cmd.Flags().StringVar(&correlation, "correlation-id", "", "Show one ingest attempt")
	cmd.Flags().BoolVar(&stats, "stats", false, "Show counts per status")

	cmd.AddCommand(newHistoryPruneCommand(a))
	return cmd
}

func newHistoryPruneCommand(a *app) *cobra.Command {
	var olderThan string
	var vacuum bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete ingest history older than a retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			retention, err := parseRetention(olderThan)
			if err != nil {
				return err
			}

			ctx := a.context(cmd)
			if _, err := a.historyRepo(ctx); err != nil {
				return err
			}
			removed, err := a.database.PruneHistory(ctx, retention)
			if err != nil {
				return err
			}
			if vacuum && removed > 0 {
				if err := a.database.Vacuum(ctx); err != nil {
					return err
				}
			}

			if a.flags.jsonOutput {
				return writeJSON(cmd, map[string]int64{"removed": removed})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s older than %s\n",
				pluralize(int(removed), "record", "records"), olderThan)
			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "Retention period, e.g. 30d or 72h")
	cmd.Flags().BoolVar(&vacuum, "vacuum", true, "Reclaim disk space after pruning")
	return cmd
}

// parseRetention accepts Go durations plus a whole-day suffix, "30d".
func parseRetention(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid retention %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid retention %q", s)
	}
	return d, nil
}

func renderHistory(records []db.IngestRecord) string {
	failed := color.New(color.FgRed).SprintFunc()
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		status := rec.Status
		detail := rec.Species
		if rec.Status == db.StatusFailed {
			status = failed(rec.Status)
			detail = rec.ErrorMessage
		}
		rows = append(rows, []string{
			humanize.Time(rec.CreatedAt),
			rec.Source,
			status,
			detail,
			shortID(rec.CorrelationID),
			(time.Duration(rec.DurationMS) * time.Millisecond).String(),
		})
	}
	return renderTable(
		[]string{"When", "Source", "Status", "Species / Error", "Request", "Took"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}
