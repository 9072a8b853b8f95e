package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "naturelens",
		Short:         "Classify wildlife photos into species albums",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if hasAnnotation(cmd, annotationNoSetup) {
				return nil
			}
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.flags.store, "store", "", "Collection store: sqlite, file or memory (default from NATURELENS_STORE)")
	flags.StringVar(&a.flags.dataDir, "data-dir", "", "Data directory (default from NATURELENS_DATA_DIR)")
	flags.BoolVar(&a.flags.dev, "dev", false, "Development logging")
	flags.BoolVar(&a.flags.jsonOutput, "json", false, "Output JSON")
	flags.BoolVarP(&a.flags.quiet, "quiet", "q", false, "Suppress progress output")
	flags.StringVar(&a.flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(newIngestCommand(a))
	rootCmd.AddCommand(newGenerateCommand(a))
	rootCmd.AddCommand(newEditCommand(a))
	rootCmd.AddCommand(newAlbumsCommand(a))
	rootCmd.AddCommand(newOpenCommand(a))
	rootCmd.AddCommand(newRecentCommand(a))
	rootCmd.AddCommand(newSaveCommand(a))
	rootCmd.AddCommand(newExportCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newDoctorCommand(a))
	rootCmd.AddCommand(newDBCommand(a))

	return rootCmd
}

// context returns the context commands run under. It is cancelled by the
// first SIGINT or SIGTERM.
func (a *app) context(cmd *cobra.Command) context.Context {
	if a.shutdown != nil {
		return a.shutdown.Context()
	}
	return cmd.Context()
}

func modelsAnnotation() map[string]string {
	return map[string]string{annotationModels: "true"}
}
