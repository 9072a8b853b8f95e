package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"naturelens/collection"
	"naturelens/core"
	"naturelens/db"
	"naturelens/logging"
	"naturelens/metrics"
	"naturelens/pipeline"
	"naturelens/shutdown"
)

// Command annotations.
const (
	// annotationModels marks commands that call model APIs and need keys.
	annotationModels = "models"
	// annotationNoSetup marks commands that do their own setup.
	annotationNoSetup = "noSetup"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	store       string
	dataDir     string
	dev         bool
	jsonOutput  bool
	quiet       bool
	metricsFile string
}

// app owns everything a command needs. Parts are built lazily so read-only
// commands never construct model clients.
type app struct {
	flags globalFlags

	// newLogger is replaced in tests.
	newLogger func(cfg *core.Config) (*logging.Logger, error)
	// newServices is replaced in tests to avoid real model clients.
	newServices func(ctx context.Context, cfg *core.Config, m *metrics.Metrics, logger *logging.Logger) (*services, error)

	cfg      *core.Config
	logger   *logging.Logger
	shutdown *shutdown.Manager
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	database *db.Database
	history  *db.HistoryRepository
	store    *collection.Store
	orch     *pipeline.Orchestrator
}

func newApp() *app {
	return &app{
		newLogger: func(cfg *core.Config) (*logging.Logger, error) {
			return logging.NewLogger(cfg.Development, cfg.LogFile)
		},
		newServices: newServices,
	}
}

// setup loads configuration and builds the ambient pieces. Commands
// annotated with annotationModels get full validation; the rest only need
// valid storage settings.
func (a *app) setup(cmd *cobra.Command) error {
	if a.cfg != nil {
		return nil
	}

	cfg := a.loadConfig()
	validate := cfg.ValidateStorage
	if hasAnnotation(cmd, annotationModels) {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return err
	}
	if err := core.EnsureDataDirectory(cfg); err != nil {
		return err
	}

	logger, err := a.newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	m, err := metrics.New(a.registry)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.metrics = m
	a.shutdown = shutdown.NewManager(logger)
	a.shutdown.Register("staged-files", 40, shutdown.RemoveStagedFiles(logger, cfg.DownloadsDir))
	if a.flags.metricsFile != "" {
		path := a.flags.metricsFile
		a.shutdown.Register("metrics-textfile", 10, func(ctx context.Context) error {
			return a.metrics.WriteTextfile(path)
		})
	}
	a.shutdown.Start()

	logger.Debug("configuration loaded",
		zap.String("provider", string(cfg.Provider)),
		zap.String("store", string(cfg.StoreBackend)),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("has_gemini", cfg.HasGemini()),
		zap.Bool("development", logger.IsDevelopment()),
		zap.String("log_file", logger.LogFilePath()))
	return nil
}

// loadConfig reads the environment and applies flag overrides without validating.
func (a *app) loadConfig() *core.Config {
	cfg := core.LoadConfigUnchecked()
	if a.flags.store != "" {
		cfg.StoreBackend = core.StoreBackend(strings.ToLower(a.flags.store))
	}
	if a.flags.dataDir != "" {
		cfg.SetDataDir(a.flags.dataDir)
	}
	if a.flags.dev {
		cfg.Development = true
	}
	return cfg
}

// openStore opens the collection on the configured backend.
func (a *app) openStore(ctx context.Context) (*collection.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	var backend collection.Backend
	switch a.cfg.StoreBackend {
	case core.StoreSQLite:
		database, err := a.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		backend = db.NewBlobStore(database, collection.Namespace)
	case core.StoreFile:
		fb, err := collection.NewFileBackend(a.cfg.DataDir)
		if err != nil {
			return nil, err
		}
		backend = fb
	default:
		backend = collection.NewMemoryBackend(nil)
	}

	store := collection.Open(ctx, backend, a.logger)
	if err := store.LoadErr(); err != nil {
		a.metrics.IncPersistFailure("load")
		a.warnf("saved collection could not be read, starting empty: %v", err)
	}
	a.metrics.SetCollectionSize(store.Counts())
	a.store = store
	return store, nil
}

// openDatabase opens SQLite and starts the async history writer.
func (a *app) openDatabase(ctx context.Context) (*db.Database, error) {
	if a.database != nil {
		return a.database, nil
	}

	database, err := db.Open(ctx, a.cfg.DBPath)
	if err != nil {
		return nil, err
	}

	repo := db.NewHistoryRepository(database, nil)
	writer := db.NewAsyncWriter(repo.AsyncWriteHandler(), db.DefaultAsyncWriterConfig(), a.logger)
	writer.Start()
	a.metrics.WatchHistoryWriter(writer.Stats)

	a.database = database
	a.history = db.NewHistoryRepository(database, writer)
	a.shutdown.Register("history-writer", 0, func(ctx context.Context) error {
		drained := writer.Stop()
		if failed, dropped := writer.Stats(); failed+dropped > 0 {
			a.logger.Warn("history rows lost",
				zap.Int64("failed", failed),
				zap.Int64("dropped", dropped))
		}
		if !drained {
			return fmt.Errorf("history writer did not drain, %d writes lost", writer.Pending())
		}
		return nil
	})
	a.shutdown.Register("database", 30, func(ctx context.Context) error {
		return database.Close()
	})
	return database, nil
}

// historyRepo returns the ingest history, which only the SQLite store keeps.
func (a *app) historyRepo(ctx context.Context) (*db.HistoryRepository, error) {
	if a.cfg.StoreBackend != core.StoreSQLite {
		return nil, fmt.Errorf("ingest history requires the sqlite store (current: %s)", a.cfg.StoreBackend)
	}
	if _, err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	return a.history, nil
}

// orchestrator builds the pipeline with model clients for the configured provider.
func (a *app) orchestrator(ctx context.Context, stderr io.Writer) (*pipeline.Orchestrator, error) {
	if a.orch != nil {
		return a.orch, nil
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := a.newServices(ctx, a.cfg, a.metrics, a.logger)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Dependencies{
		Classifier: svc.classifier,
		Captioner:  svc.captioner,
		Summarizer: svc.summarizer,
		Generator:  svc.images,
		Editor:     svc.images,
		Store:      store,
		Metrics:    a.metrics,
		Operations: a.shutdown,
		Logger:     a.logger,
	}
	if a.history != nil {
		deps.History = a.history
	}

	opts := pipeline.Options{
		RejectUnrecognized: a.cfg.RejectUnknownSpecies,
		MaxUploadBytes:     a.cfg.MaxUploadBytes,
		MaxImageDimension:  a.cfg.MaxImageDimension,
		ModelName:          svc.modelName,
	}
	if !a.flags.quiet && !a.flags.jsonOutput {
		opts.Progress = progressPrinter(stderr)
	}

	orch, err := pipeline.New(deps, opts)
	if err != nil {
		return nil, err
	}
	a.orch = orch
	return orch, nil
}

// close runs the shutdown sequence: drain history, write metrics, close
// the database, remove staged files, flush logs.
func (a *app) close() error {
	if a.shutdown == nil {
		return nil
	}
	if n := a.shutdown.ActiveOperations(); n > 0 {
		a.warnf("waiting for %s to finish", pluralize(int(n), "request", "requests"))
	}
	a.logger.Debug("shutting down", zap.Strings("hooks", a.shutdown.Hooks()))
	err := a.shutdown.Shutdown()
	if syncErr := a.logger.Sync(); syncErr != nil && !isIgnorableSyncError(syncErr) && err == nil {
		err = syncErr
	}
	return err
}

func (a *app) warnf(format string, args ...interface{}) {
	if a.flags.quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// isIgnorableSyncError matches the errors fsync returns for terminals.
func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}

func hasAnnotation(cmd *cobra.Command, key string) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations[key] == "true" {
			return true
		}
	}
	return false
}
