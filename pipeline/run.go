package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"naturelens/classify"
	"naturelens/collection"
	"naturelens/db"
	"naturelens/imagegen"
	"naturelens/logging"
)

// run is the bookkeeping for one ingest request.
type run struct {
	o             *Orchestrator
	correlationID string
	source        collection.Source
	state         State
	started       time.Time
	analysis      collection.AnalysisResult
	logger        *logging.Logger
}

func (o *Orchestrator) begin(source collection.Source) *run {
	id := uuid.NewString()
	return &run{
		o:             o,
		correlationID: id,
		source:        source,
		state:         StateIdle,
		started:       time.Now(),
		logger: o.logger.With(
			zap.String("correlation_id", id),
			zap.String("source", source.String())),
	}
}

func (r *run) to(next State) {
	if !validTransition(r.state, next) {
		r.logger.Warn("unexpected state transition",
			zap.Stringer("from", r.state),
			zap.Stringer("to", next))
	}
	r.state = next
	if r.o.opts.Progress != nil {
		r.o.opts.Progress(r.correlationID, next)
	}
}

// fail ends the request without touching the collection and returns err.
func (r *run) fail(ctx context.Context, err error) error {
	elapsed := time.Since(r.started)
	r.to(StateFailed)
	r.to(StateIdle)

	r.logger.Warn("ingest failed",
		zap.String("stage", failedStage(err)),
		zap.Duration("duration", elapsed),
		zap.Error(err))

	r.o.metrics.RecordIngest(r.source.String(), db.StatusFailed, elapsed)
	r.record(ctx, db.IngestRecord{
		Status:       db.StatusFailed,
		ErrorMessage: err.Error(),
		DurationMS:   elapsed.Milliseconds(),
	})
	return err
}

func (r *run) succeed(ctx context.Context, ref PhotoRef) {
	elapsed := time.Since(r.started)
	r.to(StateDone)
	r.to(StateIdle)

	r.logger.Info("photo ingested",
		zap.String("photo_id", ref.PhotoID),
		zap.String("species_key", ref.SpeciesKey),
		zap.Float64("confidence", r.analysis.Confidence),
		zap.Duration("duration", elapsed))

	r.o.metrics.RecordIngest(r.source.String(), db.StatusSuccess, elapsed)
	r.record(ctx, db.IngestRecord{
		PhotoID:    ref.PhotoID,
		Status:     db.StatusSuccess,
		DurationMS: elapsed.Milliseconds(),
	})
}

// record writes history detached from ctx. History is best effort.
func (r *run) record(ctx context.Context, rec db.IngestRecord) {
	if r.o.history == nil {
		return
	}
	rec.CorrelationID = r.correlationID
	rec.Source = r.source.String()
	rec.ModelName = r.o.opts.ModelName
	rec.Species = r.analysis.Species
	rec.SpeciesKey = collection.SpeciesKey(r.analysis.Species)
	rec.Confidence = r.analysis.Confidence
	rec.CreatedAt = r.o.now()

	if _, err := r.o.history.Insert(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("failed to record ingest history", zap.Error(err))
	}
}

func failedStage(err error) string {
	var (
		cerr *classify.ClassificationError
		gerr *imagegen.GenerationError
		eerr *imagegen.EditError
	)
	switch {
	case errors.As(err, &cerr):
		return "classify"
	case errors.As(err, &gerr):
		return "generate"
	case errors.As(err, &eerr):
		return "edit"
	case errors.Is(err, ErrInvalidInput):
		return "prepare"
	default:
		return "merge"
	}
}
