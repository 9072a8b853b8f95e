// Package pipeline turns images into classified photos in the collection.
// Uploads, generated images and edits all go through one ingest routine:
// classify, caption, merge. Albums are enriched with a grounded summary the
// first time they are opened.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"naturelens/classify"
	"naturelens/collection"
	"naturelens/db"
	"naturelens/enrich"
	"naturelens/imagegen"
	"naturelens/logging"
	"naturelens/metrics"
	"naturelens/vision"
)

var (
	// ErrNotConfigured is returned when an operation needs a client that was not supplied.
	ErrNotConfigured = errors.New("pipeline: client not configured")
	// ErrInvalidInput is returned when uploaded bytes cannot be used as an image.
	ErrInvalidInput = errors.New("pipeline: invalid input image")
)

// PhotoRef identifies a freshly ingested photo and the album it landed in.
type PhotoRef struct {
	PhotoID    string `json:"photoId" yaml:"photo_id"`
	SpeciesKey string `json:"speciesKey" yaml:"species_key"`
}

// Captioner writes a short caption for a species. It never fails.
type Captioner interface {
	Caption(ctx context.Context, species string) string
}

// HistoryRecorder stores one row per ingest attempt.
type HistoryRecorder interface {
	Insert(ctx context.Context, rec db.IngestRecord) (int64, error)
}

// OperationWrapper tracks in-flight work so shutdown can wait for it.
// *shutdown.Manager satisfies it.
type OperationWrapper interface {
	WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

// Dependencies are the collaborators of an Orchestrator. Classifier,
// Captioner and Store are required; the rest may be nil, in which case the
// operations needing them fail with ErrNotConfigured (or, for Summarizer,
// OpenAlbum returns albums unenriched).
type Dependencies struct {
	Classifier classify.Classifier
	Captioner  Captioner
	Summarizer enrich.Summarizer
	Generator  imagegen.Generator
	Editor     imagegen.Editor
	Store      *collection.Store

	History    HistoryRecorder
	Metrics    *metrics.Metrics
	Operations OperationWrapper
	Logger     *logging.Logger
}

// Options tune ingest behavior.
type Options struct {
	// RejectUnrecognized fails ingests the classifier labels "Unknown"
	// instead of filing them in the unknown album.
	RejectUnrecognized bool
	// MaxUploadBytes caps IngestUpload input. Zero means no cap.
	MaxUploadBytes int64
	// MaxImageDimension shrinks larger images before classification.
	MaxImageDimension int
	// ModelName is recorded in ingest history.
	ModelName string
	Progress  ProgressFunc
}

// Orchestrator runs ingest and album enrichment. It is safe for concurrent use.
type Orchestrator struct {
	classifier classify.Classifier
	captioner  Captioner
	summarizer enrich.Summarizer
	generator  imagegen.Generator
	editor     imagegen.Editor
	store      *collection.Store

	history HistoryRecorder
	metrics *metrics.Metrics
	ops     OperationWrapper
	opts    Options
	logger  *logging.Logger

	enrichments singleflight.Group

	now   func() time.Time
	newID func() (string, error)
}

// New validates deps and returns an Orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Classifier == nil:
		return nil, fmt.Errorf("%w: classifier", ErrNotConfigured)
	case deps.Captioner == nil:
		return nil, fmt.Errorf("%w: captioner", ErrNotConfigured)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrNotConfigured)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Orchestrator{
		classifier: deps.Classifier,
		captioner:  deps.Captioner,
		summarizer: deps.Summarizer,
		generator:  deps.Generator,
		editor:     deps.Editor,
		store:      deps.Store,
		history:    deps.History,
		metrics:    deps.Metrics,
		ops:        deps.Operations,
		opts:       opts,
		logger:     logger.Named("pipeline"),
		now:        time.Now,
		newID:      newPhotoID,
	}, nil
}

// Store returns the collection the orchestrator merges into.
func (o *Orchestrator) Store() *collection.Store {
	return o.store
}

func newPhotoID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IngestUpload classifies uploaded bytes and files them. The stored type is
// sniffed from the bytes; mimeType is used only for image formats that cannot
// be decoded locally, which are forwarded unchanged.
func (o *Orchestrator) IngestUpload(ctx context.Context, data []byte, mimeType string) (PhotoRef, error) {
	var ref PhotoRef
	err := o.track(ctx, "ingest-upload", func(ctx context.Context) error {
		r := o.begin(collection.SourceUpload)

		prepared, err := vision.PrepareDeclared(data, mimeType, o.opts.MaxUploadBytes, o.opts.MaxImageDimension)
		if err != nil {
			return r.fail(ctx, fmt.Errorf("%w: %w", ErrInvalidInput, err))
		}
		switch {
		case prepared.Opaque:
			r.logger.Debug("forwarding undecodable image as declared",
				zap.String("mime_type", prepared.MIMEType),
				zap.Int("bytes", len(prepared.Data)))
		case mimeType != "" && mimeType != prepared.MIMEType && !prepared.Resized:
			r.logger.Debug("declared mime type differs from content",
				zap.String("declared", mimeType),
				zap.String("detected", prepared.MIMEType))
		}

		ref, err = o.ingest(ctx, r, prepared.Data, prepared.MIMEType)
		return err
	})
	return ref, err
}

// IngestGenerated creates an image from prompt and files it.
func (o *Orchestrator) IngestGenerated(ctx context.Context, prompt string, aspect imagegen.AspectRatio, size imagegen.Size) (PhotoRef, error) {
	var ref PhotoRef
	err := o.track(ctx, "ingest-generated", func(ctx context.Context) error {
		r := o.begin(collection.SourceGenerated)

		if o.generator == nil {
			return r.fail(ctx, &imagegen.GenerationError{Op: "config", Err: ErrNotConfigured})
		}

		started := time.Now()
		img, err := o.generator.Generate(ctx, imagegen.GenerateRequest{Prompt: prompt, AspectRatio: aspect, Size: size})
		o.metrics.ObserveStage("generate", time.Since(started))
		if err != nil {
			o.metrics.IncModelRequest("generate", db.StatusFailed)
			return r.fail(ctx, err)
		}
		o.metrics.IncModelRequest("generate", db.StatusSuccess)

		prepared, err := o.prepare(img.Data, 0)
		if err != nil {
			return r.fail(ctx, &imagegen.GenerationError{Op: "decode", Err: err})
		}

		ref, err = o.ingest(ctx, r, prepared.Data, prepared.MIMEType)
		return err
	})
	return ref, err
}

// IngestEdited applies instruction to source's image and files the result
// as a new photo. source itself is left as it is.
func (o *Orchestrator) IngestEdited(ctx context.Context, source collection.Photo, instruction string) (PhotoRef, error) {
	var ref PhotoRef
	err := o.track(ctx, "ingest-edited", func(ctx context.Context) error {
		r := o.begin(collection.SourceEdited)
		r.logger = r.logger.With(zap.String("source_photo_id", source.ID))

		if o.editor == nil {
			return r.fail(ctx, &imagegen.EditError{Op: "config", Err: ErrNotConfigured})
		}

		data, mimeType, err := vision.DecodeDataURI(source.URL)
		if err != nil {
			return r.fail(ctx, &imagegen.EditError{Op: "source", Err: err})
		}

		started := time.Now()
		img, err := o.editor.Edit(ctx, imagegen.EditRequest{Image: data, MIMEType: mimeType, Instruction: instruction})
		o.metrics.ObserveStage("edit", time.Since(started))
		if err != nil {
			o.metrics.IncModelRequest("edit", db.StatusFailed)
			return r.fail(ctx, err)
		}
		o.metrics.IncModelRequest("edit", db.StatusSuccess)

		prepared, err := o.prepare(img.Data, 0)
		if err != nil {
			return r.fail(ctx, &imagegen.EditError{Op: "decode", Err: err})
		}

		ref, err = o.ingest(ctx, r, prepared.Data, prepared.MIMEType)
		return err
	})
	return ref, err
}

func (o *Orchestrator) prepare(data []byte, maxBytes int64) (vision.Prepared, error) {
	prepared, err := vision.Prepare(data, maxBytes, o.opts.MaxImageDimension)
	if err != nil {
		return vision.Prepared{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return prepared, nil
}

// ingest is the routine every source converges on. Only classification can
// fail it; caption failures were already absorbed by the Captioner and a
// failed save leaves the merged photo in memory.
func (o *Orchestrator) ingest(ctx context.Context, r *run, data []byte, mimeType string) (PhotoRef, error) {
	r.to(StateClassifying)
	started := time.Now()
	analysis, err := o.classifier.Classify(ctx, data, mimeType)
	o.metrics.ObserveStage("classify", time.Since(started))
	if err != nil {
		o.metrics.IncModelRequest("classify", db.StatusFailed)
		var cerr *classify.ClassificationError
		if !errors.As(err, &cerr) {
			err = &classify.ClassificationError{Op: "request", Err: err}
		}
		return PhotoRef{}, r.fail(ctx, err)
	}
	o.metrics.IncModelRequest("classify", db.StatusSuccess)
	r.analysis = analysis

	if collection.SpeciesKey(analysis.Species) == "" {
		return PhotoRef{}, r.fail(ctx, &classify.ClassificationError{Op: "validate", Err: classify.ErrMissingSpecies})
	}
	if o.opts.RejectUnrecognized && analysis.IsUnknown() {
		return PhotoRef{}, r.fail(ctx, &classify.ClassificationError{Op: "unrecognized", Err: classify.ErrUnrecognized})
	}

	r.to(StateCaptioning)
	started = time.Now()
	caption := o.captioner.Caption(ctx, analysis.Species)
	o.metrics.ObserveStage("caption", time.Since(started))

	r.to(StateMerging)
	id, err := o.newID()
	if err != nil {
		// uuid generation only fails when the system entropy source does
		id = uuid.NewString()
	}

	photo := collection.Photo{
		ID:         id,
		URL:        vision.EncodeDataURI(mimeType, data),
		Timestamp:  o.now().UnixMilli(),
		Analysis:   analysis,
		FunCaption: caption,
		Source:     r.source,
	}

	key, err := o.store.Merge(ctx, photo)
	if err != nil {
		var perr *collection.PersistenceError
		if !errors.As(err, &perr) {
			return PhotoRef{}, r.fail(ctx, err)
		}
		o.metrics.IncPersistFailure(perr.Op)
		r.logger.Error("photo merged but collection not saved",
			zap.String("photo_id", id),
			zap.Error(err))
	}
	o.metrics.SetCollectionSize(o.store.Counts())

	ref := PhotoRef{PhotoID: id, SpeciesKey: key}
	r.succeed(ctx, ref)
	return ref, nil
}

// OpenAlbum returns the album for key, fetching its grounded summary the
// first time. Concurrent opens of the same album share one fetch. The fetch
// and the save outlive ctx so an abandoned open still enriches the album.
func (o *Orchestrator) OpenAlbum(ctx context.Context, key string) (collection.Album, error) {
	key = collection.SpeciesKey(key)
	album, ok := o.store.Album(key)
	if !ok {
		return collection.Album{}, fmt.Errorf("%w: %q", collection.ErrAlbumNotFound, key)
	}
	if album.Enriched() || o.summarizer == nil {
		o.metrics.IncEnrichment(metrics.EnrichSkipped)
		return album, nil
	}

	v, err, shared := o.enrichments.Do(key, func() (interface{}, error) {
		return o.enrich(context.WithoutCancel(ctx), key)
	})
	if err != nil {
		return collection.Album{}, err
	}
	if shared {
		o.metrics.IncEnrichment(metrics.EnrichShared)
	}
	return v.(collection.Album), nil
}

func (o *Orchestrator) enrich(ctx context.Context, key string) (collection.Album, error) {
	// another open may have finished between the caller's check and this flight
	current, ok := o.store.Album(key)
	if !ok {
		return collection.Album{}, fmt.Errorf("%w: %q", collection.ErrAlbumNotFound, key)
	}
	if current.Enriched() {
		return current, nil
	}

	logger := o.logger.With(zap.String("species_key", key))
	started := time.Now()
	summary := o.summarizer.Summarize(ctx, current.Name)
	o.metrics.ObserveStage("summary", time.Since(started))
	if summary.Text == "" {
		summary.Text = enrich.SummaryUnavailable
	}

	applied, err := o.store.SetEnrichment(ctx, key, summary.Text, summary.URL)
	if err != nil {
		var perr *collection.PersistenceError
		if !errors.As(err, &perr) {
			return collection.Album{}, err
		}
		o.metrics.IncPersistFailure(perr.Op)
		logger.Error("album enriched but collection not saved", zap.Error(err))
	}
	if applied {
		o.metrics.IncEnrichment(metrics.EnrichFetched)
		logger.Info("album enriched",
			zap.Bool("has_source", summary.URL != ""),
			zap.Duration("duration", time.Since(started)))
	}

	updated, _ := o.store.Album(key)
	return updated, nil
}

// track admits fn as a tracked operation. Once admitted, fn runs detached
// from ctx cancellation: a request the caller dismisses still completes and
// merges its result.
func (o *Orchestrator) track(ctx context.Context, name string, fn func(context.Context) error) error {
	detached := func(ctx context.Context) error {
		return fn(context.WithoutCancel(ctx))
	}
	if o.ops == nil {
		return detached(ctx)
	}
	return o.ops.WrapOperation(ctx, name, detached)
}
