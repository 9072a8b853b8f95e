package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"naturelens/collection"
	"naturelens/db"
	"naturelens/enrich"
	"naturelens/imagegen"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 20), G: 120, B: uint8(y * 20), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func analysis(species string, confidence float64) collection.AnalysisResult {
	return collection.AnalysisResult{
		Species:        species,
		ScientificName: "Vulpes vulpes",
		Confidence:     confidence,
		Description:    "A small omnivore.",
		Habitat:        "Woodland edges",
	}
}

// stubClassifier returns results in order, repeating the last one.
type stubClassifier struct {
	mu        sync.Mutex
	results   []collection.AnalysisResult
	err       error
	calls     int
	lastMIME  string
	lastBytes []byte
}

func (s *stubClassifier) Classify(ctx context.Context, data []byte, mimeType string) (collection.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastMIME = mimeType
	s.lastBytes = data
	if s.err != nil {
		return collection.AnalysisResult{}, s.err
	}
	i := s.calls - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

func (s *stubClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// gatedClassifier blocks until release is closed and fails early if its
// context ends first.
type gatedClassifier struct {
	result  collection.AnalysisResult
	started chan struct{}
	release chan struct{}
}

func (g *gatedClassifier) Classify(ctx context.Context, data []byte, mimeType string) (collection.AnalysisResult, error) {
	close(g.started)
	select {
	case <-ctx.Done():
		return collection.AnalysisResult{}, ctx.Err()
	case <-g.release:
		return g.result, nil
	}
}

type stubCaptioner struct {
	calls atomic.Int32
}

func (s *stubCaptioner) Caption(ctx context.Context, species string) string {
	s.calls.Add(1)
	return "Hello, " + species
}

// failingModel makes a real Captioner fall back.
type failingModel struct{}

func (failingModel) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("quota exceeded")
}

func (failingModel) Name() string { return "failing" }

type stubSummarizer struct {
	calls   atomic.Int32
	release chan struct{}
	summary enrich.Summary
	ctxErr  atomic.Value
}

func (s *stubSummarizer) Summarize(ctx context.Context, species string) enrich.Summary {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if err := ctx.Err(); err != nil {
		s.ctxErr.Store(err)
	}
	return s.summary
}

type stubGenerator struct {
	img     imagegen.Image
	err     error
	lastReq imagegen.GenerateRequest
}

func (s *stubGenerator) Generate(ctx context.Context, req imagegen.GenerateRequest) (imagegen.Image, error) {
	s.lastReq = req
	return s.img, s.err
}

type stubEditor struct {
	img     imagegen.Image
	err     error
	lastReq imagegen.EditRequest
}

func (s *stubEditor) Edit(ctx context.Context, req imagegen.EditRequest) (imagegen.Image, error) {
	s.lastReq = req
	return s.img, s.err
}

type stubHistory struct {
	mu      sync.Mutex
	records []db.IngestRecord
}

func (s *stubHistory) Insert(ctx context.Context, rec db.IngestRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return int64(len(s.records)), nil
}

func (s *stubHistory) Records() []db.IngestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.IngestRecord(nil), s.records...)
}

type saveFailBackend struct{}

func (saveFailBackend) Load(ctx context.Context) ([]byte, error) { return nil, nil }
func (saveFailBackend) Save(ctx context.Context, data []byte) error {
	return errors.New("disk full")
}

// progressLog collects transitions per correlation id.
type progressLog struct {
	mu     sync.Mutex
	states map[string][]State
}

func newProgressLog() *progressLog {
	return &progressLog{states: make(map[string][]State)}
}

func (p *progressLog) Func() ProgressFunc {
	return func(id string, s State) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.states[id] = append(p.states[id], s)
	}
}

// Only returns the transitions of the single recorded request.
func (p *progressLog) Only(t *testing.T) []State {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) != 1 {
		t.Fatalf("progress recorded %d requests, want 1", len(p.states))
	}
	for _, s := range p.states {
		return s
	}
	return nil
}

type fixture struct {
	orch       *Orchestrator
	store      *collection.Store
	backend    *collection.MemoryBackend
	classifier *stubClassifier
	captioner  *stubCaptioner
	summarizer *stubSummarizer
	generator  *stubGenerator
	editor     *stubEditor
	history    *stubHistory
	progress   *progressLog
}

func newFixture(t *testing.T, opts Options, results ...collection.AnalysisResult) *fixture {
	t.Helper()
	f := &fixture{
		backend:    collection.NewMemoryBackend(nil),
		classifier: &stubClassifier{results: results},
		captioner:  &stubCaptioner{},
		summarizer: &stubSummarizer{summary: enrich.Summary{Text: "Foxes are adaptable.", URL: "https://example.org/fox"}},
		generator:  &stubGenerator{},
		editor:     &stubEditor{},
		history:    &stubHistory{},
		progress:   newProgressLog(),
	}
	f.store = collection.Open(context.Background(), f.backend, nil)
	if opts.Progress == nil {
		opts.Progress = f.progress.Func()
	}

	orch, err := New(Dependencies{
		Classifier: f.classifier,
		Captioner:  f.captioner,
		Summarizer: f.summarizer,
		Generator:  f.generator,
		Editor:     f.editor,
		Store:      f.store,
		History:    f.history,
	}, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.orch = orch
	return f
}
