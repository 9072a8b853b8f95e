package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"naturelens/classify"
	"naturelens/collection"
	"naturelens/core"
	"naturelens/enrich"
	"naturelens/imagegen"
	"naturelens/logging"
	"naturelens/metrics"
	"naturelens/pipeline"
	"naturelens/shutdown"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, core.ExitCodeSuccess},
		{"config", core.ErrMissingAuth("gemini"), core.ExitCodeConfig},
		{"wrapped config", fmt.Errorf("setup: %w", core.ErrInvalidValue("NATURELENS_STORE", "s3", "sqlite")), core.ExitCodeConfig},
		{"classification", &classify.ClassificationError{Op: "parse", Err: classify.ErrEmptyResponse}, core.ExitCodeIngestFailed},
		{"generation", &imagegen.GenerationError{Op: "generate", Err: imagegen.ErrNoImageData}, core.ExitCodeIngestFailed},
		{"edit", &imagegen.EditError{Op: "edit", Err: imagegen.ErrNoImageData}, core.ExitCodeIngestFailed},
		{"invalid input", fmt.Errorf("a.png: %w", pipeline.ErrInvalidInput), core.ExitCodeIngestFailed},
		{"joined ingest", errors.Join(errors.New("open b.png"), &classify.ClassificationError{Op: "request", Err: errors.New("boom")}), core.ExitCodeIngestFailed},
		{"canceled", context.Canceled, core.ExitCodeSIGINT},
		{"other", errors.New("boom"), core.ExitCodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestPrintErrorJSON(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		want errorReport
	}{
		{
			name: "config",
			err:  fmt.Errorf("setup: %w", core.ErrMissingAuth("openai")),
			code: core.ExitCodeConfig,
			want: errorReport{
				Error:      "Missing authentication credentials for openai",
				Code:       core.ErrCodeMissingAuth,
				Action:     "Set OPENAI_API_KEY in your .env file, or set NATURELENS_PROVIDER=gemini",
				ExitCode:   core.ExitCodeConfig,
				ExitStatus: "configuration error",
			},
		},
		{
			name: "ingest",
			err:  fmt.Errorf("a.png: %w", pipeline.ErrInvalidInput),
			code: core.ExitCodeIngestFailed,
			want: errorReport{
				Error:      "a.png: pipeline: invalid input image",
				ExitCode:   core.ExitCodeIngestFailed,
				ExitStatus: "ingest failed",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printError(&buf, tt.err, tt.code, true)

			var got errorReport
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("decode %q: %v", buf.String(), err)
			}
			if got != tt.want {
				t.Errorf("report = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAppExitCodeUsesSignal(t *testing.T) {
	a := newApp()
	if got := a.exitCode(context.Canceled); got != core.ExitCodeSIGINT {
		t.Errorf("exitCode without manager = %d, want %d", got, core.ExitCodeSIGINT)
	}

	a.shutdown = shutdown.NewManager(nil)
	if got := a.exitCode(context.Canceled); got != core.ExitCodeSIGINT {
		t.Errorf("exitCode before any signal = %d, want %d", got, core.ExitCodeSIGINT)
	}
	if got := a.exitCode(errors.New("boom")); got != core.ExitCodeError {
		t.Errorf("exitCode(other) = %d, want %d", got, core.ExitCodeError)
	}
}

func TestParseRetention(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"72h", 72 * time.Hour, false},
		{" 90m ", 90 * time.Minute, false},
		{"-1d", 0, true},
		{"-5h", 0, true},
		{"soon", 0, true},
		{"d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRetention(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRetention(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseRetention(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUploadMIMEType(t *testing.T) {
	tests := map[string]string{
		"IMG_0042.HEIC":  "image/heic",
		"burst.heif":     "image/heif",
		"fox.png":        "image/png",
		"notes.unknownx": "",
	}
	for path, want := range tests {
		if got := uploadMIMEType(path); got != want {
			t.Errorf("uploadMIMEType(%q) = %q, want %q", path, got, want)
		}
	}
}

// testEnv isolates configuration from the developer's environment.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NATURELENS_DATA_DIR", dir)
	t.Setenv("NATURELENS_DB_PATH", "")
	t.Setenv("NATURELENS_DOWNLOADS_DIR", "")
	t.Setenv("NATURELENS_LOG_FILE", "")
	t.Setenv("NATURELENS_STORE", "file")
	t.Setenv("NATURELENS_PROVIDER", "gemini")
	t.Setenv("NATURELENS_REJECT_UNKNOWN", "")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return dir
}

type fakeModels struct {
	species    string
	summaries  atomic.Int32
	classified atomic.Int32
	image      []byte
}

func (f *fakeModels) Classify(ctx context.Context, data []byte, mimeType string) (collection.AnalysisResult, error) {
	f.classified.Add(1)
	return collection.AnalysisResult{
		Species:        f.species,
		ScientificName: "Vulpes vulpes",
		Confidence:     0.93,
		Description:    "A small omnivore.",
		Habitat:        "Woodland edges",
		Category:       "Mammal",
	}, nil
}

func (f *fakeModels) Complete(ctx context.Context, prompt string) (string, error) {
	return "Sly and shy.", nil
}

func (f *fakeModels) Name() string { return "fake" }

func (f *fakeModels) Summarize(ctx context.Context, species string) enrich.Summary {
	f.summaries.Add(1)
	return enrich.Summary{Text: species + " live on every continent.", URL: "https://example.org/fox"}
}

func (f *fakeModels) Generate(ctx context.Context, req imagegen.GenerateRequest) (imagegen.Image, error) {
	return imagegen.Image{Data: f.image, MIMEType: "image/png"}, nil
}

func (f *fakeModels) Edit(ctx context.Context, req imagegen.EditRequest) (imagegen.Image, error) {
	return imagegen.Image{Data: f.image, MIMEType: "image/png"}, nil
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 8))
	for x := 0; x < 12; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 20), G: 90, B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestApp(models *fakeModels) *app {
	a := newApp()
	a.newLogger = func(*core.Config) (*logging.Logger, error) {
		return logging.NewNop(), nil
	}
	a.newServices = func(ctx context.Context, cfg *core.Config, m *metrics.Metrics, logger *logging.Logger) (*services, error) {
		return &services{
			classifier: models,
			captioner:  enrich.NewCaptioner(models, logger),
			summarizer: models,
			images:     models,
			modelName:  "fake",
		}, nil
	}
	return a
}

// runCLI executes one command in a fresh app, as a separate process would.
func runCLI(t *testing.T, models *fakeModels, args ...string) (string, error) {
	t.Helper()
	a := newTestApp(models)
	cmd := newRootCommand(a)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return stdout.String(), err
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, testImage(t), 0600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestIngestThenListAcrossRuns(t *testing.T) {
	dir := testEnv(t)
	models := &fakeModels{species: "Red Fox"}
	first := writeImage(t, dir, "fox1.png")
	second := writeImage(t, dir, "fox2.png")

	out, err := runCLI(t, models, "--json", "ingest", first, second)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var outcomes []ingestOutcome
	if err := json.Unmarshal([]byte(out), &outcomes); err != nil {
		t.Fatalf("decode ingest output %q: %v", out, err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Error != "" || o.Album != "red fox" || o.Photo == nil {
			t.Errorf("outcome = %+v, want success in album red fox", o)
			continue
		}
		if !o.Photo.Verified || o.Photo.Caption != "Sly and shy." {
			t.Errorf("photo = %+v, want verified with caption", *o.Photo)
		}
	}

	out, err = runCLI(t, models, "--json", "albums")
	if err != nil {
		t.Fatalf("albums: %v", err)
	}
	var albums []albumView
	if err := json.Unmarshal([]byte(out), &albums); err != nil {
		t.Fatalf("decode albums output: %v", err)
	}
	if len(albums) != 1 || albums[0].Key != "red fox" || len(albums[0].Photos) != 2 {
		t.Fatalf("albums = %+v, want one red fox album with 2 photos", albums)
	}
	if albums[0].Photos[0].ID != outcomes[1].PhotoID {
		t.Errorf("newest photo = %s, want %s", albums[0].Photos[0].ID, outcomes[1].PhotoID)
	}

	out, err = runCLI(t, models, "recent")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if !strings.Contains(out, "Red Fox") || !strings.Contains(out, "93% ✓") {
		t.Errorf("recent table missing photo row:\n%s", out)
	}
}

func TestIngestReportsPerFileFailures(t *testing.T) {
	dir := testEnv(t)
	models := &fakeModels{species: "Red Fox"}
	good := writeImage(t, dir, "fox.png")
	bad := filepath.Join(dir, "notes.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, models, "ingest", bad, good)
	if err == nil {
		t.Fatal("ingest succeeded, want error for the invalid file")
	}
	if got := exitCode(err); got != core.ExitCodeIngestFailed {
		t.Errorf("exitCode = %d, want %d (err %v)", got, core.ExitCodeIngestFailed, err)
	}
	if !strings.Contains(out, "✗ "+bad) || !strings.Contains(out, "✓ Red Fox") {
		t.Errorf("output should report both files:\n%s", out)
	}
	if models.classified.Load() != 1 {
		t.Errorf("classified %d images, want 1", models.classified.Load())
	}
}

func TestOpenEnrichesOnce(t *testing.T) {
	dir := testEnv(t)
	models := &fakeModels{species: "Red Fox"}
	if _, err := runCLI(t, models, "-q", "ingest", writeImage(t, dir, "fox.png")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	for i := 0; i < 2; i++ {
		out, err := runCLI(t, models, "--json", "open", "  RED FOX ")
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		var album albumView
		if err := json.Unmarshal([]byte(out), &album); err != nil {
			t.Fatalf("decode open output: %v", err)
		}
		if !album.Enriched || album.Source != "https://example.org/fox" {
			t.Errorf("open #%d album = %+v, want enriched", i+1, album)
		}
	}
	if n := models.summaries.Load(); n != 1 {
		t.Errorf("summaries fetched %d times, want 1", n)
	}

	_, err := runCLI(t, models, "open", "dodo")
	if err == nil || !strings.Contains(err.Error(), "no album") {
		t.Errorf("open dodo error = %v, want not found", err)
	}
}

func TestGenerateAndEdit(t *testing.T) {
	testEnv(t)
	models := &fakeModels{species: "Snowy Owl", image: testImage(t)}

	out, err := runCLI(t, models, "--json", "generate", "--aspect", "1:1", "--size", "1k", "an", "owl")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var generated ingestOutcome
	if err := json.Unmarshal([]byte(out), &generated); err != nil {
		t.Fatalf("decode generate output: %v", err)
	}
	if generated.Photo == nil || generated.Photo.Source != string(collection.SourceGenerated) {
		t.Fatalf("generated = %+v, want generated photo", generated)
	}
	if generated.Input != "an owl" {
		t.Errorf("input = %q, want joined prompt", generated.Input)
	}

	out, err = runCLI(t, models, "--json", "edit", generated.PhotoID, "add", "snow")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	var edited ingestOutcome
	if err := json.Unmarshal([]byte(out), &edited); err != nil {
		t.Fatalf("decode edit output: %v", err)
	}
	if edited.PhotoID == generated.PhotoID || edited.Photo.Source != string(collection.SourceEdited) {
		t.Errorf("edited = %+v, want a new edited photo", edited)
	}

	if _, err := runCLI(t, models, "generate", "--aspect", "5:4", "owl"); !errors.Is(err, imagegen.ErrInvalidOption) {
		t.Errorf("bad aspect error = %v, want ErrInvalidOption", err)
	}
	if _, err := runCLI(t, models, "edit", "missing", "add snow"); err == nil {
		t.Error("edit of unknown photo succeeded")
	}
}

func TestExportAndSave(t *testing.T) {
	dir := testEnv(t)
	models := &fakeModels{species: "Red Fox"}
	out, err := runCLI(t, models, "--json", "ingest", writeImage(t, dir, "fox.png"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var outcomes []ingestOutcome
	if err := json.Unmarshal([]byte(out), &outcomes); err != nil {
		t.Fatal(err)
	}
	photoID := outcomes[0].PhotoID

	yamlOut, err := runCLI(t, models, "export", "--format", "yaml")
	if err != nil {
		t.Fatalf("export yaml: %v", err)
	}
	if !strings.Contains(yamlOut, "species: Red Fox") || !strings.Contains(yamlOut, "recent_photos:") {
		t.Errorf("yaml export missing fields:\n%s", yamlOut)
	}
	if strings.Contains(yamlOut, "base64") {
		t.Error("yaml export contains image payloads")
	}

	full := filepath.Join(dir, "backup.json")
	if _, err := runCLI(t, models, "export", "--full", "-o", full); err != nil {
		t.Fatalf("export full: %v", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatal(err)
	}
	c, err := collection.Decode(data)
	if err != nil {
		t.Fatalf("full export is not a collection blob: %v", err)
	}
	if len(c.RecentPhotos) != 1 || !strings.HasPrefix(c.RecentPhotos[0].URL, "data:image/png;base64,") {
		t.Errorf("full export recent = %+v, want one embedded png", c.RecentPhotos)
	}

	if _, err := runCLI(t, models, "export", "--full", "--format", "yaml"); err == nil {
		t.Error("--full with yaml succeeded")
	}

	saved := filepath.Join(dir, "out.png")
	if _, err := runCLI(t, models, "-q", "save", photoID, saved); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := os.ReadFile(saved)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, testImage(t)) {
		t.Error("saved image differs from the ingested one")
	}
}

func TestHistoryWithSQLite(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("NATURELENS_STORE", "sqlite")
	models := &fakeModels{species: "Red Fox"}

	if _, err := runCLI(t, models, "-q", "ingest", writeImage(t, dir, "fox.png")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	out, err := runCLI(t, models, "--json", "history", "--species", "Red Fox")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var records []struct {
		Status     string
		SpeciesKey string
		Source     string
	}
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(records) != 1 || records[0].Status != "success" || records[0].SpeciesKey != "red fox" {
		t.Errorf("history = %+v, want one successful red fox ingest", records)
	}

	out, err = runCLI(t, models, "--json", "history", "prune", "--older-than", "0d")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, `"removed": 1`) {
		t.Errorf("prune output = %s, want one removed", out)
	}
}

func TestHistoryRequiresSQLite(t *testing.T) {
	testEnv(t)
	_, err := runCLI(t, &fakeModels{}, "history")
	if err == nil || !strings.Contains(err.Error(), "sqlite") {
		t.Errorf("history on file store error = %v, want sqlite requirement", err)
	}
}

func TestMissingKeyIsConfigError(t *testing.T) {
	testEnv(t)
	t.Setenv("GEMINI_API_KEY", "")

	_, err := runCLI(t, &fakeModels{}, "ingest", "fox.png")
	if got := exitCode(err); got != core.ExitCodeConfig {
		t.Errorf("exitCode = %d, want %d (err %v)", got, core.ExitCodeConfig, err)
	}

	// read-only commands work without keys
	if _, err := runCLI(t, &fakeModels{}, "albums"); err != nil {
		t.Errorf("albums without key: %v", err)
	}
}

func TestDoctorOffline(t *testing.T) {
	testEnv(t)
	t.Setenv("GEMINI_API_KEY", "")

	out, err := runCLI(t, &fakeModels{}, "--json", "doctor", "--offline")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	var report struct {
		Success bool
		Steps   []doctorStep
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode doctor report: %v", err)
	}
	if !report.Success {
		t.Errorf("doctor report = %+v, want success", report)
	}
	names := make([]string, 0, len(report.Steps))
	for _, s := range report.Steps {
		names = append(names, s.Name)
	}
	if !strings.Contains(strings.Join(names, ","), "Collection") {
		t.Errorf("steps = %v, want a Collection check", names)
	}
}

func TestMetricsTextfileWrittenOnExit(t *testing.T) {
	dir := testEnv(t)
	models := &fakeModels{species: "Red Fox"}
	prom := filepath.Join(dir, "naturelens.prom")

	if _, err := runCLI(t, models, "-q", "--metrics-file", prom, "ingest", writeImage(t, dir, "fox.png")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	data, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(data), `naturelens_ingests_total{source="upload",status="success"} 1`) {
		t.Errorf("metrics file missing ingest counter:\n%s", data)
	}
}

func TestMetricsTextfileIncludesHistoryWriter(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("NATURELENS_STORE", "sqlite")
	prom := filepath.Join(dir, "naturelens.prom")

	if _, err := runCLI(t, &fakeModels{species: "Red Fox"}, "-q", "--metrics-file", prom, "ingest", writeImage(t, dir, "fox.png")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	data, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	for _, want := range []string{
		`naturelens_history_writes_lost_total{reason="dropped"} 0`,
		`naturelens_history_writes_lost_total{reason="failed"} 0`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics file missing %s:\n%s", want, data)
		}
	}
}

func TestDBSchemaCommands(t *testing.T) {
	testEnv(t)
	t.Setenv("NATURELENS_STORE", "sqlite")
	models := &fakeModels{}

	schema := func(args ...string) schemaView {
		t.Helper()
		out, err := runCLI(t, models, append([]string{"--json", "db"}, args...)...)
		if err != nil {
			t.Fatalf("db %v: %v", args, err)
		}
		var view schemaView
		if err := json.Unmarshal([]byte(out), &view); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		return view
	}

	if v := schema("migrate"); v.Version != 2 || v.Dirty {
		t.Errorf("after migrate = %+v, want v2 clean", v)
	}
	if v := schema("rollback"); v.Version != 1 {
		t.Errorf("after rollback = %+v, want v1", v)
	}
	if v := schema("rollback", "--all"); v.Version != 0 {
		t.Errorf("after rollback --all = %+v, want v0", v)
	}
	if v := schema("version"); v.Version != 0 {
		t.Errorf("version = %+v, want v0", v)
	}
	if _, err := runCLI(t, models, "db", "rollback", "--steps", "0"); err == nil {
		t.Error("rollback --steps 0 succeeded")
	}

	t.Setenv("NATURELENS_STORE", "file")
	if _, err := runCLI(t, models, "db", "version"); err == nil || !strings.Contains(err.Error(), "sqlite") {
		t.Errorf("db version on file store error = %v, want sqlite requirement", err)
	}
}

func TestDoctorReportsLastSave(t *testing.T) {
	for _, store := range []string{"file", "sqlite"} {
		t.Run(store, func(t *testing.T) {
			dir := testEnv(t)
			t.Setenv("NATURELENS_STORE", store)
			models := &fakeModels{species: "Red Fox"}
			if _, err := runCLI(t, models, "-q", "ingest", writeImage(t, dir, "fox.png")); err != nil {
				t.Fatalf("ingest: %v", err)
			}

			out, err := runCLI(t, models, "--json", "doctor", "--offline")
			if err != nil {
				t.Fatalf("doctor: %v\n%s", err, out)
			}
			var report struct {
				Steps []doctorStep
			}
			if err := json.Unmarshal([]byte(out), &report); err != nil {
				t.Fatalf("decode doctor report: %v", err)
			}
			var msg string
			for _, s := range report.Steps {
				if s.Name == "Collection" {
					msg = s.Message
				}
			}
			if !strings.Contains(msg, "1 album") || !strings.Contains(msg, "saved ") {
				t.Errorf("Collection message = %q, want album count and last save", msg)
			}
		})
	}
}
