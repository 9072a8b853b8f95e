package collection

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_LoadMissing(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	data, err := backend.Load(context.Background())
	if err != nil || data != nil {
		t.Errorf("Load() = %q, %v, want nil, nil", data, err)
	}
	if _, ok, err := backend.UpdatedAt(context.Background()); ok || err != nil {
		t.Errorf("UpdatedAt() ok = %v, err = %v, want nothing saved", ok, err)
	}
}

func TestFileBackend_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if filepath.Base(backend.Path()) != Namespace+".json" {
		t.Errorf("Path() = %s, want %s.json", backend.Path(), Namespace)
	}

	ctx := context.Background()
	if err := backend.Save(ctx, []byte(`{"albums":{},"recentPhotos":[]}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := backend.Save(ctx, []byte(`{"albums":{},"recentPhotos":null}`)); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	data, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(data) != `{"albums":{},"recentPhotos":null}` {
		t.Errorf("Load() = %s, want last saved blob", data)
	}
	if updated, ok, err := backend.UpdatedAt(ctx); !ok || err != nil || updated.IsZero() {
		t.Errorf("UpdatedAt() = %v, %v, %v after save", updated, ok, err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileBackend_StoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, _ := NewFileBackend(dir)
	store := Open(ctx, backend, nil)
	store.Merge(ctx, testPhoto("p1", "Hedgehog"))

	backend2, _ := NewFileBackend(dir)
	reopened := Open(ctx, backend2, nil)
	if _, ok := reopened.Album("hedgehog"); !ok {
		t.Error("album not persisted to file")
	}
}

func TestFileBackend_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	backend, _ := NewFileBackend(dir)
	if err := os.WriteFile(backend.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	store := Open(context.Background(), backend, nil)
	if store.LoadErr() == nil {
		t.Error("expected LoadErr for corrupt file")
	}
	if len(store.Albums()) != 0 {
		t.Error("corrupt file should load as empty collection")
	}
}
