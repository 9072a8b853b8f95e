package db

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"naturelens/collection"
)

func TestBlobStore_LoadMissing(t *testing.T) {
	store := NewBlobStore(openTestDatabase(t), "")

	data, err := store.Load(context.Background())
	if err != nil || data != nil {
		t.Errorf("Load() = %q, %v, want nil, nil", data, err)
	}
	if _, ok, err := store.UpdatedAt(context.Background()); ok || err != nil {
		t.Errorf("UpdatedAt() ok = %v, err = %v", ok, err)
	}
}

func TestBlobStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(openTestDatabase(t), "")

	for i := 0; i < 3; i++ {
		if err := store.Save(ctx, []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
	}
	data, err := store.Load(ctx)
	if err != nil || string(data) != "v2" {
		t.Errorf("Load() = %q, %v, want v2", data, err)
	}
	if _, ok, _ := store.UpdatedAt(ctx); !ok {
		t.Error("UpdatedAt() reports no blob after save")
	}
}

func TestBlobStore_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	database := openTestDatabase(t)
	a := NewBlobStore(database, "a")
	b := NewBlobStore(database, "b")

	a.Save(ctx, []byte("alpha"))
	if data, _ := b.Load(ctx); data != nil {
		t.Errorf("namespace b sees %q", data)
	}
}

func TestBlobStore_BacksCollectionStore(t *testing.T) {
	ctx := context.Background()
	database := openTestDatabase(t)

	store := collection.Open(ctx, NewBlobStore(database, collection.Namespace), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Merge(ctx, collection.Photo{
				ID:       fmt.Sprintf("p%d", i),
				URL:      "data:image/png;base64,AAAA",
				Analysis: collection.AnalysisResult{Species: []string{"Robin", "Wren"}[i%2], Confidence: 0.9},
				Source:   collection.SourceUpload,
			})
			if err != nil {
				t.Errorf("Merge() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	reopened := collection.Open(ctx, NewBlobStore(database, collection.Namespace), nil)
	if reopened.LoadErr() != nil {
		t.Fatalf("LoadErr() = %v", reopened.LoadErr())
	}
	robin, _ := reopened.Album("robin")
	wren, _ := reopened.Album("wren")
	if len(robin.Photos)+len(wren.Photos) != 20 {
		t.Errorf("persisted %d photos, want 20", len(robin.Photos)+len(wren.Photos))
	}
	if len(reopened.Recent()) != collection.MaxRecentPhotos {
		t.Errorf("recent = %d, want %d", len(reopened.Recent()), collection.MaxRecentPhotos)
	}
}

func TestBlobStore_CorruptBlobGivesEmptyCollection(t *testing.T) {
	ctx := context.Background()
	backend := NewBlobStore(openTestDatabase(t), "")
	backend.Save(ctx, []byte("{not json"))

	store := collection.Open(ctx, backend, nil)
	if store.LoadErr() == nil {
		t.Error("LoadErr() = nil for corrupt blob")
	}
	if len(store.Albums()) != 0 {
		t.Error("corrupt blob produced albums")
	}
}
