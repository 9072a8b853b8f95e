package collection

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// FileBackend stores the blob as <dir>/naturelens-data.json.
//
// Writes go to a temp file renamed over the target, under an exclusive
// flock so two CLI processes never interleave writes. Reads take a shared lock.
type FileBackend struct {
	path string
	lock *flock.Flock
}

var (
	_ Backend     = (*FileBackend)(nil)
	_ Timestamped = (*FileBackend)(nil)
)

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("collection: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, Namespace+".json")
	return &FileBackend{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the blob file path.
func (f *FileBackend) Path() string {
	return f.path
}

// UpdatedAt returns the blob file's modification time.
func (f *FileBackend) UpdatedAt(ctx context.Context) (time.Time, bool, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}

func (f *FileBackend) Load(ctx context.Context) ([]byte, error) {
	locked, err := f.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("collection: shared lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("collection: shared lock on %s not acquired", f.path)
	}
	defer f.lock.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (f *FileBackend) Save(ctx context.Context, data []byte) error {
	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("collection: exclusive lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("collection: exclusive lock on %s not acquired", f.path)
	}
	defer f.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), Namespace+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
