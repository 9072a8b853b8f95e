package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"naturelens/collection"
)

// BlobStore keeps one blob per namespace in the collection_blobs table.
// It implements collection.Backend.
type BlobStore struct {
	db        *Database
	namespace string
}

// NewBlobStore returns a store for namespace. An empty namespace means
// collection.Namespace.
func NewBlobStore(db *Database, namespace string) *BlobStore {
	if namespace == "" {
		namespace = collection.Namespace
	}
	return &BlobStore{db: db, namespace: namespace}
}

// Load returns the stored blob, or nil when none has been saved yet.
func (s *BlobStore) Load(ctx context.Context) ([]byte, error) {
	row, err := s.db.QueryRowContext(ctx, `SELECT data FROM collection_blobs WHERE namespace = ?`, s.namespace)
	if err != nil {
		return nil, err
	}

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read collection blob: %w", err)
	}
	return data, nil
}

// Save replaces the blob for the namespace.
func (s *BlobStore) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_blobs (namespace, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.namespace, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write collection blob: %w", err)
	}
	return nil
}

// UpdatedAt reports when the blob was last saved. ok is false when no blob exists.
func (s *BlobStore) UpdatedAt(ctx context.Context) (t time.Time, ok bool, err error) {
	row, err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM collection_blobs WHERE namespace = ?`, s.namespace)
	if err != nil {
		return time.Time{}, false, err
	}

	var ms int64
	if err := row.Scan(&ms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read collection blob: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

var (
	_ collection.Backend     = (*BlobStore)(nil)
	_ collection.Timestamped = (*BlobStore)(nil)
)
