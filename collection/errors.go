package collection

import (
	"errors"
	"fmt"
)

var (
	// ErrAlbumNotFound is returned for a species key with no album.
	ErrAlbumNotFound = errors.New("collection: album not found")

	// ErrInvalidPhoto is returned when merging a photo without species or url.
	ErrInvalidPhoto = errors.New("collection: photo needs a species and a url")
)

// PersistenceError reports a failed load or save of the collection blob.
// It is never fatal: a failed load starts from an empty collection and a
// failed save leaves the in-memory state intact for the next save.
type PersistenceError struct {
	Op  string // "load", "decode", "encode" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("collection: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
