package collection

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"naturelens/logging"
)

// Store is the single owner of the Collection. All mutation goes through
// Merge and SetEnrichment; every mutation is followed by a full save.
//
// State changes happen under mu. Saving happens outside mu so a slow backend
// never blocks readers or other merges. Each change takes a sequence number.
// A save always writes the newest state, not the state of the change that
// triggered it, and is skipped when a later save already covered that change.
// A failed save therefore never leaves an older state to be written after it.
type Store struct {
	mu    sync.RWMutex
	state *Collection
	seq   uint64

	saveMu   sync.Mutex
	savedSeq uint64

	backend Backend
	logger  *logging.Logger
	loadErr error
}

// Open loads the collection from backend. A missing blob gives an empty
// collection. An unreadable or corrupt blob is logged and also gives an
// empty collection; LoadErr reports it.
func Open(ctx context.Context, backend Backend, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Store{
		state:   NewCollection(),
		backend: backend,
		logger:  logger.Named("store"),
	}

	data, err := backend.Load(ctx)
	if err != nil {
		s.loadErr = &PersistenceError{Op: "load", Err: err}
		s.logger.Warn("collection unreadable, starting empty", zap.Error(err))
		return s
	}

	c, err := Decode(data)
	if err != nil {
		s.loadErr = &PersistenceError{Op: "decode", Err: err}
		s.logger.Warn("collection corrupt, starting empty",
			zap.Error(err),
			zap.Int("bytes", len(data)))
		return s
	}

	s.state = c
	s.logger.Debug("collection loaded",
		zap.Int("albums", len(c.Order)),
		zap.Int("recent", len(c.RecentPhotos)))
	return s
}

// LoadErr returns the *PersistenceError from Open, if any.
func (s *Store) LoadErr() error {
	return s.loadErr
}

// Merge files photo into the album for its species key and into the recent
// feed, then saves. The returned key is valid even when err is a
// *PersistenceError: the merge itself has already happened.
func (s *Store) Merge(ctx context.Context, photo Photo) (string, error) {
	key := SpeciesKey(photo.Analysis.Species)
	if key == "" || photo.URL == "" {
		return "", ErrInvalidPhoto
	}

	s.mu.Lock()
	album, exists := s.state.Albums[key]
	if exists {
		album.Photos = append([]Photo{photo}, album.Photos...)
		album.Name = strings.TrimSpace(photo.Analysis.Species)
	} else {
		album = Album{
			ID:            key,
			Name:          strings.TrimSpace(photo.Analysis.Species),
			CoverPhotoURL: photo.URL,
			Photos:        []Photo{photo},
		}
		s.state.Order = append(s.state.Order, key)
	}
	s.state.Albums[key] = album
	s.state.RecentPhotos = prependRecent(s.state.RecentPhotos, photo)
	seq := s.commitLocked()
	s.mu.Unlock()

	s.logger.Debug("photo merged",
		zap.String("species_key", key),
		zap.String("photo_id", photo.ID),
		zap.Bool("new_album", !exists),
		zap.Int("album_size", len(album.Photos)))

	return key, s.persist(ctx, seq)
}

// SetEnrichment stores the grounded summary for an album. It is a no-op
// returning false when the album already has a summary.
func (s *Store) SetEnrichment(ctx context.Context, key, summary, url string) (bool, error) {
	s.mu.Lock()
	album, ok := s.state.Albums[key]
	if !ok {
		s.mu.Unlock()
		return false, ErrAlbumNotFound
	}
	if album.Enriched() {
		s.mu.Unlock()
		return false, nil
	}
	album.WikiSummary = summary
	album.WikiURL = url
	s.state.Albums[key] = album
	seq := s.commitLocked()
	s.mu.Unlock()

	return true, s.persist(ctx, seq)
}

// Album returns a copy of the album for key.
func (s *Store) Album(key string) (Album, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	album, ok := s.state.Albums[key]
	if !ok {
		return Album{}, false
	}
	return album.clone(), true
}

// Albums returns copies of all albums in insertion order.
func (s *Store) Albums() []Album {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Album, 0, len(s.state.Order))
	for _, key := range s.state.Order {
		out = append(out, s.state.Albums[key].clone())
	}
	return out
}

// Recent returns the recent photos feed, newest first.
func (s *Store) Recent() []Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Photo(nil), s.state.RecentPhotos...)
}

// Photo finds a photo by id in any album.
func (s *Store) Photo(id string) (Photo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.state.Order {
		for _, p := range s.state.Albums[key].Photos {
			if p.ID == id {
				return p, true
			}
		}
	}
	return Photo{}, false
}

// Counts returns the number of albums and recent photos.
func (s *Store) Counts() (albums, recent int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Order), len(s.state.RecentPhotos)
}

// Snapshot returns a deep copy of the current collection.
func (s *Store) Snapshot() *Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// commitLocked records a change. Caller holds mu.
func (s *Store) commitLocked() uint64 {
	s.seq++
	return s.seq
}

// latest snapshots state with its sequence. Photo slices are always
// replaced, never written in place, so the snapshot can share them.
func (s *Store) latest() (uint64, *Collection) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := &Collection{
		Albums:       make(map[string]Album, len(s.state.Albums)),
		Order:        append([]string(nil), s.state.Order...),
		RecentPhotos: s.state.RecentPhotos,
	}
	for k, v := range s.state.Albums {
		snapshot.Albums[k] = v
	}
	return s.seq, snapshot
}

// persist makes sure change seq reaches the backend.
func (s *Store) persist(ctx context.Context, seq uint64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if seq <= s.savedSeq {
		return nil
	}
	seq, snapshot := s.latest()

	data, err := Encode(snapshot)
	if err != nil {
		return &PersistenceError{Op: "encode", Err: err}
	}

	// a caller that gave up must not leave the blob behind the in-memory state
	if err := s.backend.Save(context.WithoutCancel(ctx), data); err != nil {
		s.logger.Warn("collection save failed", zap.Error(err), zap.Uint64("seq", seq))
		return &PersistenceError{Op: "save", Err: err}
	}
	s.savedSeq = seq
	return nil
}

func prependRecent(recent []Photo, photo Photo) []Photo {
	n := len(recent) + 1
	if n > MaxRecentPhotos {
		n = MaxRecentPhotos
	}
	out := make([]Photo, 0, n)
	out = append(out, photo)
	for _, p := range recent {
		if len(out) == n {
			break
		}
		out = append(out, p)
	}
	return out
}
