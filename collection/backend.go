package collection

import (
	"context"
	"sync"
	"time"
)

// Namespace is the fixed key the collection blob is stored under.
const Namespace = "naturelens-data"

// Backend stores the serialized collection. Load returns (nil, nil) when
// nothing has been saved yet.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Timestamped is implemented by backends that know when the blob was last
// saved. ok is false when nothing has been saved.
type Timestamped interface {
	UpdatedAt(ctx context.Context) (t time.Time, ok bool, err error)
}

// MemoryBackend keeps the blob in memory. Used for tests and NATURELENS_STORE=memory.
type MemoryBackend struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns a backend preloaded with data (may be nil).
func NewMemoryBackend(data []byte) *MemoryBackend {
	return &MemoryBackend{data: append([]byte(nil), data...)}
}

func (m *MemoryBackend) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryBackend) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Data returns a copy of the last saved blob.
func (m *MemoryBackend) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
