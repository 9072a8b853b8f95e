package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"naturelens/logging"
)

// DefaultChannelCapacity is the default buffer size for async write channels.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout is the maximum time to wait for pending writes during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// WriteOperation is one queued write.
type WriteOperation struct {
	Data      interface{}
	Timestamp time.Time
}

// WriteHandler processes one queued write. Errors are logged by the writer.
type WriteHandler func(ctx context.Context, op WriteOperation) error

// AsyncWriter moves writes off the caller's path: a buffered channel
// drained by one background goroutine. History rows go through it so a
// slow disk never delays an ingest.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	logger    *logging.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	config    AsyncWriterConfig

	mu      sync.Mutex
	started bool
	stopped bool

	failed  atomic.Int64
	dropped atomic.Int64
}

// AsyncWriterConfig holds configuration for the async writer.
type AsyncWriterConfig struct {
	// ChannelCapacity is the buffer size for pending writes
	ChannelCapacity int
	// DrainTimeout is the maximum wait time during shutdown
	DrainTimeout time.Duration
}

// DefaultAsyncWriterConfig returns the default configuration.
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		ChannelCapacity: DefaultChannelCapacity,
		DrainTimeout:    DefaultDrainTimeout,
	}
}

// NewAsyncWriter creates a writer; call Start before writing.
func NewAsyncWriter(handler WriteHandler, config AsyncWriterConfig, logger *logging.Logger) *AsyncWriter {
	if config.ChannelCapacity <= 0 {
		config.ChannelCapacity = DefaultChannelCapacity
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AsyncWriter{
		writeChan: make(chan WriteOperation, config.ChannelCapacity),
		handler:   handler,
		logger:    logger.Named("db.async"),
		ctx:       ctx,
		cancel:    cancel,
		config:    config,
	}
}

// Start launches the background goroutine. Calling it twice is a no-op.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.drainChannel()
			return
		case op := <-w.writeChan:
			w.handle(op)
		}
	}
}

func (w *AsyncWriter) drainChannel() {
	for {
		select {
		case op := <-w.writeChan:
			w.handle(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) handle(op WriteOperation) {
	// handlers run after cancel during drain, so they get a live context
	if err := w.handler(context.WithoutCancel(w.ctx), op); err != nil {
		w.failed.Add(1)
		w.logger.Warn("async write failed",
			zap.Error(err),
			zap.Duration("queued_for", time.Since(op.Timestamp)))
	}
}

// Write queues data without blocking. It returns false when the writer is
// not running or the buffer is full.
func (w *AsyncWriter) Write(data interface{}) bool {
	// holding mu orders the send before Stop's drain
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return false
	}
	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Pending returns the number of operations waiting in the buffer.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Stats reports handler failures and writes refused because the buffer was full.
func (w *AsyncWriter) Stats() (failed, dropped int64) {
	return w.failed.Load(), w.dropped.Load()
}

// Stop drains pending writes for at most the configured drain timeout.
// It reports whether the drain finished in time.
func (w *AsyncWriter) Stop() bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return true
	}
	w.stopped = true
	w.started = false
	w.mu.Unlock()

	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(w.config.DrainTimeout):
		w.logger.Warn("async writer drain timed out", zap.Int("pending", w.Pending()))
		return false
	}
}
