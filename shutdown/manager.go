// Package shutdown coordinates a graceful exit: it stops new work, waits for
// in-flight ingests and enrichments, then runs cleanup hooks in priority order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"naturelens/core"
	"naturelens/logging"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

var (
	// ErrClosed is returned by WrapOperation once shutdown has begun.
	ErrClosed = errors.New("shutdown: not accepting new operations")
	// ErrWaitTimeout is returned when in-flight operations outlive the timeout.
	ErrWaitTimeout = errors.New("shutdown: timed out waiting for operations")
)

// Func is a cleanup hook. It should honor ctx and return promptly.
type Func func(ctx context.Context) error

type hook struct {
	name     string
	priority int
	fn       Func
}

// Manager tracks in-flight operations and runs cleanup hooks on shutdown.
//
// Hook priorities, lowest first:
//   - 0-9: stop producers (async writers)
//   - 10-29: flush state (metrics textfile)
//   - 30-39: close storage
//   - 40+: remove temp files, sync logs
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	exit    func(code int)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	hooks    []hook
	started  bool
	closed   bool
	finished bool
	inflight sync.WaitGroup
	active   atomic.Int64
	signals  atomic.Int32
	first    atomic.Value // os.Signal
	sigCh    chan os.Signal
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithExitFunc replaces os.Exit for the forced exit on a second signal.
func WithExitFunc(exit func(code int)) Option {
	return func(m *Manager) {
		m.exit = exit
	}
}

// NewManager returns a Manager whose Context is cancelled by the first
// SIGINT or SIGTERM once Start has been called.
func NewManager(logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:  logger.Named("shutdown"),
		timeout: DefaultTimeout,
		exit:    os.Exit,
		ctx:     ctx,
		cancel:  cancel,
		sigCh:   make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when a shutdown signal arrives or Shutdown runs.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup hook. Hooks with equal priority run in
// registration order.
func (m *Manager) Register(name string, priority int, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, priority: priority, fn: fn})
	sort.SliceStable(m.hooks, func(i, j int) bool {
		return m.hooks[i].priority < m.hooks[j].priority
	})
	m.logger.Debug("registered shutdown hook", zap.String("name", name), zap.Int("priority", priority))
}

// Hooks returns hook names in execution order.
func (m *Manager) Hooks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.hooks))
	for i, h := range m.hooks {
		names[i] = h.name
	}
	return names
}

// Start listens for SIGINT and SIGTERM. A second signal exits immediately.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigCh {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.signals.Add(1) > 1 {
		code := ExitCode(sig)
		m.logger.Warn("second signal received, exiting now",
			zap.String("signal", sig.String()),
			zap.Int64("abandoned", m.ActiveOperations()),
			zap.Int("exit_code", code),
			zap.String("exit_status", core.ExitCodeName(code)))
		m.exit(code)
		return
	}
	m.first.Store(sig)
	m.logger.Info("shutdown signal received, finishing in-flight work",
		zap.String("signal", sig.String()),
		zap.Int64("active", m.ActiveOperations()))
	m.cancel()
}

// ExitCode maps a shutdown signal onto the 128+n exit status.
func ExitCode(sig os.Signal) int {
	if sig == syscall.SIGTERM {
		return core.ExitCodeSIGTERM
	}
	return core.ExitCodeSIGINT
}

// Interrupted returns the first shutdown signal received, if any.
func (m *Manager) Interrupted() (os.Signal, bool) {
	sig, ok := m.first.Load().(os.Signal)
	return sig, ok
}

// WrapOperation runs fn as a tracked operation. It returns ErrClosed without
// running fn once Shutdown has begun. fn receives ctx unchanged; if ctx is
// the manager's Context, fn sees it cancelled when a signal arrives or
// Shutdown runs. Callers whose work must finish detach it themselves.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Debug("operation rejected", zap.String("operation", name))
		return fmt.Errorf("%s: %w", name, ErrClosed)
	}
	m.inflight.Add(1)
	m.active.Add(1)
	m.mu.Unlock()

	defer func() {
		m.active.Add(-1)
		m.inflight.Done()
	}()
	return fn(ctx)
}

// ActiveOperations returns the number of operations in flight.
func (m *Manager) ActiveOperations() int64 {
	return m.active.Load()
}

// Shutdown rejects new operations, waits for in-flight ones, then runs
// every hook even if earlier ones fail. It is idempotent.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.finished = true
	hooks := append([]hook(nil), m.hooks...)
	m.mu.Unlock()

	start := time.Now()
	m.cancel()

	var errs []error
	if err := m.wait(m.timeout); err != nil {
		m.logger.Warn("in-flight operations still running",
			zap.Int64("active", m.active.Load()),
			zap.Duration("waited", time.Since(start)))
		errs = append(errs, err)
	}

	remaining := m.timeout - time.Since(start)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			m.logger.Error("shutdown hook failed", zap.String("name", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}

	if m.started {
		signal.Stop(m.sigCh)
	}

	m.logger.Debug("shutdown complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

func (m *Manager) wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}
