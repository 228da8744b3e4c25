package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/workgate/pkg/logging"
)

// Manager runs registered hooks in reverse order once shutdown starts
type Manager struct {
	mu      sync.Mutex
	hooks   []hook
	timeout time.Duration
	logger  *logging.Logger
	done    chan struct{}
	once    sync.Once
}

type hook struct {
	name string
	fn   func(context.Context) error
}

// New creates a shutdown manager whose hooks share a total budget of timeout
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Register adds a hook. Hooks run last-registered first.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Wait blocks until SIGINT/SIGTERM, Trigger, or ctx is done
func (m *Manager) Wait(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		m.logger.Info("Shutdown signal received")
	case <-m.done:
	}
	m.Trigger()
}

// Trigger starts shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() {
		close(m.done)
	})
}

// Done is closed once shutdown has started
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Shutdown runs every hook, newest first, and returns their joined errors
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(m.hooks) - 1; i >= 0; i-- {
		h := m.hooks[i]
		m.logger.Debug("Running shutdown hook", map[string]interface{}{"hook": h.name})
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Shutdown hook failed", map[string]interface{}{"hook": h.name, "error": err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}

	m.logger.Info("Graceful shutdown complete")
	return errors.Join(errs...)
}

// StopHTTPServer wraps an http.Server's Shutdown as a hook
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	}
}
