// Package shutdown cancels the CLI's root context on SIGINT/SIGTERM and
// releases registered resources (report store, server, browser) in reverse
// registration order.
package shutdown

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/sitesurvey/internal/logger"
)

// Callback releases one resource.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler owns the root context and the cleanup list.
type Handler struct {
	mu    sync.Mutex
	names []string
	calls []Callback

	shuttingDown atomic.Bool
	done         chan struct{}
	timeout      time.Duration
	err          error

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	signals []os.Signal
	log     *logger.Logger
}

// New creates a handler whose context derives from parent. log may be nil.
func New(parent context.Context, cfg Config, log *logger.Logger) *Handler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = def.Signals
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		signals: cfg.Signals,
		log:     logger.OrNop(log).WithComponent("shutdown"),
	}
	signal.Notify(h.sigChan, cfg.Signals...)
	go h.watch()
	return h
}

func (h *Handler) watch() {
	select {
	case sig := <-h.sigChan:
		h.log.Infof("Received %s, shutting down", sig)
		h.cancel()
	case <-h.ctx.Done():
	}
}

// Context is cancelled when a signal arrives or Shutdown runs.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Register adds a callback. Callbacks run last-registered first.
func (h *Handler) Register(name string, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, name)
	h.calls = append(h.calls, cb)
}

// RegisterCloser registers a Close method.
func (h *Handler) RegisterCloser(name string, closer interface{ Close() error }) {
	h.Register(name, func(context.Context) error { return closer.Close() })
}

// IsShuttingDown reports whether Shutdown has started.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Done is closed once Shutdown has finished.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Trigger simulates a termination signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Shutdown cancels the context and runs every callback within the
// timeout. It is safe to call more than once; later calls wait for the
// first and return its result.
func (h *Handler) Shutdown() error {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return h.err
	}

	start := time.Now()
	h.cancel()
	signal.Stop(h.sigChan)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	names := append([]string(nil), h.names...)
	calls := append([]Callback(nil), h.calls...)
	h.mu.Unlock()

	var errs []error
	for i := len(calls) - 1; i >= 0; i-- {
		if err := run(ctx, names[i], calls[i]); err != nil {
			h.log.WithError(err).WithField("resource", names[i]).Warn("Cleanup failed")
			errs = append(errs, err)
		}
	}

	h.err = stderrors.Join(errs...)
	h.log.WithDuration(time.Since(start)).Debugf("Released %d resource(s)", len(calls))
	close(h.done)
	return h.err
}

func run(ctx context.Context, name string, cb Callback) error {
	done := make(chan error, 1)
	go func() {
		done <- cb(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{Name: name}
	}
}

// TimeoutError is returned when a callback does not finish in time.
type TimeoutError struct {
	Name string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.Name
}
