package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler coordinates graceful shutdown.
type Handler struct {
	timeout time.Duration
	hooks   []hook
	mu      sync.Mutex
	done    chan struct{}
	logger  *slog.Logger
	signals []os.Signal
}

// NewHandler creates a handler whose hooks share one timeout.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		done:    make(chan struct{}),
		logger:  logger,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// OnShutdown registers a hook. Hooks run in reverse registration order,
// so components stop before the things they depend on.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Wait blocks until a termination signal arrives or ctx is done, then
// runs every hook. All hook errors are returned joined.
func (h *Handler) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, h.signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		h.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Info("shutdown requested", "reason", context.Cause(ctx))
	}
	return h.Run()
}

// Run executes the hooks immediately.
func (h *Handler) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := make([]hook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		start := time.Now()
		if err := hooks[i].fn(ctx); err != nil {
			h.logger.Error("shutdown hook failed", "hook", hooks[i].name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
			continue
		}
		h.logger.Debug("shutdown hook done", "hook", hooks[i].name, "duration", time.Since(start))
	}

	close(h.done)
	return errors.Join(errs...)
}

// Done is closed once the hooks have run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
