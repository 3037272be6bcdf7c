// Package daemon implements the Daemon Runtime (§4.10): an ordered list of
// managed services with idempotent start/stop, reverse-order rollback on
// start failure, and OS signal handling.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/reins-ai/agentd/pkg/agentderr"
)

// ManagedService is the Managed Service contract (§3): `{id, start(),
// stop(signal?)}`.
type ManagedService interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runtime supervises an ordered set of managed services. Startup and
// shutdown order are stable across restarts: services start in
// registration order and stop in reverse.
type Runtime struct {
	mu              sync.Mutex
	services        []ManagedService
	started         bool
	stopped         bool
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// NewRuntime constructs a Runtime. A nil logger defaults to slog.Default();
// a zero shutdownTimeout defaults to 10s per §5.
func NewRuntime(logger *slog.Logger, shutdownTimeout time.Duration) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Runtime{logger: logger, shutdownTimeout: shutdownTimeout}
}

// RegisterService appends a service to the startup order. Must be called
// before Start.
func (r *Runtime) RegisterService(s ManagedService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, s)
	r.logger.Info("subsystem ready", "event", "service-registered", "serviceId", s.ID())
}

// Start is idempotent: if the runtime is already running it returns success
// without restarting services. On a service start failure, every service
// already started is stopped in reverse order before the error is returned.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	services := append([]ManagedService(nil), r.services...)
	r.mu.Unlock()

	r.logger.Info("daemon starting", "event", "start-requested")

	started := make([]ManagedService, 0, len(services))
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			r.logger.Error("service start failed", "event", "error", "serviceId", svc.ID(), "error", err)
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := started[i].Stop(ctx); stopErr != nil {
					r.logger.Error("rollback stop failed", "event", "error", "serviceId", started[i].ID(), "error", stopErr)
				}
			}
			return agentderr.Wrap(agentderr.CodeOperation, "daemon: start "+svc.ID(), err)
		}
		started = append(started, svc)
	}

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	r.logger.Info("subsystem ready", "event", "state-transition", "state", "started")
	return nil
}

// Stop is idempotent: calling it when not running (or twice) succeeds with
// no duplicated side effects. Services stop in reverse registration order
// under one context bounded by the runtime's shutdown timeout for the whole
// sequence; once it expires, the stop sequence ends after the current
// service's Stop returns (the remaining services are skipped and an error
// is returned).
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	services := append([]ManagedService(nil), r.services...)
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("daemon stopping", "event", "stop-requested")

	ctx, cancel := context.WithTimeout(ctx, r.shutdownTimeout)
	defer cancel()

	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("service stop failed", "event", "error", "serviceId", svc.ID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		select {
		case <-ctx.Done():
			r.logger.Error("shutdown timeout exceeded", "event", "error", "error", ctx.Err())
			return agentderr.Wrap(agentderr.CodeOperation, "daemon: shutdown timeout exceeded", ctx.Err())
		default:
		}
	}

	r.logger.Info("subsystem ready", "event", "state-transition", "state", "stopped")
	if firstErr != nil {
		return agentderr.Wrap(agentderr.CodeOperation, "daemon: stop encountered errors", firstErr)
	}
	return nil
}

// Run starts the runtime, blocks until SIGTERM/SIGINT, then runs an orderly
// shutdown (§6 runtime signal contract). It returns the process exit code:
// 0 for clean shutdown, 1 for startup failure.
func (r *Runtime) Run(ctx context.Context) int {
	if err := r.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	r.logger.Info("signal received", "event", "signal-received", "signal", sig.String())

	if err := r.Stop(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
