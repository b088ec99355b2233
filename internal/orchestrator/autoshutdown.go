package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labpod/labpod/internal/repository"
)

const (
	// DefaultAutoShutdownInterval is how often the monitor sweeps.
	DefaultAutoShutdownInterval = time.Minute

	// DefaultIdleThreshold is the idle time before a running
	// environment is stopped.
	DefaultIdleThreshold = 30 * time.Minute
)

// AutoShutdown stops running environments whose owners opted in and
// that either exceeded their uptime ceiling or went idle.
type AutoShutdown struct {
	orch          *Orchestrator
	logger        *slog.Logger
	interval      time.Duration
	idleThreshold time.Duration

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewAutoShutdown creates the auto-shutdown monitor.
func NewAutoShutdown(orch *Orchestrator, logger *slog.Logger) *AutoShutdown {
	return &AutoShutdown{
		orch:          orch,
		logger:        logger.With("component", "autoshutdown"),
		interval:      DefaultAutoShutdownInterval,
		idleThreshold: DefaultIdleThreshold,
	}
}

// SetInterval overrides the default sweep interval.
func (a *AutoShutdown) SetInterval(interval time.Duration) {
	if interval > 0 {
		a.interval = interval
	}
}

// SetIdleThreshold overrides the default idle threshold.
func (a *AutoShutdown) SetIdleThreshold(threshold time.Duration) {
	if threshold > 0 {
		a.idleThreshold = threshold
	}
}

// Run starts the monitor loop. Blocks until context is cancelled.
func (a *AutoShutdown) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("auto-shutdown monitor already started")
	}
	a.started = true
	a.done = make(chan struct{})
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	defer close(a.done)

	a.logger.Info("auto-shutdown monitor started",
		slog.Duration("interval", a.interval),
		slog.Duration("idle_threshold", a.idleThreshold),
	)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.mu.Lock()
		draining := a.draining
		a.mu.Unlock()

		if draining {
			a.logger.Info("auto-shutdown monitor draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			a.logger.Info("auto-shutdown monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				a.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Shutdown gracefully stops the monitor. It implements
// server.ShutdownFunc.
func (a *AutoShutdown) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.draining = true
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			a.logger.Info("auto-shutdown monitor shutdown complete")
			return nil
		case <-ctx.Done():
			a.logger.Warn("auto-shutdown monitor shutdown timed out")
			return ctx.Err()
		}
	}
	return nil
}

// Sweep checks every running environment once. Per-environment
// failures are logged and never abort the rest of the sweep.
func (a *AutoShutdown) Sweep(ctx context.Context) error {
	running, err := a.orch.registry.ListRunningWithOwners(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running environments: %w", err)
	}

	now := time.Now().UTC()
	for _, entry := range running {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.Owner.AutoShutdownEnabled {
			continue
		}

		reason := a.shutdownReason(entry, now)
		if reason == "" {
			continue
		}

		if err := a.orch.AutoStop(ctx, entry.Env.ID, reason); err != nil {
			a.logger.Warn("failed to auto-stop environment",
				slog.String("env_id", entry.Env.ID),
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
			continue
		}

		a.logger.Info("environment auto-stopped",
			slog.String("env_id", entry.Env.ID),
			slog.String("owner_id", entry.Owner.ID),
			slog.String("reason", reason),
			slog.Duration("uptime", now.Sub(entry.Env.CreatedAt)),
		)
	}

	return nil
}

// shutdownReason decides whether an environment should stop now.
// The uptime ceiling wins over idleness when both apply.
func (a *AutoShutdown) shutdownReason(entry repository.RunningEnvironment, now time.Time) string {
	if now.Sub(entry.Env.CreatedAt) > entry.Owner.MaxUptime() {
		return "uptime"
	}
	if now.Sub(entry.Env.LastActivityAt) > a.idleThreshold {
		return "idle"
	}
	return ""
}
