package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labpod/labpod/internal/cluster"
	"github.com/labpod/labpod/internal/model"
)

const (
	// DefaultReconcileInterval is how often the reconciler sweeps.
	DefaultReconcileInterval = 15 * time.Second

	// DefaultCreatingGrace is how long a creating environment may go
	// without a visible workload before it is marked error.
	DefaultCreatingGrace = 2 * time.Minute
)

// Reconciler converges registry state with observed cluster state:
// creating environments become running or error, stopping environments
// get their resources torn down, and vanished workloads are surfaced.
type Reconciler struct {
	orch          *Orchestrator
	logger        *slog.Logger
	interval      time.Duration
	creatingGrace time.Duration

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewReconciler creates a reconciler over the orchestrator's registry
// and cluster client.
func NewReconciler(orch *Orchestrator, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		orch:          orch,
		logger:        logger.With("component", "reconciler"),
		interval:      DefaultReconcileInterval,
		creatingGrace: DefaultCreatingGrace,
	}
}

// SetInterval overrides the default sweep interval.
func (r *Reconciler) SetInterval(interval time.Duration) {
	if interval > 0 {
		r.interval = interval
	}
}

// SetCreatingGrace overrides the default creating grace period.
func (r *Reconciler) SetCreatingGrace(grace time.Duration) {
	if grace > 0 {
		r.creatingGrace = grace
	}
}

// Run starts the reconcile loop. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("reconciler already started")
	}
	r.started = true
	r.done = make(chan struct{})
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	defer close(r.done)

	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		draining := r.draining
		r.mu.Unlock()

		if draining {
			r.logger.Info("reconciler draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Shutdown gracefully stops the reconciler, letting an in-flight sweep
// finish. It implements server.ShutdownFunc.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.draining = true
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			r.logger.Info("reconciler shutdown complete")
			return nil
		case <-ctx.Done():
			r.logger.Warn("reconciler shutdown timed out")
			return ctx.Err()
		}
	}
	return nil
}

// Sweep runs a single reconciliation pass. Per-environment failures
// are logged and never abort the rest of the sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		r.orch.metrics.ObserveReconcileDuration(time.Since(start))
	}()

	observed, err := r.orch.cluster.ListPodStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pod states: %w", err)
	}

	envs, err := r.orch.registry.ListEnvironmentsByStatus(ctx,
		model.StatusCreating, model.StatusRunning, model.StatusStopping)
	if err != nil {
		return fmt.Errorf("failed to list environments: %w", err)
	}

	for _, env := range envs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.reconcileOne(ctx, env, observed); err != nil {
			r.logger.Warn("failed to reconcile environment",
				slog.String("env_id", env.ID),
				slog.String("status", string(env.Status)),
				slog.String("error", err.Error()),
			)
		}
	}

	r.updateGauges(ctx)

	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, env *model.Environment, observed map[string]cluster.PodState) error {
	state, present := observed[env.PodName]

	switch env.Status {
	case model.StatusCreating:
		return r.reconcileCreating(ctx, env, state, present)
	case model.StatusRunning:
		return r.reconcileRunning(ctx, env, state, present)
	case model.StatusStopping:
		return r.reconcileStopping(ctx, env, present)
	}
	return nil
}

func (r *Reconciler) reconcileCreating(ctx context.Context, env *model.Environment, state cluster.PodState, present bool) error {
	if !present {
		// Give a freshly provisioned pod time to appear in listings.
		if time.Since(env.UpdatedAt) < r.creatingGrace {
			return nil
		}
		r.orch.metrics.IncReconcileDrift("workload_missing")
		return r.markError(ctx, env, "workload never appeared")
	}

	switch state.Phase {
	case cluster.PodReady:
		if err := r.transition(ctx, env, model.StatusCreating, model.StatusRunning, ""); err != nil {
			return err
		}
		r.logger.Info("environment running",
			slog.String("env_id", env.ID),
			slog.String("pod", env.PodName),
		)
		return nil
	case cluster.PodFailed:
		r.orch.metrics.IncReconcileDrift("workload_failed")
		return r.markError(ctx, env, "workload failed: "+state.Reason)
	default:
		// Still pending; check again next sweep.
		return nil
	}
}

func (r *Reconciler) reconcileRunning(ctx context.Context, env *model.Environment, state cluster.PodState, present bool) error {
	if !present {
		r.orch.metrics.IncReconcileDrift("workload_missing")
		return r.markError(ctx, env, "workload disappeared")
	}
	if state.Phase == cluster.PodFailed {
		r.orch.metrics.IncReconcileDrift("workload_failed")
		return r.markError(ctx, env, "workload failed: "+state.Reason)
	}
	return nil
}

// reconcileStopping tears down cluster resources and confirms stopped
// once the pod is gone. Deletes are idempotent, so repeating them
// across sweeps is harmless.
func (r *Reconciler) reconcileStopping(ctx context.Context, env *model.Environment, present bool) error {
	if present {
		if err := r.orch.cluster.DeletePod(ctx, env.PodName); err != nil {
			return fmt.Errorf("failed to delete pod: %w", err)
		}
		if err := r.orch.cluster.DeleteService(ctx, env.ServiceName); err != nil {
			return fmt.Errorf("failed to delete service: %w", err)
		}
		// Confirmed stopped on a later sweep, once the pod is gone.
		return nil
	}

	if err := r.orch.cluster.DeleteService(ctx, env.ServiceName); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}

	if err := r.transition(ctx, env, model.StatusStopping, model.StatusStopped, env.StatusReason); err != nil {
		return err
	}
	r.logger.Info("environment stopped",
		slog.String("env_id", env.ID),
		slog.String("pod", env.PodName),
	)
	return nil
}

func (r *Reconciler) transition(ctx context.Context, env *model.Environment, from, to model.EnvStatus, reason string) error {
	unlock := r.orch.locks.lock(env.OwnerID)
	defer unlock()

	if err := r.orch.registry.UpdateEnvironmentStatus(ctx, env.ID, from, to, reason); err != nil {
		return mapRegistryError(err)
	}
	env.Status = to
	r.orch.recordActivity(ctx, SystemActor.UserID, env.ID, model.ActionStateChange, fmt.Sprintf("%s -> %s", from, to))
	return nil
}

func (r *Reconciler) markError(ctx context.Context, env *model.Environment, reason string) error {
	from := env.Status
	if err := r.transition(ctx, env, from, model.StatusError, reason); err != nil {
		return err
	}
	r.orch.metrics.IncEnvironmentError("reconcile")
	r.logger.Warn("environment marked error",
		slog.String("env_id", env.ID),
		slog.String("from", string(from)),
		slog.String("reason", reason),
	)
	return nil
}

// updateGauges refreshes the per-status environment counts.
func (r *Reconciler) updateGauges(ctx context.Context) {
	statuses := []model.EnvStatus{
		model.StatusRequested, model.StatusCreating, model.StatusRunning,
		model.StatusStopping, model.StatusStopped, model.StatusError,
	}
	counts := make(map[model.EnvStatus]int, len(statuses))

	envs, err := r.orch.registry.ListEnvironmentsByStatus(ctx, statuses...)
	if err != nil {
		r.logger.Warn("failed to refresh status gauges", slog.String("error", err.Error()))
		return
	}
	for _, env := range envs {
		counts[env.Status]++
	}
	for _, status := range statuses {
		r.orch.metrics.SetEnvironmentsByStatus(string(status), counts[status])
	}
}
