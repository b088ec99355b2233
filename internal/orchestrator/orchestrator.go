// Package orchestrator drives the environment lifecycle: launch, stop,
// restart, delete, and the background convergence loops.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/labpod/labpod/internal/cluster"
	"github.com/labpod/labpod/internal/metrics"
	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/repository"
	"github.com/oklog/ulid/v2"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Common errors for orchestrator operations.
var (
	ErrNotFound           = errors.New("environment not found")
	ErrForbidden          = errors.New("environment belongs to another user")
	ErrQuotaExceeded      = errors.New("active environment quota exceeded")
	ErrUnknownApplication = errors.New("unknown application")
	ErrConflict           = errors.New("operation not valid in current state")
	ErrInvalidInput       = errors.New("invalid input")
)

// Registry is the persistence surface the orchestrator needs.
// Implemented by *repository.Repository.
type Registry interface {
	CreateEnvironment(ctx context.Context, env *model.Environment) error
	GetEnvironment(ctx context.Context, id string) (*model.Environment, error)
	ListEnvironmentsByOwner(ctx context.Context, ownerID string) ([]*model.Environment, error)
	ListEnvironmentsByStatus(ctx context.Context, statuses ...model.EnvStatus) ([]*model.Environment, error)
	FindActiveEnvironment(ctx context.Context, ownerID, applicationID string) (*model.Environment, error)
	CountActiveEnvironments(ctx context.Context, ownerID string, errorGrace time.Duration) (int, error)
	UpdateEnvironmentStatus(ctx context.Context, id string, from, to model.EnvStatus, reason string) error
	UpdateEnvironment(ctx context.Context, env *model.Environment) error
	TouchEnvironmentActivity(ctx context.Context, id string) error
	SoftDeleteEnvironment(ctx context.Context, id string, from model.EnvStatus) error
	ListRunningWithOwners(ctx context.Context) ([]repository.RunningEnvironment, error)
}

// UserStore loads owners for authorization and tier limits.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// ActivityLog appends to and reads the activity log.
type ActivityLog interface {
	RecordActivity(ctx context.Context, entry *model.ActivityLogEntry) error
	ListEnvironmentActivity(ctx context.Context, environmentID string, limit int) ([]*model.ActivityLogEntry, error)
}

// Actor identifies who is performing an operation.
type Actor struct {
	UserID string
	Admin  bool
}

// SystemActor is used by background workers.
var SystemActor = Actor{UserID: "system", Admin: true}

// Config holds the orchestrator's operational settings.
type Config struct {
	// Applications maps launchable application IDs to container images.
	Applications map[string]string

	// WorkspaceDomain is the DNS suffix for environment URLs.
	WorkspaceDomain string

	// ErrorGraceWindow is how long error rows keep counting toward the
	// owner's quota.
	ErrorGraceWindow time.Duration

	// ClusterCallTimeout bounds each individual cluster API call.
	ClusterCallTimeout time.Duration
}

// Orchestrator coordinates the registry and the cluster.
type Orchestrator struct {
	registry Registry
	users    UserStore
	activity ActivityLog
	cluster  cluster.Client
	locks    *ownerLocks
	logger   *slog.Logger
	metrics  metrics.Recorder
	cfg      Config
}

// New creates an orchestrator.
func New(registry Registry, users UserStore, activity ActivityLog, clusterClient cluster.Client, cfg Config, logger *slog.Logger, recorder metrics.Recorder) *Orchestrator {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if cfg.ClusterCallTimeout <= 0 {
		cfg.ClusterCallTimeout = 30 * time.Second
	}
	return &Orchestrator{
		registry: registry,
		users:    users,
		activity: activity,
		cluster:  clusterClient,
		locks:    newOwnerLocks(),
		logger:   logger.With("component", "orchestrator"),
		metrics:  recorder,
		cfg:      cfg,
	}
}

// LaunchInput describes a launch request. Resource fields are
// optional; empty values default to the tier ceiling.
type LaunchInput struct {
	ApplicationID string
	Resources     model.ResourceConfig
}

// LaunchResult reports the environment and whether it was newly created.
type LaunchResult struct {
	Environment *model.Environment
	Created     bool
}

// Launch starts an environment for the actor. It is idempotent per
// (owner, application): a second launch while one is active returns
// the existing environment. The quota check, the idempotency check,
// and the registry insert all happen under the owner's lock; the
// blocking cluster calls happen outside it.
func (o *Orchestrator) Launch(ctx context.Context, actor Actor, input LaunchInput) (*LaunchResult, error) {
	start := time.Now()

	image, ok := o.cfg.Applications[input.ApplicationID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownApplication, input.ApplicationID)
	}

	owner, err := o.users.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}

	resources, err := clampResources(input.Resources, owner.Limits())
	if err != nil {
		return nil, err
	}

	env, created, err := o.reserveEnvironment(ctx, owner, input.ApplicationID, resources)
	if err != nil {
		return nil, err
	}
	if !created {
		return &LaunchResult{Environment: env, Created: false}, nil
	}

	if err := o.provision(ctx, env, image); err != nil {
		return nil, err
	}

	o.metrics.IncEnvironmentLaunched(input.ApplicationID)
	o.metrics.ObserveLaunchDuration(time.Since(start))

	o.logger.Info("environment launched",
		slog.String("env_id", env.ID),
		slog.String("owner_id", owner.ID),
		slog.String("application", input.ApplicationID),
		slog.String("pod", env.PodName),
	)

	return &LaunchResult{Environment: env, Created: true}, nil
}

// reserveEnvironment performs the locked half of Launch: idempotency
// check, quota check, insert, and the transition to creating.
func (o *Orchestrator) reserveEnvironment(ctx context.Context, owner *model.User, applicationID string, resources model.ResourceConfig) (*model.Environment, bool, error) {
	unlock := o.locks.lock(owner.ID)
	defer unlock()

	existing, err := o.registry.FindActiveEnvironment(ctx, owner.ID, applicationID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrEnvNotFound) {
		return nil, false, err
	}

	if err := o.canLaunch(ctx, owner); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	id := ulid.Make().String()
	env := &model.Environment{
		ID:             id,
		OwnerID:        owner.ID,
		ApplicationID:  applicationID,
		PodName:        cluster.PodName(owner.Email, id),
		ServiceName:    cluster.ServiceName(owner.Email, id),
		Resources:      resources,
		Status:         model.StatusRequested,
		VolumeName:     cluster.VolumeName(owner.Email, applicationID),
		CreatedAt:      now,
		LastActivityAt: now,
		UpdatedAt:      now,
	}
	env.URL = o.workspaceURL(env)

	if err := o.registry.CreateEnvironment(ctx, env); err != nil {
		if errors.Is(err, repository.ErrDuplicateActive) {
			// Lost a cross-process race; the winner's row is the
			// environment to return.
			winner, findErr := o.registry.FindActiveEnvironment(ctx, owner.ID, applicationID)
			if findErr != nil {
				return nil, false, err
			}
			return winner, false, nil
		}
		return nil, false, err
	}

	if err := o.transition(ctx, env, model.StatusRequested, model.StatusCreating, ""); err != nil {
		return nil, false, err
	}

	o.recordActivity(ctx, owner.ID, env.ID, model.ActionLaunch, applicationID)

	return env, true, nil
}

// provision performs the unlocked half of Launch: the cluster calls.
// A pod without a service is rolled back; failures mark the
// environment error with a reason.
func (o *Orchestrator) provision(ctx context.Context, env *model.Environment, image string) error {
	spec := cluster.WorkspaceSpec{
		PodName:     env.PodName,
		ServiceName: env.ServiceName,
		OwnerID:     env.OwnerID,
		EnvID:       env.ID,
		Image:       image,
		CPULimit:    env.Resources.CPULimit,
		MemoryLimit: env.Resources.MemoryLimit,
		VolumeName:  env.VolumeName,
		StorageSize: env.Resources.StorageSize,
	}

	if err := o.withClusterRetry(ctx, "create_pod", func(ctx context.Context) error {
		return o.cluster.CreatePod(ctx, spec)
	}); err != nil {
		o.markError(ctx, env, model.StatusCreating, "create_pod", err)
		return err
	}

	if err := o.withClusterRetry(ctx, "create_service", func(ctx context.Context) error {
		return o.cluster.CreateService(ctx, spec)
	}); err != nil {
		// Roll back the orphaned pod; deletion is idempotent so a
		// failure here just leaves work for the reconciler.
		if delErr := o.cluster.DeletePod(ctx, env.PodName); delErr != nil {
			o.logger.Warn("failed to roll back pod",
				slog.String("env_id", env.ID),
				slog.String("pod", env.PodName),
				slog.String("error", delErr.Error()),
			)
		}
		o.markError(ctx, env, model.StatusCreating, "create_service", err)
		return err
	}

	// Commit the provisioning outcome under the lock.
	unlock := o.locks.lock(env.OwnerID)
	defer unlock()

	if err := o.registry.UpdateEnvironment(ctx, env); err != nil {
		return err
	}

	return nil
}

// Stop requests shutdown of an environment. It marks the registry and
// returns immediately; the reconciler tears down cluster resources and
// confirms `stopped`. Stopping an already stopping or stopped
// environment is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, actor Actor, envID string) error {
	return o.stop(ctx, actor, envID, model.ActionStop, "user requested stop")
}

// AutoStop is Stop on behalf of the auto-shutdown monitor.
// The reason becomes the status reason and metric label.
func (o *Orchestrator) AutoStop(ctx context.Context, envID, reason string) error {
	if err := o.stop(ctx, SystemActor, envID, model.ActionAutoShutdown, reason); err != nil {
		return err
	}
	o.metrics.IncEnvironmentStopped(reason)
	return nil
}

func (o *Orchestrator) stop(ctx context.Context, actor Actor, envID, action, reason string) error {
	env, err := o.authorize(ctx, actor, envID)
	if err != nil {
		return err
	}

	unlock := o.locks.lock(env.OwnerID)
	defer unlock()

	// Re-read under the lock; the state may have moved.
	env, err = o.registry.GetEnvironment(ctx, envID)
	if err != nil {
		return mapRegistryError(err)
	}

	switch env.Status {
	case model.StatusStopping, model.StatusStopped:
		return nil
	case model.StatusDeleted:
		return ErrConflict
	}

	if !model.CanTransition(env.Status, model.StatusStopping) {
		return fmt.Errorf("%w: cannot stop from %s", ErrConflict, env.Status)
	}

	if err := o.transition(ctx, env, env.Status, model.StatusStopping, reason); err != nil {
		return err
	}

	o.recordActivity(ctx, actor.UserID, env.ID, action, reason)
	if action == model.ActionStop {
		o.metrics.IncEnvironmentStopped("user")
	}

	o.logger.Info("environment stopping",
		slog.String("env_id", env.ID),
		slog.String("actor", actor.UserID),
		slog.String("reason", reason),
	)

	return nil
}

// Restart recreates an environment's workload, preserving the volume
// binding so the user's files survive. Valid from running, stopped,
// and error.
func (o *Orchestrator) Restart(ctx context.Context, actor Actor, envID string) error {
	env, err := o.authorize(ctx, actor, envID)
	if err != nil {
		return err
	}
	if !env.CanRestart() {
		return fmt.Errorf("%w: cannot restart from %s", ErrConflict, env.Status)
	}

	image, ok := o.cfg.Applications[env.ApplicationID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownApplication, env.ApplicationID)
	}

	// Phase one: clear the old workload. A running environment goes
	// through a full synchronous stop. A stopped or errored one can
	// still have a dead pod behind it (crashed, evicted), and create
	// treats an existing pod as success, so the leftovers must go
	// before provisioning.
	if env.Status == model.StatusRunning {
		if err := o.teardownForRestart(ctx, env); err != nil {
			return err
		}
	} else if err := o.removeWorkload(ctx, env); err != nil {
		return err
	}

	// Phase two: flip to creating under the lock, then provision.
	unlock := o.locks.lock(env.OwnerID)
	env, err = o.registry.GetEnvironment(ctx, envID)
	if err != nil {
		unlock()
		return mapRegistryError(err)
	}
	if env.Status != model.StatusStopped && env.Status != model.StatusError {
		unlock()
		return fmt.Errorf("%w: restart interrupted, state is %s", ErrConflict, env.Status)
	}

	if err := o.transition(ctx, env, env.Status, model.StatusCreating, "restart"); err != nil {
		unlock()
		return err
	}
	o.recordActivity(ctx, actor.UserID, env.ID, model.ActionRestart, "")
	unlock()

	return o.provision(ctx, env, image)
}

// teardownForRestart stops a running environment synchronously: mark
// stopping, delete the cluster resources, confirm stopped.
func (o *Orchestrator) teardownForRestart(ctx context.Context, env *model.Environment) error {
	unlock := o.locks.lock(env.OwnerID)
	err := o.registry.UpdateEnvironmentStatus(ctx, env.ID, model.StatusRunning, model.StatusStopping, "restart")
	unlock()
	if err != nil {
		return mapRegistryError(err)
	}

	if err := o.withClusterRetry(ctx, "delete_pod", func(ctx context.Context) error {
		return o.cluster.DeletePod(ctx, env.PodName)
	}); err != nil {
		o.markError(ctx, env, model.StatusStopping, "delete_pod", err)
		return err
	}
	if err := o.withClusterRetry(ctx, "delete_service", func(ctx context.Context) error {
		return o.cluster.DeleteService(ctx, env.ServiceName)
	}); err != nil {
		o.markError(ctx, env, model.StatusStopping, "delete_service", err)
		return err
	}

	unlock = o.locks.lock(env.OwnerID)
	defer unlock()
	if err := o.registry.UpdateEnvironmentStatus(ctx, env.ID, model.StatusStopping, model.StatusStopped, "restart"); err != nil {
		return mapRegistryError(err)
	}
	return nil
}

// removeWorkload deletes whatever cluster resources an environment
// left behind. Deletes are idempotent, so a clean environment costs
// two no-op calls.
func (o *Orchestrator) removeWorkload(ctx context.Context, env *model.Environment) error {
	if err := o.withClusterRetry(ctx, "delete_pod", func(ctx context.Context) error {
		return o.cluster.DeletePod(ctx, env.PodName)
	}); err != nil {
		return err
	}
	return o.withClusterRetry(ctx, "delete_service", func(ctx context.Context) error {
		return o.cluster.DeleteService(ctx, env.ServiceName)
	})
}

// Delete soft-deletes an environment. Valid from stopped and error
// only. The storage volume is retained so a later launch of the same
// application finds the user's files.
func (o *Orchestrator) Delete(ctx context.Context, actor Actor, envID string) error {
	env, err := o.authorize(ctx, actor, envID)
	if err != nil {
		return err
	}

	unlock := o.locks.lock(env.OwnerID)
	env, err = o.registry.GetEnvironment(ctx, envID)
	if err != nil {
		unlock()
		return mapRegistryError(err)
	}
	if !env.CanDelete() {
		unlock()
		return fmt.Errorf("%w: cannot delete from %s", ErrConflict, env.Status)
	}
	from := env.Status
	unlock()

	// Cluster cleanup happens outside the lock. Anything missed here
	// would be invisible to the reconciler once the row is gone, so
	// failures surface instead of being swallowed.
	if err := o.removeWorkload(ctx, env); err != nil {
		return err
	}

	unlock = o.locks.lock(env.OwnerID)
	defer unlock()

	// The CAS on the prior status catches a restart that slipped in
	// while the lock was released.
	if err := o.registry.SoftDeleteEnvironment(ctx, env.ID, from); err != nil {
		return mapRegistryError(err)
	}

	o.recordActivity(ctx, actor.UserID, env.ID, model.ActionDelete, "")
	o.metrics.IncEnvironmentDeleted()

	o.logger.Info("environment deleted",
		slog.String("env_id", env.ID),
		slog.String("actor", actor.UserID),
	)

	return nil
}

// Heartbeat resets the idle clock of a running environment. Unknown
// environments and environments owned by someone else are silently
// ignored; liveness reporting must never fail the workspace.
func (o *Orchestrator) Heartbeat(ctx context.Context, actor Actor, envID string) {
	env, err := o.registry.GetEnvironment(ctx, envID)
	if err != nil {
		return
	}
	if env.OwnerID != actor.UserID {
		return
	}

	if err := o.registry.TouchEnvironmentActivity(ctx, envID); err != nil {
		o.logger.Warn("heartbeat touch failed",
			slog.String("env_id", envID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns an environment visible to the actor.
func (o *Orchestrator) Get(ctx context.Context, actor Actor, envID string) (*model.Environment, error) {
	return o.authorize(ctx, actor, envID)
}

// List returns the actor's environments, or any owner's for admins.
func (o *Orchestrator) List(ctx context.Context, actor Actor, ownerID string) ([]*model.Environment, error) {
	if ownerID == "" {
		ownerID = actor.UserID
	}
	if ownerID != actor.UserID && !actor.Admin {
		return nil, ErrForbidden
	}
	return o.registry.ListEnvironmentsByOwner(ctx, ownerID)
}

// Activity returns the lifecycle history of an environment visible to
// the actor, newest first.
func (o *Orchestrator) Activity(ctx context.Context, actor Actor, envID string, limit int) ([]*model.ActivityLogEntry, error) {
	if _, err := o.authorize(ctx, actor, envID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return o.activity.ListEnvironmentActivity(ctx, envID, limit)
}

// ============================================================================
// Internals
// ============================================================================

// authorize loads an environment and checks the actor may touch it.
func (o *Orchestrator) authorize(ctx context.Context, actor Actor, envID string) (*model.Environment, error) {
	env, err := o.registry.GetEnvironment(ctx, envID)
	if err != nil {
		return nil, mapRegistryError(err)
	}
	if env.OwnerID != actor.UserID && !actor.Admin {
		return nil, ErrForbidden
	}
	return env, nil
}

// transition applies a state change, enforcing the state machine.
func (o *Orchestrator) transition(ctx context.Context, env *model.Environment, from, to model.EnvStatus, reason string) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrConflict, from, to)
	}
	if err := o.registry.UpdateEnvironmentStatus(ctx, env.ID, from, to, reason); err != nil {
		return mapRegistryError(err)
	}
	env.Status = to
	env.StatusReason = reason
	return nil
}

// markError moves an environment to error with a reason. Errors here
// are logged, not returned; the original failure matters more.
func (o *Orchestrator) markError(ctx context.Context, env *model.Environment, from model.EnvStatus, op string, cause error) {
	o.metrics.IncEnvironmentError(op)

	reason := fmt.Sprintf("%s failed: %v", op, cause)
	unlock := o.locks.lock(env.OwnerID)
	defer unlock()

	if err := o.registry.UpdateEnvironmentStatus(ctx, env.ID, from, model.StatusError, reason); err != nil {
		o.logger.Error("failed to mark environment error",
			slog.String("env_id", env.ID),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return
	}
	env.Status = model.StatusError
	env.StatusReason = reason

	o.recordActivity(ctx, SystemActor.UserID, env.ID, model.ActionStateChange, reason)
}

// recordActivity appends an audit entry; failures are logged only.
func (o *Orchestrator) recordActivity(ctx context.Context, userID, envID, action, detail string) {
	entry := &model.ActivityLogEntry{
		ID:            ulid.Make().String(),
		UserID:        userID,
		EnvironmentID: envID,
		Action:        action,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.activity.RecordActivity(ctx, entry); err != nil {
		o.logger.Warn("failed to record activity",
			slog.String("env_id", envID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

// workspaceURL derives the stable URL for an environment.
func (o *Orchestrator) workspaceURL(env *model.Environment) string {
	return fmt.Sprintf("https://%s.%s", env.PodName, o.cfg.WorkspaceDomain)
}

// mapRegistryError folds repository sentinels into orchestrator ones.
func mapRegistryError(err error) error {
	switch {
	case errors.Is(err, repository.ErrEnvNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrStaleStatus):
		return ErrConflict
	default:
		return err
	}
}

// clampResources fills defaults and caps requests at the tier ceiling.
// Asking for more than the tier allows is not an error; the request is
// clamped down.
func clampResources(requested model.ResourceConfig, limits model.TierLimits) (model.ResourceConfig, error) {
	cpu, err := clampQuantity(requested.CPULimit, limits.MaxCPU)
	if err != nil {
		return model.ResourceConfig{}, fmt.Errorf("%w: cpu: %v", ErrInvalidInput, err)
	}
	mem, err := clampQuantity(requested.MemoryLimit, limits.MaxMemory)
	if err != nil {
		return model.ResourceConfig{}, fmt.Errorf("%w: memory: %v", ErrInvalidInput, err)
	}
	storage, err := clampQuantity(requested.StorageSize, limits.MaxStorage)
	if err != nil {
		return model.ResourceConfig{}, fmt.Errorf("%w: storage: %v", ErrInvalidInput, err)
	}

	return model.ResourceConfig{CPULimit: cpu, MemoryLimit: mem, StorageSize: storage}, nil
}

func clampQuantity(requested, ceiling string) (string, error) {
	if requested == "" {
		return ceiling, nil
	}

	req, err := resource.ParseQuantity(requested)
	if err != nil {
		return "", err
	}
	max := resource.MustParse(ceiling)

	if req.Cmp(max) > 0 {
		return ceiling, nil
	}
	return requested, nil
}
