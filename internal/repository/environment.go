package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labpod/labpod/internal/model"
)

// Common errors for environment repository operations.
var (
	ErrEnvNotFound     = errors.New("environment not found")
	ErrDuplicateActive = errors.New("active environment already exists for this application")
	ErrStaleStatus     = errors.New("environment status changed concurrently")
)

const envColumns = `id, owner_id, application_id, pod_name, service_name,
		cpu_limit, memory_limit, storage_size,
		status, status_reason, url, volume_name,
		created_at, last_activity_at, updated_at, deleted_at`

// CreateEnvironment inserts a new environment record. The partial
// unique index on (owner_id, application_id) over active statuses
// backstops the application-level idempotency check.
func (r *Repository) CreateEnvironment(ctx context.Context, env *model.Environment) error {
	query := `
		INSERT INTO environments (id, owner_id, application_id, pod_name, service_name,
			cpu_limit, memory_limit, storage_size,
			status, status_reason, url, volume_name,
			created_at, last_activity_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.pool.Exec(ctx, query,
		env.ID,
		env.OwnerID,
		env.ApplicationID,
		env.PodName,
		env.ServiceName,
		env.Resources.CPULimit,
		env.Resources.MemoryLimit,
		env.Resources.StorageSize,
		env.Status,
		env.StatusReason,
		env.URL,
		env.VolumeName,
		env.CreatedAt,
		env.LastActivityAt,
		env.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActive
		}
		return fmt.Errorf("failed to create environment: %w", err)
	}

	return nil
}

// GetEnvironment retrieves an environment by its ID.
func (r *Repository) GetEnvironment(ctx context.Context, id string) (*model.Environment, error) {
	query := `SELECT ` + envColumns + ` FROM environments WHERE id = $1`

	env, err := scanEnvironment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnvNotFound
		}
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}

	return env, nil
}

// ListEnvironmentsByOwner retrieves an owner's environments, newest
// first. Deleted environments are excluded.
func (r *Repository) ListEnvironmentsByOwner(ctx context.Context, ownerID string) ([]*model.Environment, error) {
	query := `
		SELECT ` + envColumns + `
		FROM environments
		WHERE owner_id = $1 AND status != 'deleted'
		ORDER BY created_at DESC
	`

	return r.queryEnvironments(ctx, query, ownerID)
}

// ListEnvironmentsByStatus retrieves all environments in the given
// states. Used by the reconciler and auto-shutdown sweeps.
func (r *Repository) ListEnvironmentsByStatus(ctx context.Context, statuses ...model.EnvStatus) ([]*model.Environment, error) {
	query := `
		SELECT ` + envColumns + `
		FROM environments
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`

	return r.queryEnvironments(ctx, query, statuses)
}

// FindActiveEnvironment returns the owner's creating or running
// environment for an application, or ErrEnvNotFound.
func (r *Repository) FindActiveEnvironment(ctx context.Context, ownerID, applicationID string) (*model.Environment, error) {
	query := `
		SELECT ` + envColumns + `
		FROM environments
		WHERE owner_id = $1 AND application_id = $2
		  AND status IN ('requested', 'creating', 'running')
		ORDER BY created_at DESC
		LIMIT 1
	`

	env, err := scanEnvironment(r.pool.QueryRow(ctx, query, ownerID, applicationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnvNotFound
		}
		return nil, fmt.Errorf("failed to find active environment: %w", err)
	}

	return env, nil
}

// CountActiveEnvironments counts the owner's quota-relevant rows:
// everything creating or running, plus error rows younger than the
// grace window so crash loops cannot bypass the quota.
func (r *Repository) CountActiveEnvironments(ctx context.Context, ownerID string, errorGrace time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM environments
		WHERE owner_id = $1
		  AND (status IN ('requested', 'creating', 'running')
		       OR (status = 'error' AND updated_at > $2))
	`

	var count int
	err := r.pool.QueryRow(ctx, query, ownerID, time.Now().Add(-errorGrace)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active environments: %w", err)
	}

	return count, nil
}

// UpdateEnvironmentStatus moves an environment from one status to
// another. The WHERE clause carries the expected current status so a
// concurrent transition loses cleanly with ErrStaleStatus. Re-entering
// `creating` resets the idle clock so a restarted environment is not
// immediately reclaimed as idle.
func (r *Repository) UpdateEnvironmentStatus(ctx context.Context, id string, from, to model.EnvStatus, reason string) error {
	query := `
		UPDATE environments
		SET status = $3, status_reason = $4, updated_at = NOW(),
		    last_activity_at = CASE WHEN $3 = 'creating' THEN NOW() ELSE last_activity_at END
		WHERE id = $1 AND status = $2
	`

	result, err := r.pool.Exec(ctx, query, id, from, to, reason)
	if err != nil {
		return fmt.Errorf("failed to update environment status: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Distinguish a missing row from a lost race.
		if _, getErr := r.GetEnvironment(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStaleStatus
	}

	return nil
}

// UpdateEnvironment persists the mutable provisioning fields.
func (r *Repository) UpdateEnvironment(ctx context.Context, env *model.Environment) error {
	query := `
		UPDATE environments
		SET pod_name = $2, service_name = $3, url = $4, volume_name = $5,
		    status_reason = $6, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		env.ID,
		env.PodName,
		env.ServiceName,
		env.URL,
		env.VolumeName,
		env.StatusReason,
	)
	if err != nil {
		return fmt.Errorf("failed to update environment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrEnvNotFound
	}

	return nil
}

// TouchEnvironmentActivity records a heartbeat for a running
// environment. Touching a non-running environment is a no-op.
func (r *Repository) TouchEnvironmentActivity(ctx context.Context, id string) error {
	query := `
		UPDATE environments
		SET last_activity_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to touch environment activity: %w", err)
	}

	return nil
}

// SoftDeleteEnvironment marks an environment deleted. The row is kept
// for the activity history and audit trail.
func (r *Repository) SoftDeleteEnvironment(ctx context.Context, id string, from model.EnvStatus) error {
	query := `
		UPDATE environments
		SET status = 'deleted', deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.pool.Exec(ctx, query, id, from)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, getErr := r.GetEnvironment(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStaleStatus
	}

	return nil
}

// RunningEnvironment pairs a running environment with its owner for
// the auto-shutdown sweep.
type RunningEnvironment struct {
	Env   *model.Environment
	Owner *model.User
}

// ListRunningWithOwners retrieves every running environment joined
// with its owner's shutdown settings.
func (r *Repository) ListRunningWithOwners(ctx context.Context) ([]RunningEnvironment, error) {
	query := `
		SELECT e.id, e.owner_id, e.application_id, e.pod_name, e.service_name,
		       e.cpu_limit, e.memory_limit, e.storage_size,
		       e.status, e.status_reason, e.url, e.volume_name,
		       e.created_at, e.last_activity_at, e.updated_at, e.deleted_at,
		       u.id, u.email, u.provider, u.provider_subject, u.role, u.tier,
		       u.auto_shutdown_enabled, u.max_uptime_minutes, u.created_at, u.last_login
		FROM environments e
		JOIN users u ON u.id = e.owner_id
		WHERE e.status = 'running'
		ORDER BY e.created_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list running environments: %w", err)
	}
	defer rows.Close()

	var out []RunningEnvironment
	for rows.Next() {
		var env model.Environment
		var user model.User
		err := rows.Scan(
			&env.ID, &env.OwnerID, &env.ApplicationID, &env.PodName, &env.ServiceName,
			&env.Resources.CPULimit, &env.Resources.MemoryLimit, &env.Resources.StorageSize,
			&env.Status, &env.StatusReason, &env.URL, &env.VolumeName,
			&env.CreatedAt, &env.LastActivityAt, &env.UpdatedAt, &env.DeletedAt,
			&user.ID, &user.Email, &user.Provider, &user.ProviderSubject, &user.Role, &user.Tier,
			&user.AutoShutdownEnabled, &user.MaxUptimeMinutes, &user.CreatedAt, &user.LastLogin,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan running environment: %w", err)
		}
		out = append(out, RunningEnvironment{Env: &env, Owner: &user})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating running environments: %w", err)
	}

	return out, nil
}

// queryEnvironments runs a query returning environment rows.
func (r *Repository) queryEnvironments(ctx context.Context, query string, args ...any) ([]*model.Environment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query environments: %w", err)
	}
	defer rows.Close()

	var envs []*model.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environments: %w", err)
	}

	return envs, nil
}

// scanEnvironment scans a single row into an Environment model.
func scanEnvironment(row pgx.Row) (*model.Environment, error) {
	var env model.Environment
	err := row.Scan(
		&env.ID,
		&env.OwnerID,
		&env.ApplicationID,
		&env.PodName,
		&env.ServiceName,
		&env.Resources.CPULimit,
		&env.Resources.MemoryLimit,
		&env.Resources.StorageSize,
		&env.Status,
		&env.StatusReason,
		&env.URL,
		&env.VolumeName,
		&env.CreatedAt,
		&env.LastActivityAt,
		&env.UpdatedAt,
		&env.DeletedAt,
	)
	return &env, err
}
