package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labpod/labpod/internal/model"
)

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

// UpsertUser inserts a user keyed by (provider, provider_subject) or,
// if the identity is already known, refreshes the email and login time.
// Role and tier are never touched on conflict so admin changes survive
// re-login.
func (r *Repository) UpsertUser(ctx context.Context, user *model.User) (*model.User, error) {
	query := `
		INSERT INTO users (id, email, provider, provider_subject, role, tier, auto_shutdown_enabled, max_uptime_minutes, created_at, last_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider, provider_subject) DO UPDATE
		SET email = EXCLUDED.email, last_login = EXCLUDED.last_login
		RETURNING id, email, provider, provider_subject, role, tier, auto_shutdown_enabled, max_uptime_minutes, created_at, last_login
	`

	now := time.Now()
	var out model.User
	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.Provider,
		user.ProviderSubject,
		user.Role,
		user.Tier,
		user.AutoShutdownEnabled,
		user.MaxUptimeMinutes,
		now,
		now,
	).Scan(
		&out.ID,
		&out.Email,
		&out.Provider,
		&out.ProviderSubject,
		&out.Role,
		&out.Tier,
		&out.AutoShutdownEnabled,
		&out.MaxUptimeMinutes,
		&out.CreatedAt,
		&out.LastLogin,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return &out, nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `
		SELECT id, email, provider, provider_subject, role, tier, auto_shutdown_enabled, max_uptime_minutes, created_at, last_login
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByProviderSubject retrieves a user by their external identity.
func (r *Repository) GetUserByProviderSubject(ctx context.Context, provider, subject string) (*model.User, error) {
	query := `
		SELECT id, email, provider, provider_subject, role, tier, auto_shutdown_enabled, max_uptime_minutes, created_at, last_login
		FROM users
		WHERE provider = $1 AND provider_subject = $2
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, provider, subject))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by provider subject: %w", err)
	}

	return user, nil
}

// ListUsers retrieves all users ordered by creation time.
func (r *Repository) ListUsers(ctx context.Context) ([]*model.User, error) {
	query := `
		SELECT id, email, provider, provider_subject, role, tier, auto_shutdown_enabled, max_uptime_minutes, created_at, last_login
		FROM users
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// UpdateUserSettings updates the admin-managed fields of a user.
func (r *Repository) UpdateUserSettings(ctx context.Context, user *model.User) error {
	query := `
		UPDATE users
		SET role = $2, tier = $3, auto_shutdown_enabled = $4, max_uptime_minutes = $5
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Role,
		user.Tier,
		user.AutoShutdownEnabled,
		user.MaxUptimeMinutes,
	)
	if err != nil {
		return fmt.Errorf("failed to update user settings: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// scanUser scans a single row into a User model.
func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Provider,
		&user.ProviderSubject,
		&user.Role,
		&user.Tier,
		&user.AutoShutdownEnabled,
		&user.MaxUptimeMinutes,
		&user.CreatedAt,
		&user.LastLogin,
	)
	return &user, err
}
