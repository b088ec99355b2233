package repository

import (
	"context"
	"fmt"

	"github.com/labpod/labpod/internal/model"
)

// RecordActivity appends an entry to the activity log. The log is
// append-only; there is no update or delete path.
func (r *Repository) RecordActivity(ctx context.Context, entry *model.ActivityLogEntry) error {
	query := `
		INSERT INTO activity_log (id, user_id, environment_id, action, detail, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.EnvironmentID,
		entry.Action,
		entry.Detail,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	return nil
}

// ListEnvironmentActivity retrieves the activity history for an
// environment, newest first.
func (r *Repository) ListEnvironmentActivity(ctx context.Context, environmentID string, limit int) ([]*model.ActivityLogEntry, error) {
	query := `
		SELECT id, user_id, COALESCE(environment_id, ''), action, detail, created_at
		FROM activity_log
		WHERE environment_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, environmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list environment activity: %w", err)
	}
	defer rows.Close()

	var entries []*model.ActivityLogEntry
	for rows.Next() {
		var entry model.ActivityLogEntry
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.EnvironmentID,
			&entry.Action,
			&entry.Detail,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity entries: %w", err)
	}

	return entries, nil
}

// ListUserActivity retrieves a user's recent activity, newest first.
func (r *Repository) ListUserActivity(ctx context.Context, userID string, limit int) ([]*model.ActivityLogEntry, error) {
	query := `
		SELECT id, user_id, COALESCE(environment_id, ''), action, detail, created_at
		FROM activity_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user activity: %w", err)
	}
	defer rows.Close()

	var entries []*model.ActivityLogEntry
	for rows.Next() {
		var entry model.ActivityLogEntry
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.EnvironmentID,
			&entry.Action,
			&entry.Detail,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity entries: %w", err)
	}

	return entries, nil
}
