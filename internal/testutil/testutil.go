// Package testutil provides shared helpers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labpod/labpod/internal/model"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 520520

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema drops and recreates the full schema for tests by
// replaying the migrations in order.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	// Down migrations run in reverse order so foreign keys unwind.
	downs := []string{
		"000003_activity_log.down.sql",
		"000002_environments.down.sql",
		"000001_users.down.sql",
	}
	ups := []string{
		"000001_users.up.sql",
		"000002_environments.up.sql",
		"000003_activity_log.up.sql",
	}

	for _, name := range downs {
		if err := applyMigration(ctx, pool, filepath.Join(root, "migrations", name)); err != nil {
			return err
		}
	}
	for _, name := range ups {
		if err := applyMigration(ctx, pool, filepath.Join(root, "migrations", name)); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", filepath.Base(path), err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestUser creates a test user with sensible defaults.
func NewTestUser(t testing.TB, email string) *model.User {
	t.Helper()
	now := time.Now().UTC()
	return &model.User{
		ID:                  ulid.Make().String(),
		Email:               email,
		Provider:            "github",
		ProviderSubject:     fmt.Sprintf("gh-%d", now.UnixNano()),
		Role:                model.RoleUser,
		Tier:                model.TierFree,
		AutoShutdownEnabled: true,
		CreatedAt:           now,
	}
}

// NewTestEnvironment creates a test environment with sensible defaults.
func NewTestEnvironment(t testing.TB, ownerID, applicationID string) *model.Environment {
	t.Helper()
	now := time.Now().UTC()
	id := ulid.Make().String()
	return &model.Environment{
		ID:            id,
		OwnerID:       ownerID,
		ApplicationID: applicationID,
		PodName:       fmt.Sprintf("ws-test-%s", id[len(id)-8:]),
		ServiceName:   fmt.Sprintf("ws-test-%s-http", id[len(id)-8:]),
		Resources: model.ResourceConfig{
			CPULimit:    "1",
			MemoryLimit: "2Gi",
			StorageSize: "5Gi",
		},
		Status:         model.StatusRequested,
		CreatedAt:      now,
		LastActivityAt: now,
		UpdatedAt:      now,
	}
}

// UniqueEmail generates a unique email address for tests.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}
