package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Mocks
// ============================================================================

type mockUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User // keyed by provider+"/"+subject

	upsertErr error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]*model.User)}
}

func (m *mockUserStore) UpsertUser(_ context.Context, user *model.User) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	key := user.Provider + "/" + user.ProviderSubject
	if existing, ok := m.users[key]; ok {
		existing.Email = user.Email
		copied := *existing
		return &copied, nil
	}

	copied := *user
	m.users[key] = &copied
	out := copied
	return &out, nil
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, errors.New("user not found")
}

func (m *mockUserStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type mockActivity struct {
	mu      sync.Mutex
	entries []*model.ActivityLogEntry
}

func (m *mockActivity) RecordActivity(_ context.Context, entry *model.ActivityLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type mockRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func newMockRevocations() *mockRevocations {
	return &mockRevocations{revoked: make(map[string]bool)}
}

func (m *mockRevocations) RevokeSession(_ context.Context, sessionID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[sessionID] = true
	return nil
}

func (m *mockRevocations) IsSessionRevoked(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[sessionID], nil
}

type stubProvider struct {
	name     string
	identity *Identity
	err      error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) FetchIdentity(context.Context, string) (*Identity, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.identity, nil
}

// ============================================================================
// Gateway tests
// ============================================================================

type gatewayFixture struct {
	gateway  *Gateway
	users    *mockUserStore
	activity *mockActivity
	revoked  *mockRevocations
	tokens   *token.Manager
	provider *stubProvider
}

func newGatewayFixture(t *testing.T, ttl, refreshWindow time.Duration) *gatewayFixture {
	t.Helper()

	users := newMockUserStore()
	activity := &mockActivity{}
	revoked := newMockRevocations()
	tokens := token.NewManager("test-secret", "labpod", "labpod-api", ttl, refreshWindow)
	provider := &stubProvider{
		name: "github",
		identity: &Identity{
			Subject:       "gh-1",
			Email:         "jane@example.com",
			Name:          "Jane Doe",
			EmailVerified: true,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &gatewayFixture{
		gateway:  NewGateway([]Provider{provider}, users, activity, revoked, tokens, logger),
		users:    users,
		activity: activity,
		revoked:  revoked,
		tokens:   tokens,
		provider: provider,
	}
}

func TestGatewayExchange(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)

	signed, user, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, model.RoleUser, user.Role, "first sighting gets default role")
	assert.Equal(t, model.TierFree, user.Tier, "first sighting gets default tier")

	claims, err := f.tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.NotEmpty(t, claims.SessionID())

	require.Len(t, f.activity.entries, 1)
	assert.Equal(t, model.ActionLogin, f.activity.entries[0].Action)
}

func TestGatewayExchange_ReturningUserKeepsAssignments(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)

	_, first, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	require.NoError(t, err)

	// Admin promotes the user between logins.
	f.users.mu.Lock()
	for _, u := range f.users.users {
		if u.ID == first.ID {
			u.Role = model.RoleAdmin
			u.Tier = model.TierPaid
		}
	}
	f.users.mu.Unlock()

	signed, second, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same identity must map to the same user")
	assert.Equal(t, model.RoleAdmin, second.Role)

	claims, err := f.tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, claims.Role, "new token embeds current role")
	assert.Equal(t, model.TierPaid, claims.Tier)
}

func TestGatewayExchange_UnverifiedEmail(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)
	f.provider.identity.EmailVerified = false

	_, _, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	assert.ErrorIs(t, err, ErrEmailUnverified)
	assert.Zero(t, f.users.count(), "no user row for unverified emails")
	assert.Empty(t, f.activity.entries)
}

func TestGatewayExchange_UnknownProvider(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)

	_, _, err := f.gateway.Exchange(context.Background(), "gitlab", "token")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestGatewayExchange_ProviderUnreachable(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)
	f.provider.err = ErrProviderUnreachable

	_, _, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	assert.ErrorIs(t, err, ErrProviderUnreachable)
	assert.Zero(t, f.users.count())
}

func TestGatewayVerify(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)

	signed, user, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	require.NoError(t, err)

	claims, err := f.gateway.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
}

func TestGatewayVerify_Revoked(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)

	signed, _, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	require.NoError(t, err)

	require.NoError(t, f.gateway.Revoke(context.Background(), signed))

	_, err = f.gateway.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestGatewayVerify_Garbage(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)

	_, err := f.gateway.Verify(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, token.ErrInvalid)
}

func TestGatewayRefresh_TooEarly(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)

	signed, _, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	require.NoError(t, err)

	_, err = f.gateway.Refresh(context.Background(), signed)
	assert.ErrorIs(t, err, ErrRefreshNotAllowed)
}

func TestGatewayRefresh_ReembedsCurrentRole(t *testing.T) {
	// A refresh window wider than the TTL makes every live token
	// eligible, which keeps the test free of sleeps.
	f := newGatewayFixture(t, time.Hour, 2*time.Hour)

	signed, user, err := f.gateway.Exchange(context.Background(), "github", "gho_test")
	require.NoError(t, err)
	oldClaims, err := f.tokens.Parse(signed)
	require.NoError(t, err)

	// Tier upgrade lands between issue and refresh.
	f.users.mu.Lock()
	for _, u := range f.users.users {
		if u.ID == user.ID {
			u.Tier = model.TierPaid
		}
	}
	f.users.mu.Unlock()

	fresh, err := f.gateway.Refresh(context.Background(), signed)
	require.NoError(t, err)

	claims, err := f.tokens.Parse(fresh)
	require.NoError(t, err)
	assert.Equal(t, model.TierPaid, claims.Tier)
	assert.NotEqual(t, oldClaims.SessionID(), claims.SessionID())

	// The old session must be dead.
	_, err = f.gateway.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestGatewayRevoke_InvalidTokenIsNoop(t *testing.T) {
	f := newGatewayFixture(t, time.Hour, 10*time.Minute)

	assert.NoError(t, f.gateway.Revoke(context.Background(), "garbage"))
}
