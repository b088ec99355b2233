package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labpod/labpod/internal/handler/dto"
	"github.com/labpod/labpod/internal/identity"
	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/token"
)

type stubProvider struct {
	identity *identity.Identity
	err      error
}

func (stubProvider) Name() string { return "github" }

func (p stubProvider) FetchIdentity(context.Context, string) (*identity.Identity, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.identity, nil
}

type stubUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newStubUserStore() *stubUserStore {
	return &stubUserStore{users: make(map[string]*model.User)}
}

func (s *stubUserStore) UpsertUser(_ context.Context, user *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Provider == user.Provider && u.ProviderSubject == user.ProviderSubject {
			copied := *u
			return &copied, nil
		}
	}
	copied := *user
	s.users[user.ID] = &copied
	out := copied
	return &out, nil
}

func (s *stubUserStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, errors.New("user not found")
}

type stubRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (s *stubRevocations) RevokeSession(_ context.Context, id string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[id] = true
	return nil
}

func (s *stubRevocations) IsSessionRevoked(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[id], nil
}

type nullActivity struct{}

func (nullActivity) RecordActivity(context.Context, *model.ActivityLogEntry) error { return nil }

func newAuthHandlerFixture(t *testing.T, provider identity.Provider) (*AuthHandler, *stubUserStore) {
	t.Helper()

	users := newStubUserStore()
	tokens := token.NewManager("test-secret", "labpod", "labpod-api", time.Hour, 15*time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway := identity.NewGateway(
		[]identity.Provider{provider},
		users,
		nullActivity{},
		&stubRevocations{revoked: make(map[string]bool)},
		tokens,
		logger,
	)

	return NewAuthHandler(gateway, users, logger, nil), users
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestExchangeEndpoint(t *testing.T) {
	h, _ := newAuthHandlerFixture(t, stubProvider{identity: &identity.Identity{
		Subject:       "gh-1",
		Email:         "jane@example.com",
		EmailVerified: true,
	}})

	rec := postJSON(t, h.Exchange, "/api/v1/auth/exchange", dto.ExchangeRequest{
		Provider:    "github",
		AccessToken: "gho_token",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
	assert.Equal(t, "jane@example.com", resp.User.Email)
	assert.Equal(t, string(model.RoleUser), resp.User.Role)
	assert.Equal(t, string(model.TierFree), resp.User.Tier)
}

func TestExchangeEndpointValidation(t *testing.T) {
	h, _ := newAuthHandlerFixture(t, stubProvider{})

	rec := postJSON(t, h.Exchange, "/api/v1/auth/exchange", dto.ExchangeRequest{Provider: "github"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = postJSON(t, h.Exchange, "/api/v1/auth/exchange", dto.ExchangeRequest{
		Provider:    "gitlab",
		AccessToken: "tok",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_PROVIDER", errorCode(t, rec))
}

func TestExchangeEndpointUnverifiedEmail(t *testing.T) {
	h, _ := newAuthHandlerFixture(t, stubProvider{identity: &identity.Identity{
		Subject: "gh-2",
		Email:   "jane@example.com",
	}})

	rec := postJSON(t, h.Exchange, "/api/v1/auth/exchange", dto.ExchangeRequest{
		Provider:    "github",
		AccessToken: "gho_token",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNVERIFIED_EMAIL", errorCode(t, rec))
}

func TestExchangeEndpointProviderUnreachable(t *testing.T) {
	h, _ := newAuthHandlerFixture(t, stubProvider{err: identity.ErrProviderUnreachable})

	rec := postJSON(t, h.Exchange, "/api/v1/auth/exchange", dto.ExchangeRequest{
		Provider:    "github",
		AccessToken: "gho_token",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PROVIDER_UNREACHABLE", errorCode(t, rec))
}

func TestRefreshEndpointTooEarly(t *testing.T) {
	h, _ := newAuthHandlerFixture(t, stubProvider{identity: &identity.Identity{
		Subject:       "gh-3",
		Email:         "jane@example.com",
		EmailVerified: true,
	}})

	rec := postJSON(t, h.Exchange, "/api/v1/auth/exchange", dto.ExchangeRequest{
		Provider:    "github",
		AccessToken: "gho_token",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var session dto.SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))

	// A fresh one-hour token is outside the 15-minute refresh window.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	h.Refresh(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "REFRESH_NOT_ALLOWED", errorCode(t, rec))
}

func TestLogoutEndpointAlwaysSucceeds(t *testing.T) {
	h, _ := newAuthHandlerFixture(t, stubProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	h.Logout(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	rec = httptest.NewRecorder()
	h.Logout(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
