package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitHubProvider_FetchIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			w.Write([]byte(`{"id": 12345, "login": "jane", "name": "Jane Doe", "email": ""}`))
		case "/user/emails":
			w.Write([]byte(`[
				{"email": "old@example.com", "primary": false, "verified": true},
				{"email": "jane@example.com", "primary": true, "verified": true},
				{"email": "spam@example.com", "primary": false, "verified": false}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewGitHubProviderWithBaseURL(server.URL)
	identity, err := p.FetchIdentity(context.Background(), "gho_test")
	require.NoError(t, err)

	assert.Equal(t, "12345", identity.Subject)
	assert.Equal(t, "jane@example.com", identity.Email, "primary verified email wins")
	assert.Equal(t, "Jane Doe", identity.Name)
	assert.True(t, identity.EmailVerified)
}

func TestGitHubProvider_FallsBackToVerifiedNonPrimary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			w.Write([]byte(`{"id": 1, "login": "jane"}`))
		case "/user/emails":
			w.Write([]byte(`[{"email": "side@example.com", "primary": false, "verified": true}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewGitHubProviderWithBaseURL(server.URL)
	identity, err := p.FetchIdentity(context.Background(), "gho_test")
	require.NoError(t, err)

	assert.Equal(t, "side@example.com", identity.Email)
	assert.True(t, identity.EmailVerified)
	assert.Equal(t, "jane", identity.Name, "login is the fallback display name")
}

func TestGitHubProvider_NoVerifiedEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			w.Write([]byte(`{"id": 1, "login": "jane", "email": "unverified@example.com"}`))
		case "/user/emails":
			w.Write([]byte(`[{"email": "unverified@example.com", "primary": true, "verified": false}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewGitHubProviderWithBaseURL(server.URL)
	identity, err := p.FetchIdentity(context.Background(), "gho_test")
	require.NoError(t, err)

	assert.False(t, identity.EmailVerified)
}

func TestGitHubProvider_BadToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewGitHubProviderWithBaseURL(server.URL)
	_, err := p.FetchIdentity(context.Background(), "gho_bad")
	assert.ErrorIs(t, err, ErrProviderDenied)
}

func TestGitHubProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewGitHubProviderWithBaseURL(server.URL)
	_, err := p.FetchIdentity(context.Background(), "gho_test")
	assert.ErrorIs(t, err, ErrProviderUnreachable)
}

func TestGitHubProvider_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Shut down immediately so the dial fails.

	p := NewGitHubProviderWithBaseURL(server.URL)
	_, err := p.FetchIdentity(context.Background(), "gho_test")
	assert.ErrorIs(t, err, ErrProviderUnreachable)
}

func TestGoogleProvider_FetchIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/v2/userinfo", r.URL.Path)
		assert.Equal(t, "Bearer ya29.test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id": "g-123", "email": "jane@gmail.com", "name": "Jane Doe", "verified_email": true}`))
	}))
	defer server.Close()

	p := NewGoogleProviderWithBaseURL(server.URL)
	identity, err := p.FetchIdentity(context.Background(), "ya29.test")
	require.NoError(t, err)

	assert.Equal(t, "g-123", identity.Subject)
	assert.Equal(t, "jane@gmail.com", identity.Email)
	assert.True(t, identity.EmailVerified)
}

func TestGoogleProvider_UnverifiedEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "g-123", "email": "jane@gmail.com", "verified_email": false}`))
	}))
	defer server.Close()

	p := NewGoogleProviderWithBaseURL(server.URL)
	identity, err := p.FetchIdentity(context.Background(), "ya29.test")
	require.NoError(t, err)

	assert.False(t, identity.EmailVerified)
}

func TestProviderNames(t *testing.T) {
	assert.Equal(t, "github", NewGitHubProvider().Name())
	assert.Equal(t, "google", NewGoogleProvider().Name())
}
