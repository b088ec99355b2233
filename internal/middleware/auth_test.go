package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labpod/labpod/internal/auth"
	"github.com/labpod/labpod/internal/identity"
	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/token"
)

type stubVerifier struct {
	claims *token.Claims
	err    error
}

func (v stubVerifier) Verify(context.Context, string) (*token.Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionClaims(subject string, role model.Role) *token.Claims {
	return &token.Claims{
		Role: role,
		Tier: model.TierFree,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: subject,
			ID:      "jti-" + subject,
		},
	}
}

func authErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestRequireSessionInjectsClaims(t *testing.T) {
	cfg := AuthConfig{
		Logger:   discardLogger(),
		Verifier: stubVerifier{claims: sessionClaims("01HUSER", model.RoleUser)},
	}

	var gotUserID string
	handler := RequireSession(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/environments", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "01HUSER", gotUserID)
}

func TestRequireSessionRejections(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		verifier   SessionVerifier
	}{
		{
			name:     "missing token",
			verifier: stubVerifier{claims: sessionClaims("01HUSER", model.RoleUser)},
		},
		{
			name:       "malformed header",
			authHeader: "Token abc",
			verifier:   stubVerifier{claims: sessionClaims("01HUSER", model.RoleUser)},
		},
		{
			name:       "expired token",
			authHeader: "Bearer expired",
			verifier:   stubVerifier{err: token.ErrExpired},
		},
		{
			name:       "revoked session",
			authHeader: "Bearer revoked",
			verifier:   stubVerifier{err: identity.ErrSessionRevoked},
		},
		{
			name:       "garbage token",
			authHeader: "Bearer garbage",
			verifier:   stubVerifier{err: token.ErrInvalid},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AuthConfig{Logger: discardLogger(), Verifier: tt.verifier}

			handler := RequireSession(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be reached")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/environments", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			// All failures look identical to the caller.
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", authErrorCode(t, rec))
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), sessionClaims("01HADMIN", model.RoleAdmin)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), sessionClaims("01HUSER", model.RoleResearcher)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", authErrorCode(t, rec))
}
