package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labpod/labpod/internal/auth"
	"github.com/labpod/labpod/internal/identity"
	"github.com/labpod/labpod/internal/metrics"
	"github.com/labpod/labpod/internal/token"
)

// SessionVerifier validates a raw session token and returns its
// claims. Implemented by *identity.Gateway.
type SessionVerifier interface {
	Verify(ctx context.Context, raw string) (*token.Claims, error)
}

// AuthConfig holds configuration for the session auth middleware.
type AuthConfig struct {
	Logger   *slog.Logger
	Verifier SessionVerifier
	Metrics  metrics.Recorder
}

// RequireSession returns a middleware that authenticates requests with
// a Bearer session token. Valid claims are injected into the request
// context; everything else gets a uniform 401.
func RequireSession(cfg AuthConfig) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				rejectAuth(w, r, cfg.Logger, recorder, "missing_token")
				return
			}

			claims, err := cfg.Verifier.Verify(r.Context(), raw)
			if err != nil {
				rejectAuth(w, r, cfg.Logger, recorder, authRejectReason(err))
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns a middleware that restricts a route to admin
// sessions. Must be applied after RequireSession.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.IsAdminFromContext(r.Context()) {
				logger.Warn("admin route denied",
					slog.String("user_id", auth.UserIDFromContext(r.Context())),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":"FORBIDDEN","message":"Admin access required"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func authRejectReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "token_expired"
	case errors.Is(err, identity.ErrSessionRevoked):
		return "session_revoked"
	default:
		return "invalid_token"
	}
}

func rejectAuth(w http.ResponseWriter, r *http.Request, logger *slog.Logger, recorder metrics.Recorder, reason string) {
	recorder.IncAuthRejected(reason)
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	writeAuthError(w)
}

// bearerToken extracts the session token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// writeAuthError writes a 401 Unauthorized response. The message is the
// same for all auth failures to prevent probing.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Invalid or missing session token"}}`))
}
