package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labpod/labpod/internal/auth"
	"github.com/labpod/labpod/internal/handler/dto"
	"github.com/labpod/labpod/internal/identity"
	"github.com/labpod/labpod/internal/metrics"
	"github.com/labpod/labpod/internal/token"
)

// AuthHandler handles session exchange, refresh, and logout.
type AuthHandler struct {
	gateway *identity.Gateway
	users   identity.UserStore
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(gateway *identity.Gateway, users identity.UserStore, logger *slog.Logger, recorder metrics.Recorder) *AuthHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AuthHandler{
		gateway: gateway,
		users:   users,
		logger:  logger,
		metrics: recorder,
	}
}

// Exchange handles POST /api/v1/auth/exchange. It trades a provider
// access token for an internal session token.
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req dto.ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if req.Provider == "" || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "provider and access_token are required")
		return
	}

	signed, user, err := h.gateway.Exchange(r.Context(), req.Provider, req.AccessToken)
	if err != nil {
		h.handleError(w, err)
		return
	}

	claims, err := h.gateway.Verify(r.Context(), signed)
	if err != nil {
		h.logger.Error("issued token failed verification", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	h.metrics.IncSessionIssued(req.Provider)
	h.logger.Info("session issued",
		"user_id", user.ID,
		"provider", req.Provider,
	)

	writeJSON(w, http.StatusOK, dto.SessionResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      *dto.ToUserResponse(user),
	})
}

// Refresh handles POST /api/v1/auth/refresh. The current session token
// comes in the Authorization header; a fresh one is returned and the
// old session is revoked.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := sessionToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session token")
		return
	}

	signed, err := h.gateway.Refresh(r.Context(), raw)
	if err != nil {
		h.handleError(w, err)
		return
	}

	claims, err := h.gateway.Verify(r.Context(), signed)
	if err != nil {
		h.logger.Error("refreshed token failed verification", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	h.metrics.IncSessionRefreshed()

	writeJSON(w, http.StatusOK, dto.SessionResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      *dto.ToUserResponse(user),
	})
}

// Logout handles POST /api/v1/auth/logout. Revocation of an invalid or
// expired token is a no-op, so logout always succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := sessionToken(r); raw != "" {
		if err := h.gateway.Revoke(r.Context(), raw); err != nil {
			h.logger.Warn("failed to revoke session", "error", err.Error())
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me. Requires a session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.MustClaimsFromContext(r.Context())

	user, err := h.users.GetUserByID(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// handleError maps identity errors to HTTP responses.
func (h *AuthHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "UNKNOWN_PROVIDER", "Unknown identity provider")
	case errors.Is(err, identity.ErrEmailUnverified):
		writeError(w, http.StatusForbidden, "UNVERIFIED_EMAIL", "A verified email address is required")
	case errors.Is(err, identity.ErrProviderDenied):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Provider rejected the access token")
	case errors.Is(err, identity.ErrProviderUnreachable):
		writeError(w, http.StatusBadGateway, "PROVIDER_UNREACHABLE", "Identity provider is unreachable")
	case errors.Is(err, identity.ErrRefreshNotAllowed):
		writeError(w, http.StatusForbidden, "REFRESH_NOT_ALLOWED", "Session is not eligible for refresh")
	case errors.Is(err, identity.ErrSessionRevoked),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrInvalid):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing session token")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// sessionToken extracts the Bearer token from the Authorization header.
func sessionToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
