package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/labpod/labpod/internal/auth"
	"github.com/labpod/labpod/internal/handler/dto"
	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/orchestrator"
)

// EnvironmentHandler handles HTTP requests for environment operations.
type EnvironmentHandler struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewEnvironmentHandler creates a new EnvironmentHandler.
func NewEnvironmentHandler(orch *orchestrator.Orchestrator, logger *slog.Logger) *EnvironmentHandler {
	return &EnvironmentHandler{
		orch:   orch,
		logger: logger,
	}
}

// actorFrom builds the orchestrator actor for the session.
func actorFrom(r *http.Request) orchestrator.Actor {
	claims := auth.MustClaimsFromContext(r.Context())
	return orchestrator.Actor{
		UserID: claims.Subject,
		Admin:  claims.Role == model.RoleAdmin,
	}
}

// Launch handles POST /api/v1/environments. Launching an application
// that is already active returns the existing environment with 200.
func (h *EnvironmentHandler) Launch(w http.ResponseWriter, r *http.Request) {
	var req dto.LaunchEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if req.ApplicationID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "application_id is required")
		return
	}

	result, err := h.orch.Launch(r.Context(), actorFrom(r), orchestrator.LaunchInput{
		ApplicationID: req.ApplicationID,
		Resources: model.ResourceConfig{
			CPULimit:    req.CPULimit,
			MemoryLimit: req.MemoryLimit,
			StorageSize: req.StorageSize,
		},
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dto.ToEnvironmentResponse(result.Environment))
}

// List handles GET /api/v1/environments. Admins may pass ?owner_id= to
// inspect another user's environments.
func (h *EnvironmentHandler) List(w http.ResponseWriter, r *http.Request) {
	envs, err := h.orch.List(r.Context(), actorFrom(r), r.URL.Query().Get("owner_id"))
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToEnvironmentListResponse(envs))
}

// Get handles GET /api/v1/environments/{id}.
func (h *EnvironmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	env, err := h.orch.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToEnvironmentResponse(env))
}

// Stop handles POST /api/v1/environments/{id}/stop. Shutdown is
// asynchronous: the reconciler confirms the stop.
func (h *EnvironmentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.Stop(r.Context(), actorFrom(r), id); err != nil {
		h.handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Restart handles POST /api/v1/environments/{id}/restart.
func (h *EnvironmentHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.Restart(r.Context(), actorFrom(r), id); err != nil {
		h.handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Delete handles DELETE /api/v1/environments/{id}.
func (h *EnvironmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.Delete(r.Context(), actorFrom(r), id); err != nil {
		h.handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Heartbeat handles POST /api/v1/environments/heartbeat. Always
// returns 200; a workspace beacon must never see an error for a
// malformed body or a stale or foreign ID.
func (h *EnvironmentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req dto.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.EnvID != "" {
		h.orch.Heartbeat(r.Context(), actorFrom(r), req.EnvID)
	}
	w.WriteHeader(http.StatusOK)
}

// Activity handles GET /api/v1/environments/{id}/activity.
func (h *EnvironmentHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	entries, err := h.orch.Activity(r.Context(), actorFrom(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToActivityListResponse(entries))
}

// handleError maps orchestrator errors to HTTP responses.
func (h *EnvironmentHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Environment not found")
	case errors.Is(err, orchestrator.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Environment belongs to another user")
	case errors.Is(err, orchestrator.ErrQuotaExceeded):
		writeError(w, http.StatusConflict, "QUOTA_EXCEEDED", "Active environment quota exceeded")
	case errors.Is(err, orchestrator.ErrUnknownApplication):
		writeError(w, http.StatusBadRequest, "UNKNOWN_APPLICATION", "Unknown application")
	case errors.Is(err, orchestrator.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "Operation not valid in current state")
	case errors.Is(err, orchestrator.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid resource request")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
