package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/labpod/labpod/internal/handler/dto"
	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/repository"
)

// UserAdminStore is the persistence surface for user administration.
// Implemented by *repository.Repository.
type UserAdminStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdateUserSettings(ctx context.Context, user *model.User) error
	ListUserActivity(ctx context.Context, userID string, limit int) ([]*model.ActivityLogEntry, error)
}

// UserHandler handles admin HTTP requests for user management.
// Routes using it must sit behind the admin middleware.
type UserHandler struct {
	users  UserAdminStore
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users UserAdminStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserListResponse(users))
}

// Get handles GET /api/v1/users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// Update handles PATCH /api/v1/users/{id}. Only the fields present in
// the body change; role and tier take effect on the user's next
// session refresh.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}

	if req.Role != nil {
		role := model.Role(*req.Role)
		if !role.IsValid() {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid role")
			return
		}
		user.Role = role
	}
	if req.Tier != nil {
		tier := model.Tier(*req.Tier)
		if !tier.IsValid() {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid tier")
			return
		}
		user.Tier = tier
	}
	if req.AutoShutdownEnabled != nil {
		user.AutoShutdownEnabled = *req.AutoShutdownEnabled
	}
	if req.MaxUptimeMinutes != nil {
		if *req.MaxUptimeMinutes < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "max_uptime_minutes must not be negative")
			return
		}
		user.MaxUptimeMinutes = *req.MaxUptimeMinutes
	}

	if err := h.users.UpdateUserSettings(r.Context(), user); err != nil {
		h.handleError(w, err)
		return
	}

	h.logger.Info("user updated",
		"user_id", user.ID,
		"role", string(user.Role),
		"tier", string(user.Tier),
	)

	writeJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// Activity handles GET /api/v1/users/{id}/activity.
func (h *UserHandler) Activity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.users.ListUserActivity(r.Context(), chi.URLParam(r, "id"), 50)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToActivityListResponse(entries))
}

// handleError maps repository errors to HTTP responses.
func (h *UserHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
