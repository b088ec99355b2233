package dto

import (
	"time"

	"github.com/labpod/labpod/internal/model"
)

// ExchangeRequest represents the request body for exchanging a
// provider access token for an internal session.
type ExchangeRequest struct {
	Provider    string `json:"provider"`
	AccessToken string `json:"access_token"`
}

// SessionResponse represents an issued session.
type SessionResponse struct {
	Token     string       `json:"access_token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Provider            string     `json:"provider"`
	Role                string     `json:"role"`
	Tier                string     `json:"tier"`
	AutoShutdownEnabled bool       `json:"auto_shutdown_enabled"`
	MaxUptimeMinutes    int        `json:"max_uptime_minutes,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
}

// UserListResponse represents a list of users.
type UserListResponse struct {
	Data []UserResponse `json:"data"`
}

// UpdateUserRequest represents the admin request body for changing a
// user's assignments. Nil fields are left unchanged.
type UpdateUserRequest struct {
	Role                *string `json:"role,omitempty"`
	Tier                *string `json:"tier,omitempty"`
	AutoShutdownEnabled *bool   `json:"auto_shutdown_enabled,omitempty"`
	MaxUptimeMinutes    *int    `json:"max_uptime_minutes,omitempty"`
}

// ToUserResponse converts a User model to its DTO.
func ToUserResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:                  user.ID,
		Email:               user.Email,
		Provider:            user.Provider,
		Role:                string(user.Role),
		Tier:                string(user.Tier),
		AutoShutdownEnabled: user.AutoShutdownEnabled,
		MaxUptimeMinutes:    user.MaxUptimeMinutes,
		CreatedAt:           user.CreatedAt,
		LastLogin:           user.LastLogin,
	}
}

// ToUserListResponse converts a slice of users.
func ToUserListResponse(users []*model.User) *UserListResponse {
	responses := make([]UserResponse, len(users))
	for i, user := range users {
		responses[i] = *ToUserResponse(user)
	}
	return &UserListResponse{Data: responses}
}
