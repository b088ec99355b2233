// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/labpod/labpod/internal/model"
)

// LaunchEnvironmentRequest represents the request body for launching
// an environment. Resource fields are optional; omitted values default
// to the caller's tier ceiling.
type LaunchEnvironmentRequest struct {
	ApplicationID string `json:"application_id"`
	CPULimit      string `json:"cpu_limit,omitempty"`
	MemoryLimit   string `json:"memory_limit,omitempty"`
	StorageSize   string `json:"storage_size,omitempty"`
}

// HeartbeatRequest identifies the environment whose inactivity clock
// a workspace beacon resets.
type HeartbeatRequest struct {
	EnvID string `json:"env_id"`
}

// EnvironmentResponse represents an environment in API responses.
type EnvironmentResponse struct {
	ID             string    `json:"id"`
	ApplicationID  string    `json:"application_id"`
	Status         string    `json:"status"`
	StatusReason   string    `json:"status_reason,omitempty"`
	URL            string    `json:"url,omitempty"`
	CPULimit       string    `json:"cpu_limit"`
	MemoryLimit    string    `json:"memory_limit"`
	StorageSize    string    `json:"storage_size"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EnvironmentListResponse represents a list of environments.
type EnvironmentListResponse struct {
	Data []EnvironmentResponse `json:"data"`
}

// ActivityEntryResponse represents one activity log entry.
type ActivityEntryResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	EnvironmentID string    `json:"environment_id,omitempty"`
	Action        string    `json:"action"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ActivityListResponse represents an activity log page.
type ActivityListResponse struct {
	Data []ActivityEntryResponse `json:"data"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToEnvironmentResponse converts an Environment model to its DTO.
// The workspace URL is only exposed once the environment is running.
func ToEnvironmentResponse(env *model.Environment) *EnvironmentResponse {
	url := ""
	if env.Status == model.StatusRunning {
		url = env.URL
	}
	return &EnvironmentResponse{
		ID:             env.ID,
		ApplicationID:  env.ApplicationID,
		Status:         string(env.Status),
		StatusReason:   env.StatusReason,
		URL:            url,
		CPULimit:       env.Resources.CPULimit,
		MemoryLimit:    env.Resources.MemoryLimit,
		StorageSize:    env.Resources.StorageSize,
		CreatedAt:      env.CreatedAt,
		LastActivityAt: env.LastActivityAt,
		UpdatedAt:      env.UpdatedAt,
	}
}

// ToEnvironmentListResponse converts a slice of environments.
func ToEnvironmentListResponse(envs []*model.Environment) *EnvironmentListResponse {
	responses := make([]EnvironmentResponse, len(envs))
	for i, env := range envs {
		responses[i] = *ToEnvironmentResponse(env)
	}
	return &EnvironmentListResponse{Data: responses}
}

// ToActivityListResponse converts activity log entries.
func ToActivityListResponse(entries []*model.ActivityLogEntry) *ActivityListResponse {
	responses := make([]ActivityEntryResponse, len(entries))
	for i, entry := range entries {
		responses[i] = ActivityEntryResponse{
			ID:            entry.ID,
			UserID:        entry.UserID,
			EnvironmentID: entry.EnvironmentID,
			Action:        entry.Action,
			Detail:        entry.Detail,
			CreatedAt:     entry.CreatedAt,
		}
	}
	return &ActivityListResponse{Data: responses}
}
