package model

import "time"

// Activity actions recorded in the append-only log.
const (
	ActionLogin        = "login"
	ActionLaunch       = "launch"
	ActionStateChange  = "state_change"
	ActionStop         = "stop"
	ActionRestart      = "restart"
	ActionDelete       = "delete"
	ActionAutoShutdown = "auto_shutdown"
)

// ActivityLogEntry is a write-once record of a lifecycle transition
// or authentication event.
type ActivityLogEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	EnvironmentID string    `json:"environment_id,omitempty"`
	Action        string    `json:"action"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
