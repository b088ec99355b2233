package model

import "time"

// EnvStatus represents an environment's lifecycle state.
type EnvStatus string

const (
	StatusRequested EnvStatus = "requested"
	StatusCreating  EnvStatus = "creating"
	StatusRunning   EnvStatus = "running"
	StatusStopping  EnvStatus = "stopping"
	StatusStopped   EnvStatus = "stopped"
	StatusError     EnvStatus = "error"
	StatusDeleted   EnvStatus = "deleted"
)

// ActiveStatuses are the states that count toward the owner's quota.
// Environments in `error` also count during a short grace window; that
// window is applied at the registry query, not here.
var ActiveStatuses = []EnvStatus{StatusCreating, StatusRunning}

// IsTerminal returns true for states with no outgoing transitions.
func (s EnvStatus) IsTerminal() bool {
	return s == StatusDeleted
}

// IsActive returns true if the status counts toward the quota.
func (s EnvStatus) IsActive() bool {
	return s == StatusCreating || s == StatusRunning
}

// transitions is the set of legal state changes. `error` is reachable
// from every non-terminal state and is handled separately.
var transitions = map[EnvStatus][]EnvStatus{
	StatusRequested: {StatusCreating},
	StatusCreating:  {StatusRunning, StatusStopping},
	StatusRunning:   {StatusStopping},
	StatusStopping:  {StatusStopped},
	StatusStopped:   {StatusDeleted, StatusCreating},
	StatusError:     {StatusCreating, StatusStopping, StatusStopped, StatusDeleted},
}

// CanTransition reports whether moving from one status to another is
// a legal state machine step.
func CanTransition(from, to EnvStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResourceConfig holds the compute sizing of an environment.
// Values are Kubernetes quantity strings ("500m", "2Gi").
type ResourceConfig struct {
	CPULimit    string `json:"cpu_limit"`
	MemoryLimit string `json:"memory_limit"`
	StorageSize string `json:"storage_size"`
}

// Environment represents an ephemeral per-user compute workspace.
type Environment struct {
	ID             string         `json:"env_id"`
	OwnerID        string         `json:"owner_id"`
	ApplicationID  string         `json:"application_id"`
	PodName        string         `json:"pod_name"`
	ServiceName    string         `json:"service_name"`
	Resources      ResourceConfig `json:"resources"`
	Status         EnvStatus      `json:"status"`
	StatusReason   string         `json:"status_reason,omitempty"`
	URL            string         `json:"url,omitempty"`
	VolumeName     string         `json:"volume_name,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      *time.Time     `json:"-"`
}

// IsActive returns true if the environment counts toward the quota.
func (e *Environment) IsActive() bool {
	return e.Status.IsActive()
}

// CanRestart returns true if a restart is valid from the current state.
func (e *Environment) CanRestart() bool {
	switch e.Status {
	case StatusRunning, StatusStopped, StatusError:
		return true
	}
	return false
}

// CanDelete returns true if deletion is valid from the current state.
func (e *Environment) CanDelete() bool {
	switch e.Status {
	case StatusStopped, StatusError:
		return true
	}
	return false
}
