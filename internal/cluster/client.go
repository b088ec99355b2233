// Package cluster provides access to the workspace cluster control plane.
package cluster

import "context"

// PodPhase is the coarse observed state of a workspace pod.
type PodPhase string

const (
	PodPending PodPhase = "pending"
	PodReady   PodPhase = "ready"
	PodFailed  PodPhase = "failed"
)

// PodState is the observed state of a workspace pod.
type PodState struct {
	Phase  PodPhase
	Reason string
}

// WorkspaceSpec describes the cluster resources for one environment.
type WorkspaceSpec struct {
	PodName     string
	ServiceName string
	OwnerID     string
	EnvID       string
	Image       string
	CPULimit    string
	MemoryLimit string

	// VolumeName, when set, mounts the named persistent volume claim
	// into the workspace. StorageSize is informational for claim
	// creation and ignored when the claim already exists.
	VolumeName  string
	StorageSize string
}

// Client is the interface to the cluster control plane. Implementations
// must be safe for concurrent use. Delete operations are idempotent:
// deleting an absent resource returns nil.
type Client interface {
	// CreatePod creates the compute workload for a workspace.
	CreatePod(ctx context.Context, spec WorkspaceSpec) error

	// CreateService creates the network endpoint for a workspace.
	CreateService(ctx context.Context, spec WorkspaceSpec) error

	// DeletePod removes the compute workload. Absent pods are not an error.
	DeletePod(ctx context.Context, name string) error

	// DeleteService removes the network endpoint. Absent services are
	// not an error.
	DeleteService(ctx context.Context, name string) error

	// PodState reports the observed state of a pod, or ErrNotFound.
	PodState(ctx context.Context, name string) (PodState, error)

	// ListPodStates returns the observed state of all workspace pods,
	// keyed by pod name.
	ListPodStates(ctx context.Context) (map[string]PodState, error)

	// ServiceExists reports whether the named service is present.
	ServiceExists(ctx context.Context, name string) (bool, error)

	// Ping verifies connectivity to the cluster API.
	Ping(ctx context.Context) error
}
