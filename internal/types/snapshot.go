package types

import "time"

// OperationMode selects which source poller is active.
type OperationMode string

const (
	// ModeTraefik derives hostnames from the Traefik API.
	ModeTraefik OperationMode = "traefik"
	// ModeDirect derives hostnames directly from container labels.
	ModeDirect OperationMode = "direct"
)

// ContainerInput is the slice of container state the reconciler cares about.
type ContainerInput struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels"`
}

// RouterInput is a Traefik router descriptor as returned by its API.
type RouterInput struct {
	Name    string            `json:"name"`
	Rule    string            `json:"rule"`
	Service string            `json:"service,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Snapshot is the latest view of the active source, handed to the reconciler.
//
// Healthy is false when the last fetch failed and the snapshot is a carryover
// of the previous one; the reconciler then skips orphan cleanup so a flapping
// source cannot delete records.
type Snapshot struct {
	Mode       OperationMode    `json:"mode"`
	Healthy    bool             `json:"healthy"`
	Containers []ContainerInput `json:"containers,omitempty"`
	Routers    []RouterInput    `json:"routers,omitempty"`
	TakenAt    time.Time        `json:"taken_at"`
}

// ContainerEvent represents a container lifecycle event from the runtime.
type ContainerEvent struct {
	Action      string    `json:"action"`
	ContainerID string    `json:"container_id"`
	Name        string    `json:"name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
