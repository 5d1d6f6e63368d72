// Package permission answers "can this actor edit this container".
// Lookups can fail; callers treat any failure as no edit access.
package permission

import "context"

// Decision is the outcome of an edit-permission check
type Decision struct {
	CanEdit bool `json:"can_edit"`
}

// Checker resolves edit permissions for roadmap containers
type Checker interface {
	// CheckEdit reports whether the actor may edit the container within
	// the project. An error means the permission is unknown, which
	// callers must treat as denied.
	CheckEdit(ctx context.Context, actorID, containerID, projectID string) (Decision, error)

	// HealthCheck checks if the permission source is available
	HealthCheck(ctx context.Context) error

	// Close releases the checker
	Close() error
}
