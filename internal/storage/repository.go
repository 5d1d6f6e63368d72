package storage

import (
	"context"

	"github.com/terra-clan/roadmap-engine/internal/models"
)

// Repository defines the domain source consumed by the projection engine,
// plus the write surface used by fixture seeding. The engine itself only
// reads; tracks, instances and items are owned by the roadmap write path.
type Repository interface {
	// Roadmap reads
	GetTrackTree(ctx context.Context, projectID string) ([]*models.Track, error)
	GetItemsByProject(ctx context.Context, projectID string) ([]*models.WorkItem, error)
	GetTracksWithInstances(ctx context.Context, projectID string, includeInstances bool) ([]*models.TrackWithInstance, error)
	GetTrackInstance(ctx context.Context, trackID, projectID string) (*models.TrackInstance, error)

	// Seed writes
	UpsertTrack(ctx context.Context, track *models.Track, parentID string) error
	UpsertWorkItem(ctx context.Context, item *models.WorkItem) error
	UpsertTrackInstance(ctx context.Context, inst *models.TrackInstance) error
	UpsertProjectMember(ctx context.Context, projectID, actorID, role string) error

	// API clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
