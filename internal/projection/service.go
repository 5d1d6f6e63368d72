package projection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/terra-clan/roadmap-engine/internal/models"
	"github.com/terra-clan/roadmap-engine/internal/notify"
)

// overlayLoader is the slice of the overlay store the service needs.
// The store is re-read at the start of every build pass so mutations that
// landed between builds are never served from a stale copy.
type overlayLoader interface {
	Load(ctx context.Context, projectID string) *models.OverlayState
}

// Service keeps one projection current for a (project, actor) scope.
//
// It moves between loading, ready and error: a successful build settles in
// ready, a failed domain fetch settles in error with the previous tracks
// cleared (stale data is never exposed alongside an error). A new pass
// starts on scope change, on manual refresh, and on every overlay change
// broadcast for the project.
type Service struct {
	builder  *Builder
	overlays overlayLoader
	broker   notify.Broker

	mu        sync.Mutex
	projectID string
	actorID   string
	epoch     uint64
	state     models.ProjectionState
	tracks    []*models.ProjectedTrack
	buildErr  error
	builtAt   time.Time
	settled   chan struct{}
}

// NewService creates a projection service for one scope. The service is in
// loading state until its first build pass completes.
func NewService(builder *Builder, overlays overlayLoader, broker notify.Broker, projectID, actorID string) *Service {
	return &Service{
		builder:   builder,
		overlays:  overlays,
		broker:    broker,
		projectID: projectID,
		actorID:   actorID,
		state:     models.ProjectionLoading,
		settled:   make(chan struct{}),
	}
}

// Run builds the initial projection and then rebuilds on every overlay
// change broadcast for the service's project, until the context ends
func (s *Service) Run(ctx context.Context) error {
	changes, cancel, err := s.broker.Subscribe(ctx)
	if err != nil {
		s.mu.Lock()
		s.failLocked(err)
		s.mu.Unlock()
		return err
	}
	defer cancel()

	s.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			s.mu.Lock()
			match := change.ProjectID == s.projectID
			s.mu.Unlock()
			if !match {
				continue
			}
			slog.Debug("overlay changed, rebuilding projection",
				"project_id", change.ProjectID,
				"origin", change.Origin,
			)
			s.Refresh(ctx)
		}
	}
}

// SetScope switches the service to a different project or actor. A change
// supersedes any in-flight build and starts a fresh pass.
func (s *Service) SetScope(ctx context.Context, projectID, actorID string) {
	s.mu.Lock()
	if s.projectID == projectID && s.actorID == actorID {
		s.mu.Unlock()
		return
	}
	s.projectID = projectID
	s.actorID = actorID
	s.mu.Unlock()

	s.Refresh(ctx)
}

// Refresh runs one build pass. The pass captures its scope and epoch at
// start; if either moved on by the time it completes, its result is
// discarded rather than applied over a newer trigger's.
func (s *Service) Refresh(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	projectID, actorID := s.projectID, s.actorID
	if s.state != models.ProjectionLoading {
		s.state = models.ProjectionLoading
		s.settled = make(chan struct{})
	}
	s.mu.Unlock()

	ov := s.overlays.Load(ctx, projectID)
	tracks, err := s.builder.Build(ctx, projectID, actorID, ov)

	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || projectID != s.projectID || actorID != s.actorID {
		slog.Debug("discarding superseded projection build",
			"project_id", projectID,
			"epoch", epoch,
			"current_epoch", s.epoch,
		)
		return
	}

	if err != nil {
		slog.Error("projection build failed",
			"project_id", projectID,
			"error", err,
		)
		s.failLocked(err)
		return
	}

	s.state = models.ProjectionReady
	s.tracks = tracks
	s.buildErr = nil
	s.builtAt = time.Now().UTC()
	s.settleLocked()
}

// Wait blocks until the service leaves loading state or the context ends
func (s *Service) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		state := s.state
		settled := s.settled
		s.mu.Unlock()

		if state != models.ProjectionLoading {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-settled:
		}
	}
}

// Result snapshots the current projection for the presentation layer
func (s *Service) Result() *models.ProjectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.ProjectionResult{
		Tracks:      s.tracks,
		TotalTracks: len(s.tracks),
		State:       s.state,
	}
	for _, track := range s.tracks {
		result.TotalItems += track.TotalItemCount
	}
	if s.buildErr != nil {
		result.Error = s.buildErr.Error()
	}
	if !s.builtAt.IsZero() {
		builtAt := s.builtAt
		result.BuiltAt = &builtAt
	}

	return result
}

// Scope returns the service's current project and actor
func (s *Service) Scope() (projectID, actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID, s.actorID
}

// failLocked transitions to error, clearing any previously ready tracks
func (s *Service) failLocked(err error) {
	s.state = models.ProjectionError
	s.tracks = nil
	s.buildErr = err
	s.settleLocked()
}

// settleLocked releases waiters blocked on the current loading pass
func (s *Service) settleLocked() {
	select {
	case <-s.settled:
	default:
		close(s.settled)
	}
}
