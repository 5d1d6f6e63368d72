package overlay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/terra-clan/roadmap-engine/internal/models"
	"github.com/terra-clan/roadmap-engine/internal/notify"
)

// Store loads, saves and mutates the per-project UI overlay. Every mutation
// persists immediately and broadcasts a change so other projection service
// instances watching the same project resynchronize.
//
// Persistence is fire-and-forget: a failed write keeps the mutated state
// for the caller and logs the failure, it never fails the interaction.
type Store struct {
	kv      KV
	broker  notify.Broker
	prefix  string
	idleTTL time.Duration
}

// NewStore creates an overlay store over the given KV and change broker
func NewStore(kv KV, broker notify.Broker, prefix string, idleTTL time.Duration) *Store {
	return &Store{
		kv:      kv,
		broker:  broker,
		prefix:  prefix,
		idleTTL: idleTTL,
	}
}

// Key returns the storage key for a project's overlay
func (s *Store) Key(projectID string) string {
	return s.prefix + projectID
}

// Load reads the overlay for a project. A missing key yields the default
// state (nothing collapsed, week view, anchored to today); an unreadable or
// unparseable value is logged and also falls back to the default.
func (s *Store) Load(ctx context.Context, projectID string) *models.OverlayState {
	key := s.Key(projectID)

	value, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		slog.Warn("overlay read failed, using defaults", "key", key, "error", err)
		return models.DefaultOverlayState()
	}
	if !ok {
		return models.DefaultOverlayState()
	}

	var state models.OverlayState
	if err := json.Unmarshal(value, &state); err != nil {
		slog.Warn("overlay parse failed, using defaults", "key", key, "error", err)
		return models.DefaultOverlayState()
	}

	state.Normalize()
	return &state
}

// Save persists the overlay and broadcasts the change. Both steps tolerate
// failure by logging; the caller keeps the in-memory state either way.
func (s *Store) Save(ctx context.Context, projectID string, state *models.OverlayState) {
	key := s.Key(projectID)
	state.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(state)
	if err != nil {
		slog.Error("overlay marshal failed", "key", key, "error", err)
		return
	}

	if err := s.kv.Set(ctx, key, value, s.idleTTL); err != nil {
		slog.Warn("overlay write failed, keeping state in memory", "key", key, "error", err)
	}

	if err := s.broker.Publish(ctx, notify.Change{Key: key, ProjectID: projectID}); err != nil {
		slog.Warn("overlay change broadcast failed", "key", key, "error", err)
	}
}

// Reset deletes the persisted overlay, returning the project to defaults
func (s *Store) Reset(ctx context.Context, projectID string) *models.OverlayState {
	key := s.Key(projectID)

	if err := s.kv.Delete(ctx, key); err != nil {
		slog.Warn("overlay delete failed", "key", key, "error", err)
	}
	if err := s.broker.Publish(ctx, notify.Change{Key: key, ProjectID: projectID}); err != nil {
		slog.Warn("overlay change broadcast failed", "key", key, "error", err)
	}

	return models.DefaultOverlayState()
}

// update is the shared load-mutate-save cycle behind every helper
func (s *Store) update(ctx context.Context, projectID string, fn func(*models.OverlayState)) *models.OverlayState {
	state := s.Load(ctx, projectID)
	fn(state)
	s.Save(ctx, projectID, state)
	return state
}

// Collapse helpers

// SetTrackCollapsed records an explicit collapse or expand of a top-level
// track. The id moves between the two sets; it never lives in both.
func (s *Store) SetTrackCollapsed(ctx context.Context, projectID, trackID string, collapsed bool) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		setCollapsed(o.CollapsedTracks, o.ExpandedTracks, trackID, collapsed)
	})
}

// ToggleTrackCollapsed flips a track between the explicit sets. A track in
// neither set is treated as expanded and collapses first; callers that need
// instance-default awareness use SetTrackCollapsed with the resolved state.
func (s *Store) ToggleTrackCollapsed(ctx context.Context, projectID, trackID string) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		setCollapsed(o.CollapsedTracks, o.ExpandedTracks, trackID, !o.CollapsedTracks.Has(trackID))
	})
}

// SetSubtrackCollapsed records an explicit collapse or expand of a subtrack
func (s *Store) SetSubtrackCollapsed(ctx context.Context, projectID, subtrackID string, collapsed bool) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		setCollapsed(o.CollapsedSubtracks, o.ExpandedSubtracks, subtrackID, collapsed)
	})
}

// ToggleSubtrackCollapsed flips a subtrack between the explicit sets
func (s *Store) ToggleSubtrackCollapsed(ctx context.Context, projectID, subtrackID string) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		setCollapsed(o.CollapsedSubtracks, o.ExpandedSubtracks, subtrackID, !o.CollapsedSubtracks.Has(subtrackID))
	})
}

// ExpandAll clears both collapse sets. Explicit expand overrides survive so
// instance-default-collapsed containers stay open afterwards.
func (s *Store) ExpandAll(ctx context.Context, projectID string) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		o.CollapsedTracks = models.IDSet{}
		o.CollapsedSubtracks = models.IDSet{}
	})
}

// CollapseTracks collapses the given top-level tracks in one write
func (s *Store) CollapseTracks(ctx context.Context, projectID string, trackIDs []string) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		for _, id := range trackIDs {
			setCollapsed(o.CollapsedTracks, o.ExpandedTracks, id, true)
		}
	})
}

// Highlight and focus helpers

// SetTrackHighlighted adds or removes a track from the highlight set
func (s *Store) SetTrackHighlighted(ctx context.Context, projectID, trackID string, highlighted bool) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		if highlighted {
			o.HighlightedTracks.Add(trackID)
		} else {
			o.HighlightedTracks.Remove(trackID)
		}
	})
}

// SetFocusedTrack sets the focused track; an empty id clears focus
func (s *Store) SetFocusedTrack(ctx context.Context, projectID, trackID string) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		o.FocusedTrackID = trackID
	})
}

// View navigation helpers

// SetViewMode switches the timeline zoom level
func (s *Store) SetViewMode(ctx context.Context, projectID string, mode models.ViewMode) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		if mode.IsValid() {
			o.ViewMode = mode
		}
	})
}

// SetAnchorDate moves the timeline anchor to a specific date
func (s *Store) SetAnchorDate(ctx context.Context, projectID string, date time.Time) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		o.AnchorDate = models.StartOfDay(date)
	})
}

// ShiftWeeks moves the anchor by n weeks (negative moves back)
func (s *Store) ShiftWeeks(ctx context.Context, projectID string, n int) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		o.AnchorDate = o.AnchorDate.AddDate(0, 0, 7*n)
	})
}

// ShiftMonths moves the anchor by n months (negative moves back)
func (s *Store) ShiftMonths(ctx context.Context, projectID string, n int) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		o.AnchorDate = o.AnchorDate.AddDate(0, n, 0)
	})
}

// GoToToday re-anchors the timeline on the current date
func (s *Store) GoToToday(ctx context.Context, projectID string) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		o.AnchorDate = models.StartOfDay(time.Now().UTC())
	})
}

// EnterDayView zooms into a single day. The current week anchor is saved so
// ReturnToWeekView can restore it.
func (s *Store) EnterDayView(ctx context.Context, projectID string, day time.Time) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		if o.ViewMode == models.ViewWeek {
			anchor := o.AnchorDate
			o.LastWeekAnchor = &anchor
		}
		o.ViewMode = models.ViewDay
		o.AnchorDate = models.StartOfDay(day)
	})
}

// ReturnToWeekView leaves day view, restoring the saved week anchor when
// one exists and clearing it either way
func (s *Store) ReturnToWeekView(ctx context.Context, projectID string) *models.OverlayState {
	return s.update(ctx, projectID, func(o *models.OverlayState) {
		o.ViewMode = models.ViewWeek
		if o.LastWeekAnchor != nil {
			o.AnchorDate = *o.LastWeekAnchor
			o.LastWeekAnchor = nil
		}
	})
}

// HealthCheck verifies the backing store is reachable
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.kv.HealthCheck(ctx)
}

// setCollapsed moves an id into one explicit set and out of the other
func setCollapsed(collapsed, expanded models.IDSet, id string, isCollapsed bool) {
	if isCollapsed {
		collapsed.Add(id)
		expanded.Remove(id)
	} else {
		expanded.Add(id)
		collapsed.Remove(id)
	}
}
