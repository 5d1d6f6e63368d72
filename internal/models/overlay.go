package models

import (
	"encoding/json"
	"sort"
	"time"
)

// ViewMode represents the timeline zoom level
type ViewMode string

const (
	ViewDay   ViewMode = "day"
	ViewWeek  ViewMode = "week"
	ViewMonth ViewMode = "month"
)

// IsValid returns true if the mode is one of the known view modes
func (m ViewMode) IsValid() bool {
	return m == ViewDay || m == ViewWeek || m == ViewMonth
}

// IDSet is a set of container ids that serializes as a sorted JSON array
type IDSet map[string]struct{}

// NewIDSet builds a set from the given ids
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports set membership
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts an id into the set
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Remove deletes an id from the set
func (s IDSet) Remove(id string) {
	delete(s, id)
}

// Values returns the ids in sorted order
func (s IDSet) Values() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON serializes the set as a sorted array
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON accepts an array of ids
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// OverlayState is the per-project, per-device transient UI state.
// The collapsed/expanded sets record explicit user action only; a container
// id lives in at most one of its level's two sets at a time.
type OverlayState struct {
	CollapsedTracks    IDSet      `json:"collapsed_tracks"`
	ExpandedTracks     IDSet      `json:"expanded_tracks"`
	CollapsedSubtracks IDSet      `json:"collapsed_subtracks"`
	ExpandedSubtracks  IDSet      `json:"expanded_subtracks"`
	HighlightedTracks  IDSet      `json:"highlighted_tracks"`
	FocusedTrackID     string     `json:"focused_track_id,omitempty"`
	ViewMode           ViewMode   `json:"view_mode"`
	AnchorDate         time.Time  `json:"anchor_date"`
	LastWeekAnchor     *time.Time `json:"last_week_anchor,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DefaultOverlayState returns the lazily-created initial overlay:
// nothing collapsed, week view, anchored to the start of today (UTC).
func DefaultOverlayState() *OverlayState {
	return &OverlayState{
		CollapsedTracks:    IDSet{},
		ExpandedTracks:     IDSet{},
		CollapsedSubtracks: IDSet{},
		ExpandedSubtracks:  IDSet{},
		HighlightedTracks:  IDSet{},
		ViewMode:           ViewWeek,
		AnchorDate:         StartOfDay(time.Now().UTC()),
	}
}

// Normalize repairs a deserialized overlay: nil sets become empty, an
// unknown view mode falls back to week, a zero anchor falls back to today,
// and ids present in both sets of a level keep only their collapsed entry.
func (o *OverlayState) Normalize() {
	if o.CollapsedTracks == nil {
		o.CollapsedTracks = IDSet{}
	}
	if o.ExpandedTracks == nil {
		o.ExpandedTracks = IDSet{}
	}
	if o.CollapsedSubtracks == nil {
		o.CollapsedSubtracks = IDSet{}
	}
	if o.ExpandedSubtracks == nil {
		o.ExpandedSubtracks = IDSet{}
	}
	if o.HighlightedTracks == nil {
		o.HighlightedTracks = IDSet{}
	}
	if !o.ViewMode.IsValid() {
		o.ViewMode = ViewWeek
	}
	if o.AnchorDate.IsZero() {
		o.AnchorDate = StartOfDay(time.Now().UTC())
	}
	for id := range o.CollapsedTracks {
		o.ExpandedTracks.Remove(id)
	}
	for id := range o.CollapsedSubtracks {
		o.ExpandedSubtracks.Remove(id)
	}
}

// StartOfDay truncates a timestamp to midnight in its location
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
