package models

// VisibilityState represents the per-project visibility of a track or subtrack
type VisibilityState string

const (
	VisibilityVisible   VisibilityState = "visible"
	VisibilityCollapsed VisibilityState = "collapsed"
	VisibilityHidden    VisibilityState = "hidden"
	VisibilityArchived  VisibilityState = "archived"
)

// IsValid returns true if the state is one of the known visibility states
func (s VisibilityState) IsValid() bool {
	switch s {
	case VisibilityVisible, VisibilityCollapsed, VisibilityHidden, VisibilityArchived:
		return true
	}
	return false
}

// Track represents a grouping container in the roadmap hierarchy.
// Tracks are owned by the domain source; the engine never writes them.
type Track struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	Position       int      `json:"position"`
	DefaultInclude *bool    `json:"default_include,omitempty"`
	Subtracks      []*Track `json:"subtracks,omitempty"`
}

// SubtrackIDs returns the ids of the track's direct children
func (t *Track) SubtrackIDs() []string {
	ids := make([]string, 0, len(t.Subtracks))
	for _, sub := range t.Subtracks {
		ids = append(ids, sub.ID)
	}
	return ids
}

// TrackInstance is the per-project override record for a track or subtrack.
// A track without an instance is a valid state, not an error.
type TrackInstance struct {
	TrackID          string          `json:"track_id"`
	ProjectID        string          `json:"project_id"`
	OrderIndex       *int            `json:"order_index,omitempty"`
	Visibility       VisibilityState `json:"visibility"`
	IncludeInRoadmap *bool           `json:"include_in_roadmap,omitempty"`
}

// TrackWithInstance pairs a track with its resolved instance (instance may be nil)
type TrackWithInstance struct {
	Track    *Track         `json:"track"`
	Instance *TrackInstance `json:"instance,omitempty"`
}

// EffectiveOrder returns the ordering key for a track in the projection:
// the instance order override when present, otherwise the track position.
func EffectiveOrder(track *Track, inst *TrackInstance) int {
	if inst != nil && inst.OrderIndex != nil {
		return *inst.OrderIndex
	}
	return track.Position
}
