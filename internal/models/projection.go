package models

import "time"

// ProjectionState represents the lifecycle state of a projection service
type ProjectionState string

const (
	ProjectionLoading ProjectionState = "loading"
	ProjectionReady   ProjectionState = "ready"
	ProjectionError   ProjectionState = "error"
)

// ProjectedSubtrack is the derived read-model for one included subtrack.
// Rebuilt wholesale on every pass; never persisted.
type ProjectedSubtrack struct {
	Track       *Track         `json:"track"`
	Instance    *TrackInstance `json:"instance,omitempty"`
	Items       []*WorkItem    `json:"items"`
	CanEdit     bool           `json:"can_edit"`
	ItemCount   int            `json:"item_count"`
	Collapsed   bool           `json:"collapsed"`
	Highlighted bool           `json:"highlighted"`
}

// ProjectedTrack is the derived read-model for one included top-level track
type ProjectedTrack struct {
	Track          *Track               `json:"track"`
	Instance       *TrackInstance       `json:"instance,omitempty"`
	Subtracks      []*ProjectedSubtrack `json:"subtracks"`
	Items          []*WorkItem          `json:"items"`
	CanEdit        bool                 `json:"can_edit"`
	ItemCount      int                  `json:"item_count"`
	TotalItemCount int                  `json:"total_item_count"`
	Collapsed      bool                 `json:"collapsed"`
	Highlighted    bool                 `json:"highlighted"`
	Focused        bool                 `json:"focused"`
}

// ProjectionResult is the snapshot handed to the presentation layer
type ProjectionResult struct {
	Tracks      []*ProjectedTrack `json:"tracks"`
	TotalTracks int               `json:"total_tracks"`
	TotalItems  int               `json:"total_items"`
	State       ProjectionState   `json:"state"`
	Error       string            `json:"error,omitempty"`
	BuiltAt     *time.Time        `json:"built_at,omitempty"`
}

// Loading reports whether a build pass is outstanding
func (r *ProjectionResult) Loading() bool {
	return r.State == ProjectionLoading
}
