package models

import "time"

// WorkItem represents a timed unit of work on the roadmap.
// An item always references a top-level track; SubtrackID is an older
// addressing form that may point at a child of that track instead.
type WorkItem struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	TrackID    string    `json:"track_id"`
	SubtrackID string    `json:"subtrack_id,omitempty"`
	Title      string    `json:"title"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
}

// BelongsToTrack reports whether the item counts toward the top-level track
// itself rather than one of the given subtracks. Items whose subtrack
// reference does not match any child fall back to the parent.
func (i *WorkItem) BelongsToTrack(trackID string, subtrackIDs []string) bool {
	if i.TrackID != trackID {
		return false
	}
	if i.SubtrackID == "" {
		return true
	}
	for _, id := range subtrackIDs {
		if i.SubtrackID == id {
			return false
		}
	}
	return true
}

// BelongsToSubtrack reports whether the item counts toward the subtrack.
// Both addressing forms are honored: a direct track reference to the
// subtrack id, or the legacy subtrack reference.
func (i *WorkItem) BelongsToSubtrack(subtrackID string) bool {
	return i.TrackID == subtrackID || i.SubtrackID == subtrackID
}
