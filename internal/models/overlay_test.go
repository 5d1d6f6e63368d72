package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIDSetSerializesAsSortedArray(t *testing.T) {
	set := NewIDSet("charlie", "alpha", "bravo")

	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `["alpha","bravo","charlie"]` {
		t.Errorf("unexpected serialization: %s", data)
	}

	var decoded IDSet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(decoded) != 3 || !decoded.Has("bravo") {
		t.Errorf("round trip lost members: %v", decoded.Values())
	}
}

func TestDefaultOverlayState(t *testing.T) {
	state := DefaultOverlayState()

	if state.ViewMode != ViewWeek {
		t.Errorf("expected week view, got %s", state.ViewMode)
	}
	if len(state.CollapsedTracks) != 0 || len(state.CollapsedSubtracks) != 0 {
		t.Error("default overlay should have nothing collapsed")
	}
	if !state.AnchorDate.Equal(StartOfDay(time.Now().UTC())) {
		t.Errorf("expected anchor at start of today, got %v", state.AnchorDate)
	}
	if state.FocusedTrackID != "" {
		t.Error("default overlay should have no focused track")
	}
}

func TestNormalizeRepairsState(t *testing.T) {
	state := &OverlayState{
		ViewMode: ViewMode("quarter"),
	}
	state.Normalize()

	if state.ViewMode != ViewWeek {
		t.Errorf("unknown view mode should fall back to week, got %s", state.ViewMode)
	}
	if state.CollapsedTracks == nil || state.ExpandedSubtracks == nil || state.HighlightedTracks == nil {
		t.Error("nil sets should be replaced with empty ones")
	}
	if state.AnchorDate.IsZero() {
		t.Error("zero anchor should be replaced")
	}
}

func TestNormalizeResolvesSetConflicts(t *testing.T) {
	// An id in both sets should keep only the collapsed entry
	state := &OverlayState{
		CollapsedTracks:    NewIDSet("a"),
		ExpandedTracks:     NewIDSet("a", "b"),
		CollapsedSubtracks: NewIDSet("s1"),
		ExpandedSubtracks:  NewIDSet("s1"),
	}
	state.Normalize()

	if state.ExpandedTracks.Has("a") {
		t.Error("track in both sets should stay collapsed only")
	}
	if !state.ExpandedTracks.Has("b") {
		t.Error("unconflicted expand entry should survive")
	}
	if state.ExpandedSubtracks.Has("s1") {
		t.Error("subtrack in both sets should stay collapsed only")
	}
}

func TestOverlayStateJSONRoundTrip(t *testing.T) {
	anchor := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	state := &OverlayState{
		CollapsedTracks:   NewIDSet("t1"),
		ExpandedTracks:    NewIDSet("t2"),
		HighlightedTracks: NewIDSet("t1", "t3"),
		FocusedTrackID:    "t1",
		ViewMode:          ViewDay,
		AnchorDate:        anchor.AddDate(0, 0, 2),
		LastWeekAnchor:    &anchor,
	}

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded OverlayState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !decoded.CollapsedTracks.Has("t1") || !decoded.ExpandedTracks.Has("t2") {
		t.Error("collapse sets did not survive the round trip")
	}
	if decoded.FocusedTrackID != "t1" || decoded.ViewMode != ViewDay {
		t.Error("focus or view mode did not survive the round trip")
	}
	if decoded.LastWeekAnchor == nil || !decoded.LastWeekAnchor.Equal(anchor) {
		t.Error("last week anchor did not survive the round trip")
	}
}
