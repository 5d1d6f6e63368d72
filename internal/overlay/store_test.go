package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/terra-clan/roadmap-engine/internal/models"
	"github.com/terra-clan/roadmap-engine/internal/notify"
)

func newTestStore() *Store {
	return NewStore(NewMemoryKV(), notify.NewMemoryBroker(), "roadmap:overlay:", time.Hour)
}

func TestLoadMissingOverlayReturnsDefaults(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	state := store.Load(ctx, "proj-1")

	if state.ViewMode != models.ViewWeek {
		t.Errorf("expected week view for a fresh project, got %s", state.ViewMode)
	}
	if len(state.CollapsedTracks) != 0 || len(state.ExpandedTracks) != 0 {
		t.Error("fresh overlay should not have explicit collapse state")
	}
}

func TestLoadCorruptOverlayFallsBackToDefaults(t *testing.T) {
	kv := NewMemoryKV()
	store := NewStore(kv, notify.NewMemoryBroker(), "roadmap:overlay:", time.Hour)
	ctx := context.Background()

	if err := kv.Set(ctx, store.Key("proj-1"), []byte("{not json"), 0); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	state := store.Load(ctx, "proj-1")
	if state.ViewMode != models.ViewWeek || len(state.CollapsedTracks) != 0 {
		t.Error("corrupt overlay should be replaced with the default state")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	state := models.DefaultOverlayState()
	state.CollapsedTracks.Add("t1")
	state.FocusedTrackID = "t1"
	store.Save(ctx, "proj-1", state)

	if state.UpdatedAt.IsZero() {
		t.Error("save should stamp UpdatedAt")
	}

	loaded := store.Load(ctx, "proj-1")
	if !loaded.CollapsedTracks.Has("t1") {
		t.Error("collapsed track lost across save/load")
	}
	if loaded.FocusedTrackID != "t1" {
		t.Errorf("expected focus on t1, got %q", loaded.FocusedTrackID)
	}
}

func TestSaveBroadcastsChange(t *testing.T) {
	broker := notify.NewMemoryBroker()
	store := NewStore(NewMemoryKV(), broker, "roadmap:overlay:", time.Hour)
	ctx := context.Background()

	changes, cancel, err := broker.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	store.SetFocusedTrack(ctx, "proj-1", "t1")

	select {
	case change := <-changes:
		if change.ProjectID != "proj-1" {
			t.Errorf("change carries wrong project: %s", change.ProjectID)
		}
		if change.Key != store.Key("proj-1") {
			t.Errorf("change carries wrong key: %s", change.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("no change broadcast after save")
	}
}

func TestSetTrackCollapsedMovesBetweenSets(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	state := store.SetTrackCollapsed(ctx, "proj-1", "t1", true)
	if !state.CollapsedTracks.Has("t1") || state.ExpandedTracks.Has("t1") {
		t.Error("collapse should place the id in the collapsed set only")
	}

	state = store.SetTrackCollapsed(ctx, "proj-1", "t1", false)
	if state.CollapsedTracks.Has("t1") || !state.ExpandedTracks.Has("t1") {
		t.Error("expand should move the id to the expanded set only")
	}
}

func TestToggleTrackCollapsed(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	// Unknown id is treated as expanded, so the first toggle collapses
	state := store.ToggleTrackCollapsed(ctx, "proj-1", "t1")
	if !state.CollapsedTracks.Has("t1") {
		t.Error("first toggle should collapse")
	}

	state = store.ToggleTrackCollapsed(ctx, "proj-1", "t1")
	if state.CollapsedTracks.Has("t1") || !state.ExpandedTracks.Has("t1") {
		t.Error("second toggle should expand")
	}
}

func TestToggleSubtrackCollapsed(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	state := store.ToggleSubtrackCollapsed(ctx, "proj-1", "s1")
	if !state.CollapsedSubtracks.Has("s1") {
		t.Error("first toggle should collapse the subtrack")
	}
	if state.CollapsedTracks.Has("s1") {
		t.Error("subtrack toggle must not touch the track sets")
	}

	state = store.ToggleSubtrackCollapsed(ctx, "proj-1", "s1")
	if state.CollapsedSubtracks.Has("s1") || !state.ExpandedSubtracks.Has("s1") {
		t.Error("second toggle should expand the subtrack")
	}
}

func TestExpandAllKeepsExplicitExpands(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	store.SetTrackCollapsed(ctx, "proj-1", "t1", true)
	store.SetTrackCollapsed(ctx, "proj-1", "t2", false)
	store.SetSubtrackCollapsed(ctx, "proj-1", "s1", true)

	state := store.ExpandAll(ctx, "proj-1")

	if len(state.CollapsedTracks) != 0 || len(state.CollapsedSubtracks) != 0 {
		t.Error("expand-all should clear both collapse sets")
	}
	if !state.ExpandedTracks.Has("t2") {
		t.Error("explicit expand overrides should survive expand-all")
	}
}

func TestCollapseTracksBatch(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	store.SetTrackCollapsed(ctx, "proj-1", "t2", false)
	state := store.CollapseTracks(ctx, "proj-1", []string{"t1", "t2", "t3"})

	for _, id := range []string{"t1", "t2", "t3"} {
		if !state.CollapsedTracks.Has(id) {
			t.Errorf("track %s should be collapsed", id)
		}
	}
	if state.ExpandedTracks.Has("t2") {
		t.Error("batch collapse should evict t2 from the expanded set")
	}
}

func TestHighlightAndFocus(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	state := store.SetTrackHighlighted(ctx, "proj-1", "t1", true)
	if !state.HighlightedTracks.Has("t1") {
		t.Error("highlight should add the track")
	}

	state = store.SetTrackHighlighted(ctx, "proj-1", "t1", false)
	if state.HighlightedTracks.Has("t1") {
		t.Error("unhighlight should remove the track")
	}

	state = store.SetFocusedTrack(ctx, "proj-1", "t2")
	if state.FocusedTrackID != "t2" {
		t.Errorf("expected focus on t2, got %q", state.FocusedTrackID)
	}

	state = store.SetFocusedTrack(ctx, "proj-1", "")
	if state.FocusedTrackID != "" {
		t.Error("empty id should clear focus")
	}
}

func TestSetViewModeRejectsUnknownMode(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	state := store.SetViewMode(ctx, "proj-1", models.ViewMonth)
	if state.ViewMode != models.ViewMonth {
		t.Errorf("expected month view, got %s", state.ViewMode)
	}

	state = store.SetViewMode(ctx, "proj-1", models.ViewMode("decade"))
	if state.ViewMode != models.ViewMonth {
		t.Errorf("unknown mode should be ignored, got %s", state.ViewMode)
	}
}

func TestAnchorNavigation(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	start := time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC)
	state := store.SetAnchorDate(ctx, "proj-1", start)
	if !state.AnchorDate.Equal(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("anchor should truncate to midnight, got %v", state.AnchorDate)
	}

	state = store.ShiftWeeks(ctx, "proj-1", 2)
	if !state.AnchorDate.Equal(time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected two weeks forward, got %v", state.AnchorDate)
	}

	state = store.ShiftMonths(ctx, "proj-1", -1)
	if !state.AnchorDate.Equal(time.Date(2023, 12, 22, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected one month back, got %v", state.AnchorDate)
	}

	state = store.GoToToday(ctx, "proj-1")
	if !state.AnchorDate.Equal(models.StartOfDay(time.Now().UTC())) {
		t.Errorf("expected today, got %v", state.AnchorDate)
	}
}

func TestDayViewRestoresWeekAnchor(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	weekAnchor := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	store.SetAnchorDate(ctx, "proj-1", weekAnchor)

	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	state := store.EnterDayView(ctx, "proj-1", day)
	if state.ViewMode != models.ViewDay {
		t.Errorf("expected day view, got %s", state.ViewMode)
	}
	if !state.AnchorDate.Equal(day) {
		t.Errorf("expected anchor on the chosen day, got %v", state.AnchorDate)
	}
	if state.LastWeekAnchor == nil || !state.LastWeekAnchor.Equal(weekAnchor) {
		t.Error("entering day view from week view should remember the week anchor")
	}

	state = store.ReturnToWeekView(ctx, "proj-1")
	if state.ViewMode != models.ViewWeek {
		t.Errorf("expected week view, got %s", state.ViewMode)
	}
	if !state.AnchorDate.Equal(weekAnchor) {
		t.Errorf("expected restored week anchor, got %v", state.AnchorDate)
	}
	if state.LastWeekAnchor != nil {
		t.Error("returning to week view should clear the saved anchor")
	}
}

func TestEnterDayViewFromMonthKeepsNoWeekAnchor(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	store.SetViewMode(ctx, "proj-1", models.ViewMonth)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	state := store.EnterDayView(ctx, "proj-1", day)

	if state.LastWeekAnchor != nil {
		t.Error("day view entered from month view should not save a week anchor")
	}

	state = store.ReturnToWeekView(ctx, "proj-1")
	if state.ViewMode != models.ViewWeek {
		t.Errorf("expected week view, got %s", state.ViewMode)
	}
	if !state.AnchorDate.Equal(day) {
		t.Errorf("with no saved anchor the current anchor should stay, got %v", state.AnchorDate)
	}
}

func TestResetClearsOverlay(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	store.SetTrackCollapsed(ctx, "proj-1", "t1", true)
	store.SetViewMode(ctx, "proj-1", models.ViewMonth)

	state := store.Reset(ctx, "proj-1")
	if len(state.CollapsedTracks) != 0 || state.ViewMode != models.ViewWeek {
		t.Error("reset should return the default state")
	}

	loaded := store.Load(ctx, "proj-1")
	if loaded.CollapsedTracks.Has("t1") || loaded.ViewMode != models.ViewWeek {
		t.Error("reset should also clear the persisted overlay")
	}
}

func TestOverlaysAreIsolatedPerProject(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	store.SetTrackCollapsed(ctx, "proj-1", "t1", true)

	other := store.Load(ctx, "proj-2")
	if other.CollapsedTracks.Has("t1") {
		t.Error("overlay state leaked between projects")
	}
}
