package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/terra-clan/roadmap-engine/internal/models"
	"github.com/terra-clan/roadmap-engine/internal/permission"
	"github.com/terra-clan/roadmap-engine/internal/storage"
)

// fakeSource implements only the reads the builder touches; embedding the
// interface leaves the rest panicking if a test strays into them.
type fakeSource struct {
	storage.Repository

	pairs     []*models.TrackWithInstance
	items     []*models.WorkItem
	instances map[string]*models.TrackInstance

	pairsErr    error
	itemsErr    error
	instanceErr error
}

func (f *fakeSource) GetTracksWithInstances(_ context.Context, _ string, _ bool) ([]*models.TrackWithInstance, error) {
	if f.pairsErr != nil {
		return nil, f.pairsErr
	}
	return f.pairs, nil
}

func (f *fakeSource) GetItemsByProject(_ context.Context, _ string) ([]*models.WorkItem, error) {
	if f.itemsErr != nil {
		return nil, f.itemsErr
	}
	return f.items, nil
}

func (f *fakeSource) GetTrackInstance(_ context.Context, trackID, _ string) (*models.TrackInstance, error) {
	if f.instanceErr != nil {
		return nil, f.instanceErr
	}
	return f.instances[trackID], nil
}

type fakePerms struct {
	permission.Checker

	editors map[string]bool
	err     error
}

func (f *fakePerms) CheckEdit(_ context.Context, actorID, _, _ string) (permission.Decision, error) {
	if f.err != nil {
		return permission.Decision{}, f.err
	}
	return permission.Decision{CanEdit: f.editors[actorID]}, nil
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func track(id string, position int, subs ...*models.Track) *models.Track {
	return &models.Track{ID: id, ProjectID: "proj-1", Name: id, Position: position, Subtracks: subs}
}

func instance(trackID string, vis models.VisibilityState) *models.TrackInstance {
	return &models.TrackInstance{TrackID: trackID, ProjectID: "proj-1", Visibility: vis}
}

func findTrack(t *testing.T, tracks []*models.ProjectedTrack, id string) *models.ProjectedTrack {
	t.Helper()
	for _, pt := range tracks {
		if pt.Track.ID == id {
			return pt
		}
	}
	t.Fatalf("track %s missing from projection", id)
	return nil
}

func TestBuildIncludesEmptyTracks(t *testing.T) {
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{
			{Track: track("t1", 0), Instance: instance("t1", models.VisibilityVisible)},
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	pt := tracks[0]
	if pt.ItemCount != 0 || pt.TotalItemCount != 0 {
		t.Errorf("empty track should have zero counts, got %d/%d", pt.ItemCount, pt.TotalItemCount)
	}
	if pt.Subtracks == nil || pt.Items == nil {
		t.Error("projected collections must be non-nil even when empty")
	}
}

func TestBuildExcludesByPolicy(t *testing.T) {
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{
			{Track: track("visible", 0), Instance: instance("visible", models.VisibilityVisible)},
			{Track: track("hidden", 1), Instance: instance("hidden", models.VisibilityHidden)},
			{Track: track("archived", 2), Instance: instance("archived", models.VisibilityArchived)},
			{Track: track("opted-out", 3), Instance: &models.TrackInstance{
				TrackID: "opted-out", ProjectID: "proj-1",
				Visibility: models.VisibilityVisible, IncludeInRoadmap: boolPtr(false),
			}},
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(tracks) != 1 || tracks[0].Track.ID != "visible" {
		ids := make([]string, 0, len(tracks))
		for _, pt := range tracks {
			ids = append(ids, pt.Track.ID)
		}
		t.Errorf("expected only the visible track, got %v", ids)
	}
}

func TestBuildInclusionIgnoresItemCount(t *testing.T) {
	// A track with no items and no instance still renders; a track packed
	// with items but hidden does not.
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{
			{Track: track("empty", 0)},
			{Track: track("busy", 1), Instance: instance("busy", models.VisibilityHidden)},
		},
		items: []*models.WorkItem{
			{ID: "i1", ProjectID: "proj-1", TrackID: "busy", Title: "a"},
			{ID: "i2", ProjectID: "proj-1", TrackID: "busy", Title: "b"},
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(tracks) != 1 || tracks[0].Track.ID != "empty" {
		t.Fatalf("inclusion must not depend on content, got %d tracks", len(tracks))
	}
}

func TestBuildDefaultIncludeFallback(t *testing.T) {
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{
			{Track: track("no-default", 0)},
			{Track: &models.Track{ID: "default-off", ProjectID: "proj-1", Name: "default-off", Position: 1, DefaultInclude: boolPtr(false)}},
			{Track: &models.Track{ID: "default-off-overridden", ProjectID: "proj-1", Name: "default-off-overridden", Position: 2, DefaultInclude: boolPtr(false)},
				Instance: instance("default-off-overridden", models.VisibilityVisible)},
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	findTrack(t, tracks, "no-default")
	findTrack(t, tracks, "default-off-overridden")
}

func TestBuildOwnershipIsExclusive(t *testing.T) {
	parent := track("parent", 0, track("child", 0))
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{{Track: parent}},
		instances: map[string]*models.TrackInstance{
			"child": instance("child", models.VisibilityVisible),
		},
		items: []*models.WorkItem{
			// Counts to the parent: direct reference, no subtrack
			{ID: "i1", ProjectID: "proj-1", TrackID: "parent", Title: "parent work"},
			// Counts to the child via the legacy subtrack reference
			{ID: "i2", ProjectID: "proj-1", TrackID: "parent", SubtrackID: "child", Title: "child work"},
			// Counts to the child via a direct track reference
			{ID: "i3", ProjectID: "proj-1", TrackID: "child", Title: "more child work"},
			// Dangling subtrack reference falls back to the parent
			{ID: "i4", ProjectID: "proj-1", TrackID: "parent", SubtrackID: "gone", Title: "orphan"},
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	pt := findTrack(t, tracks, "parent")
	if pt.ItemCount != 2 {
		t.Errorf("parent should own 2 items, got %d", pt.ItemCount)
	}
	if len(pt.Subtracks) != 1 {
		t.Fatalf("expected 1 subtrack, got %d", len(pt.Subtracks))
	}
	if pt.Subtracks[0].ItemCount != 2 {
		t.Errorf("child should own 2 items, got %d", pt.Subtracks[0].ItemCount)
	}
	if pt.TotalItemCount != 4 {
		t.Errorf("every item counts exactly once, expected total 4, got %d", pt.TotalItemCount)
	}
}

func TestBuildExcludesHiddenSubtrack(t *testing.T) {
	parent := track("parent", 0, track("shown", 0), track("hidden", 1))
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{{Track: parent}},
		instances: map[string]*models.TrackInstance{
			"shown":  instance("shown", models.VisibilityVisible),
			"hidden": instance("hidden", models.VisibilityHidden),
		},
		items: []*models.WorkItem{
			{ID: "i1", ProjectID: "proj-1", TrackID: "parent", SubtrackID: "hidden", Title: "unseen"},
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	pt := findTrack(t, tracks, "parent")
	if len(pt.Subtracks) != 1 || pt.Subtracks[0].Track.ID != "shown" {
		t.Fatalf("hidden subtrack should be excluded, got %d subtracks", len(pt.Subtracks))
	}
	// The hidden subtrack's item is owned by that subtrack even while it is
	// not rendered; it must not be re-counted against the parent.
	if pt.ItemCount != 0 {
		t.Errorf("excluded subtrack's items must not shift to the parent, got %d", pt.ItemCount)
	}
}

func TestBuildOrderingHonorsInstanceOverride(t *testing.T) {
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{
			{Track: track("a", 0), Instance: &models.TrackInstance{
				TrackID: "a", ProjectID: "proj-1", Visibility: models.VisibilityVisible, OrderIndex: intPtr(5),
			}},
			{Track: track("b", 1)},
			{Track: track("c", 2)},
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	got := []string{tracks[0].Track.ID, tracks[1].Track.ID, tracks[2].Track.ID}
	want := []string{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestBuildSubtrackOrdering(t *testing.T) {
	parent := track("parent", 0, track("s1", 0), track("s2", 1))
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{{Track: parent}},
		instances: map[string]*models.TrackInstance{
			"s1": {TrackID: "s1", ProjectID: "proj-1", Visibility: models.VisibilityVisible, OrderIndex: intPtr(9)},
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	pt := findTrack(t, tracks, "parent")
	if pt.Subtracks[0].Track.ID != "s2" || pt.Subtracks[1].Track.ID != "s1" {
		t.Errorf("instance order override should reorder subtracks, got %s then %s",
			pt.Subtracks[0].Track.ID, pt.Subtracks[1].Track.ID)
	}
}

func TestBuildPermissionsFailClosed(t *testing.T) {
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{{Track: track("t1", 0)}},
	}

	builder := NewBuilder(source, &fakePerms{editors: map[string]bool{"alice": true}})
	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !tracks[0].CanEdit {
		t.Error("editor should get can_edit")
	}

	builder = NewBuilder(source, &fakePerms{err: errors.New("members db down")})
	tracks, err = builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("a permission failure must not fail the build: %v", err)
	}
	if tracks[0].CanEdit {
		t.Error("unresolvable permission must deny edit")
	}
}

func TestBuildInstanceLookupFailureTreatedAsAbsent(t *testing.T) {
	parent := track("parent", 0, track("child", 0))
	source := &fakeSource{
		pairs:       []*models.TrackWithInstance{{Track: parent}},
		instanceErr: errors.New("connection reset"),
	}
	builder := NewBuilder(source, &fakePerms{})

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState())
	if err != nil {
		t.Fatalf("a subtrack instance failure must not fail the build: %v", err)
	}

	pt := findTrack(t, tracks, "parent")
	if len(pt.Subtracks) != 1 {
		t.Fatalf("subtrack without a resolvable instance should use defaults, got %d subtracks", len(pt.Subtracks))
	}
	if pt.Subtracks[0].Instance != nil {
		t.Error("failed lookup should project as no instance")
	}
}

func TestBuildFailsWhenDomainFetchFails(t *testing.T) {
	builder := NewBuilder(&fakeSource{pairsErr: errors.New("timeout")}, &fakePerms{})
	if _, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState()); err == nil {
		t.Error("hierarchy fetch failure must abort the build")
	}

	builder = NewBuilder(&fakeSource{itemsErr: errors.New("timeout")}, &fakePerms{})
	if _, err := builder.Build(context.Background(), "proj-1", "alice", models.DefaultOverlayState()); err == nil {
		t.Error("item fetch failure must abort the build")
	}
}

func TestBuildResolvesOverlayState(t *testing.T) {
	parent := track("t1", 0, track("s1", 0))
	source := &fakeSource{
		pairs: []*models.TrackWithInstance{
			{Track: parent, Instance: instance("t1", models.VisibilityCollapsed)},
			{Track: track("t2", 1), Instance: instance("t2", models.VisibilityCollapsed)},
			{Track: track("t3", 2)},
		},
		instances: map[string]*models.TrackInstance{
			"s1": instance("s1", models.VisibilityCollapsed),
		},
	}
	builder := NewBuilder(source, &fakePerms{})

	ov := models.DefaultOverlayState()
	ov.ExpandedTracks.Add("t1")   // explicit expand beats the collapsed instance
	ov.CollapsedTracks.Add("t3")  // explicit collapse beats the visible default
	ov.HighlightedTracks.Add("t2")
	ov.FocusedTrackID = "t2"

	tracks, err := builder.Build(context.Background(), "proj-1", "alice", ov)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	t1 := findTrack(t, tracks, "t1")
	if t1.Collapsed {
		t.Error("explicit expand should override the collapsed instance default")
	}
	if len(t1.Subtracks) != 1 || !t1.Subtracks[0].Collapsed {
		t.Error("subtrack with collapsed instance and no override should render collapsed")
	}

	t2 := findTrack(t, tracks, "t2")
	if !t2.Collapsed {
		t.Error("collapsed instance default should apply without an override")
	}
	if !t2.Highlighted || !t2.Focused {
		t.Error("highlight and focus should carry through")
	}

	t3 := findTrack(t, tracks, "t3")
	if !t3.Collapsed {
		t.Error("explicit collapse should apply")
	}
	if t3.Highlighted || t3.Focused {
		t.Error("t3 should be neither highlighted nor focused")
	}
}
