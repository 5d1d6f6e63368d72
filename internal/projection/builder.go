// Package projection assembles the read-only roadmap tree the presentation
// layer renders: domain tracks and items, per-project visibility instances,
// and the per-device UI overlay merged into one hierarchy-correct result.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/roadmap-engine/internal/models"
	"github.com/terra-clan/roadmap-engine/internal/permission"
	"github.com/terra-clan/roadmap-engine/internal/policy"
	"github.com/terra-clan/roadmap-engine/internal/storage"
)

// Builder assembles projections from the domain source and the permission
// checker. It never writes domain data.
type Builder struct {
	source storage.Repository
	perms  permission.Checker
}

// NewBuilder creates a projection builder
func NewBuilder(source storage.Repository, perms permission.Checker) *Builder {
	return &Builder{source: source, perms: perms}
}

// Build runs one projection pass for a project as seen by an actor.
//
// The top-level hierarchy (with its batched instances) and the project's
// items are fetched concurrently; subtrack instances and all permission
// checks are then resolved sequentially during the walk. Only a failed
// domain fetch aborts the pass: instance lookups degrade to "no instance"
// and permission lookups degrade to no edit access, both logged.
func (b *Builder) Build(ctx context.Context, projectID, actorID string, ov *models.OverlayState) ([]*models.ProjectedTrack, error) {
	var (
		pairs []*models.TrackWithInstance
		items []*models.WorkItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pairs, err = b.source.GetTracksWithInstances(gctx, projectID, true)
		if err != nil {
			return fmt.Errorf("failed to fetch track hierarchy: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		items, err = b.source.GetItemsByProject(gctx, projectID)
		if err != nil {
			return fmt.Errorf("failed to fetch work items: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tracks := make([]*models.ProjectedTrack, 0, len(pairs))
	for _, pair := range pairs {
		if !policy.Include(pair.Instance, pair.Track.DefaultInclude) {
			continue
		}
		tracks = append(tracks, b.buildTrack(ctx, projectID, actorID, pair, items, ov))
	}

	// Instance order override wins over the track's own position
	sort.SliceStable(tracks, func(i, j int) bool {
		return models.EffectiveOrder(tracks[i].Track, tracks[i].Instance) <
			models.EffectiveOrder(tracks[j].Track, tracks[j].Instance)
	})

	return tracks, nil
}

// buildTrack projects one included top-level track: its own items, its
// included subtracks (each policy-checked independently of the parent),
// and its resolved UI state.
func (b *Builder) buildTrack(ctx context.Context, projectID, actorID string, pair *models.TrackWithInstance, items []*models.WorkItem, ov *models.OverlayState) *models.ProjectedTrack {
	track := pair.Track
	inst := pair.Instance

	if inst == nil {
		slog.Debug("track has no visibility instance, using defaults",
			"track_id", track.ID,
			"project_id", projectID,
		)
	}

	pt := &models.ProjectedTrack{
		Track:     track,
		Instance:  inst,
		Subtracks: []*models.ProjectedSubtrack{},
		Items:     []*models.WorkItem{},
		CanEdit:   b.canEdit(ctx, actorID, track.ID, projectID),
	}

	subIDs := track.SubtrackIDs()
	for _, item := range items {
		if item.BelongsToTrack(track.ID, subIDs) {
			pt.Items = append(pt.Items, item)
		}
	}

	for _, sub := range track.Subtracks {
		ps := b.buildSubtrack(ctx, projectID, actorID, sub, items, ov)
		if ps == nil {
			continue
		}
		pt.Subtracks = append(pt.Subtracks, ps)
	}

	sort.SliceStable(pt.Subtracks, func(i, j int) bool {
		return models.EffectiveOrder(pt.Subtracks[i].Track, pt.Subtracks[i].Instance) <
			models.EffectiveOrder(pt.Subtracks[j].Track, pt.Subtracks[j].Instance)
	})

	pt.ItemCount = len(pt.Items)
	pt.TotalItemCount = pt.ItemCount
	for _, ps := range pt.Subtracks {
		pt.TotalItemCount += ps.ItemCount
	}

	pt.Collapsed = resolveCollapsed(track.ID, ov.CollapsedTracks, ov.ExpandedTracks, inst)
	pt.Highlighted = ov.HighlightedTracks.Has(track.ID)
	pt.Focused = ov.FocusedTrackID == track.ID

	return pt
}

// buildSubtrack projects one subtrack, or returns nil when the inclusion
// policy excludes it. Recursion stops here: subtracks of subtracks are not
// independently projected.
func (b *Builder) buildSubtrack(ctx context.Context, projectID, actorID string, sub *models.Track, items []*models.WorkItem, ov *models.OverlayState) *models.ProjectedSubtrack {
	inst, err := b.source.GetTrackInstance(ctx, sub.ID, projectID)
	if err != nil {
		slog.Warn("subtrack instance lookup failed, treating as absent",
			"subtrack_id", sub.ID,
			"project_id", projectID,
			"error", err,
		)
		inst = nil
	}

	if !policy.Include(inst, sub.DefaultInclude) {
		return nil
	}

	ps := &models.ProjectedSubtrack{
		Track:    sub,
		Instance: inst,
		Items:    []*models.WorkItem{},
		CanEdit:  b.canEdit(ctx, actorID, sub.ID, projectID),
	}

	for _, item := range items {
		if item.BelongsToSubtrack(sub.ID) {
			ps.Items = append(ps.Items, item)
		}
	}

	ps.ItemCount = len(ps.Items)
	ps.Collapsed = resolveCollapsed(sub.ID, ov.CollapsedSubtracks, ov.ExpandedSubtracks, inst)
	// Highlight applies to top-level tracks only

	return ps
}

// canEdit resolves edit access fail-closed: an unresolvable check denies
// and never aborts the surrounding build
func (b *Builder) canEdit(ctx context.Context, actorID, containerID, projectID string) bool {
	decision, err := b.perms.CheckEdit(ctx, actorID, containerID, projectID)
	if err != nil {
		slog.Warn("permission check failed, denying edit",
			"container_id", containerID,
			"project_id", projectID,
			"error", err,
		)
		return false
	}
	return decision.CanEdit
}

// resolveCollapsed applies the collapse precedence: explicit collapse, then
// explicit expand, then the instance default
func resolveCollapsed(id string, collapsed, expanded models.IDSet, inst *models.TrackInstance) bool {
	if collapsed.Has(id) {
		return true
	}
	if expanded.Has(id) {
		return false
	}
	return inst != nil && inst.Visibility == models.VisibilityCollapsed
}
