// Package policy decides whether a track or subtrack belongs in the projection.
package policy

import (
	"github.com/terra-clan/roadmap-engine/internal/models"
)

// Include reports whether a container belongs in the projection for its
// project. The same rule gates top-level tracks and subtracks, and it is the
// only gate: item counts and child counts never influence inclusion, so an
// empty container renders exactly like a populated one.
//
// Without an instance the track's own default applies, and tracks are
// visible by default. With an instance, an explicit include override of
// false excludes, as do the hidden and archived visibility states.
func Include(inst *models.TrackInstance, defaultInclude *bool) bool {
	if inst == nil {
		if defaultInclude != nil {
			return *defaultInclude
		}
		return true
	}

	if inst.IncludeInRoadmap != nil && !*inst.IncludeInRoadmap {
		return false
	}

	switch inst.Visibility {
	case models.VisibilityHidden, models.VisibilityArchived:
		return false
	}

	return true
}
