// Package seed loads roadmap fixtures from yaml files and writes them to
// the domain store. Used by dev and demo environments; production roadmaps
// come from the application's own write path.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/terra-clan/roadmap-engine/internal/models"
	"github.com/terra-clan/roadmap-engine/internal/storage"
)

// Fixture describes one project's roadmap in a yaml file
type Fixture struct {
	Project string         `yaml:"project"`
	Members []MemberSpec   `yaml:"members"`
	Tracks  []TrackSpec    `yaml:"tracks"`
	Items   []WorkItemSpec `yaml:"items"`
}

// MemberSpec describes a project membership
type MemberSpec struct {
	Actor string `yaml:"actor"`
	Role  string `yaml:"role"`
}

// TrackSpec describes a track, optionally with subtracks and an instance
type TrackSpec struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Position       int           `yaml:"position"`
	DefaultInclude *bool         `yaml:"default_include,omitempty"`
	Instance       *InstanceSpec `yaml:"instance,omitempty"`
	Subtracks      []TrackSpec   `yaml:"subtracks,omitempty"`
}

// InstanceSpec describes a visibility instance override
type InstanceSpec struct {
	OrderIndex       *int   `yaml:"order_index,omitempty"`
	Visibility       string `yaml:"visibility"`
	IncludeInRoadmap *bool  `yaml:"include_in_roadmap,omitempty"`
}

// WorkItemSpec describes a work item
type WorkItemSpec struct {
	ID       string    `yaml:"id,omitempty"`
	Track    string    `yaml:"track"`
	Subtrack string    `yaml:"subtrack,omitempty"`
	Title    string    `yaml:"title"`
	Starts   time.Time `yaml:"starts"`
	Ends     time.Time `yaml:"ends"`
}

// Loader reads and holds roadmap fixtures
type Loader struct {
	mu       sync.RWMutex
	fixtures map[string]*Fixture
}

// NewLoader creates an empty fixture loader
func NewLoader() *Loader {
	return &Loader{fixtures: make(map[string]*Fixture)}
}

// LoadFromDir loads every .yaml/.yml fixture in the directory
func (l *Loader) LoadFromDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read fixtures directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		fixture, err := loadFixture(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("skipping invalid fixture", "file", name, "error", err)
			continue
		}

		l.mu.Lock()
		l.fixtures[fixture.Project] = fixture
		l.mu.Unlock()
		loaded++

		slog.Info("fixture loaded",
			"file", name,
			"project", fixture.Project,
			"tracks", len(fixture.Tracks),
			"items", len(fixture.Items),
		)
	}

	if loaded == 0 {
		return fmt.Errorf("no fixtures found in %s", dir)
	}

	return nil
}

// loadFixture parses and validates a single fixture file
func loadFixture(path string) (*Fixture, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var fixture Fixture
	if err := yaml.Unmarshal(content, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	if err := fixture.Validate(); err != nil {
		return nil, err
	}

	return &fixture, nil
}

// Validate checks fixture consistency before any database writes
func (f *Fixture) Validate() error {
	if f.Project == "" {
		return fmt.Errorf("fixture is missing a project id")
	}

	trackIDs := make(map[string]bool)
	for _, track := range f.Tracks {
		if track.ID == "" || track.Name == "" {
			return fmt.Errorf("track requires id and name")
		}
		trackIDs[track.ID] = true
		for _, sub := range track.Subtracks {
			if sub.ID == "" || sub.Name == "" {
				return fmt.Errorf("subtrack of %s requires id and name", track.ID)
			}
			if len(sub.Subtracks) > 0 {
				return fmt.Errorf("subtrack %s nests deeper than one level", sub.ID)
			}
			trackIDs[sub.ID] = true
		}
	}

	for _, item := range f.Items {
		if item.Track == "" {
			return fmt.Errorf("item %q requires a track reference", item.Title)
		}
		if !trackIDs[item.Track] {
			return fmt.Errorf("item %q references unknown track %s", item.Title, item.Track)
		}
		if item.Subtrack != "" && !trackIDs[item.Subtrack] {
			return fmt.Errorf("item %q references unknown subtrack %s", item.Title, item.Subtrack)
		}
	}

	for _, spec := range f.instances() {
		if !models.VisibilityState(spec.Visibility).IsValid() {
			return fmt.Errorf("invalid visibility state %q", spec.Visibility)
		}
	}

	return nil
}

// instances collects every instance spec in the fixture
func (f *Fixture) instances() []*InstanceSpec {
	var specs []*InstanceSpec
	for _, track := range f.Tracks {
		if track.Instance != nil {
			specs = append(specs, track.Instance)
		}
		for _, sub := range track.Subtracks {
			if sub.Instance != nil {
				specs = append(specs, sub.Instance)
			}
		}
	}
	return specs
}

// Projects returns the loaded project ids in sorted order
func (l *Loader) Projects() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.fixtures))
	for id := range l.fixtures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a fixture by project id
func (l *Loader) Get(projectID string) *Fixture {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fixtures[projectID]
}

// Seed writes all loaded fixtures to the repository
func (l *Loader) Seed(ctx context.Context, repo storage.Repository) error {
	for _, projectID := range l.Projects() {
		if err := l.seedProject(ctx, repo, l.Get(projectID)); err != nil {
			return fmt.Errorf("failed to seed project %s: %w", projectID, err)
		}
		slog.Info("project seeded", "project", projectID)
	}
	return nil
}

func (l *Loader) seedProject(ctx context.Context, repo storage.Repository, fixture *Fixture) error {
	projectID := fixture.Project

	for _, spec := range fixture.Tracks {
		if err := seedTrack(ctx, repo, projectID, spec, ""); err != nil {
			return err
		}
		for _, sub := range spec.Subtracks {
			if err := seedTrack(ctx, repo, projectID, sub, spec.ID); err != nil {
				return err
			}
		}
	}

	for _, spec := range fixture.Items {
		id := spec.ID
		if id == "" {
			id = uuid.NewString()
		}
		item := &models.WorkItem{
			ID:         id,
			ProjectID:  projectID,
			TrackID:    spec.Track,
			SubtrackID: spec.Subtrack,
			Title:      spec.Title,
			StartsAt:   spec.Starts,
			EndsAt:     spec.Ends,
		}
		if err := repo.UpsertWorkItem(ctx, item); err != nil {
			return err
		}
	}

	for _, member := range fixture.Members {
		if err := repo.UpsertProjectMember(ctx, projectID, member.Actor, member.Role); err != nil {
			return err
		}
	}

	return nil
}

func seedTrack(ctx context.Context, repo storage.Repository, projectID string, spec TrackSpec, parentID string) error {
	track := &models.Track{
		ID:             spec.ID,
		ProjectID:      projectID,
		Name:           spec.Name,
		Position:       spec.Position,
		DefaultInclude: spec.DefaultInclude,
	}
	if err := repo.UpsertTrack(ctx, track, parentID); err != nil {
		return err
	}

	if spec.Instance == nil {
		return nil
	}

	inst := &models.TrackInstance{
		TrackID:          spec.ID,
		ProjectID:        projectID,
		OrderIndex:       spec.Instance.OrderIndex,
		Visibility:       models.VisibilityState(spec.Instance.Visibility),
		IncludeInRoadmap: spec.Instance.IncludeInRoadmap,
	}
	return repo.UpsertTrackInstance(ctx, inst)
}
