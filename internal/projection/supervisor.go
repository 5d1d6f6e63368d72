package projection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/terra-clan/roadmap-engine/internal/notify"
)

// Scope identifies one watched projection
type Scope struct {
	ProjectID string
	ActorID   string
}

// watcher pairs a running service with its lifetime bookkeeping
type watcher struct {
	svc        *Service
	cancel     context.CancelFunc
	lastAccess time.Time
}

// Supervisor lazily starts one projection service per scope and retires the
// ones nobody has asked for in a while
type Supervisor struct {
	builder  *Builder
	overlays overlayLoader
	broker   notify.Broker

	mu       sync.Mutex
	watchers map[Scope]*watcher
}

// NewSupervisor creates a supervisor over the given collaborators
func NewSupervisor(builder *Builder, overlays overlayLoader, broker notify.Broker) *Supervisor {
	return &Supervisor{
		builder:  builder,
		overlays: overlays,
		broker:   broker,
		watchers: make(map[Scope]*watcher),
	}
}

// Acquire returns the service for a scope, starting one on first use
func (sv *Supervisor) Acquire(projectID, actorID string) *Service {
	sc := Scope{ProjectID: projectID, ActorID: actorID}

	sv.mu.Lock()
	defer sv.mu.Unlock()

	if w, ok := sv.watchers[sc]; ok {
		w.lastAccess = time.Now()
		return w.svc
	}

	svc := NewService(sv.builder, sv.overlays, sv.broker, projectID, actorID)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("projection watcher stopped",
				"project_id", projectID,
				"actor_id", actorID,
				"error", err,
			)
		}
	}()

	sv.watchers[sc] = &watcher{
		svc:        svc,
		cancel:     cancel,
		lastAccess: time.Now(),
	}

	slog.Info("projection watcher started",
		"project_id", projectID,
		"actor_id", actorID,
	)

	return svc
}

// Idle returns the scopes that have not been acquired within maxIdle
func (sv *Supervisor) Idle(maxIdle time.Duration) []Scope {
	cutoff := time.Now().Add(-maxIdle)

	sv.mu.Lock()
	defer sv.mu.Unlock()

	var idle []Scope
	for sc, w := range sv.watchers {
		if w.lastAccess.Before(cutoff) {
			idle = append(idle, sc)
		}
	}
	return idle
}

// Stop cancels and removes the watcher for a scope
func (sv *Supervisor) Stop(sc Scope) {
	sv.mu.Lock()
	w, ok := sv.watchers[sc]
	if ok {
		delete(sv.watchers, sc)
	}
	sv.mu.Unlock()

	if ok {
		w.cancel()
	}
}

// Len returns the number of running watchers
func (sv *Supervisor) Len() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.watchers)
}

// Close stops all watchers
func (sv *Supervisor) Close() {
	sv.mu.Lock()
	watchers := sv.watchers
	sv.watchers = make(map[Scope]*watcher)
	sv.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
	}
}
