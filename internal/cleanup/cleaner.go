package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/roadmap-engine/internal/projection"
)

// Cleaner handles periodic retirement of idle projection watchers.
// Watchers hold a broker subscription each; scopes nobody fetches anymore
// should not keep rebuilding on every overlay change.
type Cleaner struct {
	supervisor *projection.Supervisor
	interval   time.Duration
	maxIdle    time.Duration
}

// NewCleaner creates a new cleanup worker
func NewCleaner(supervisor *projection.Supervisor, interval, maxIdle time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}

	return &Cleaner{
		supervisor: supervisor,
		interval:   interval,
		maxIdle:    maxIdle,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "max_idle", c.maxIdle)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.cleanup()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup finds and stops idle projection watchers
func (c *Cleaner) cleanup() {
	slog.Debug("running cleanup cycle")

	idle := c.supervisor.Idle(c.maxIdle)
	if len(idle) == 0 {
		slog.Debug("no idle projection watchers found")
		return
	}

	slog.Info("found idle projection watchers", "count", len(idle))

	for _, sc := range idle {
		c.supervisor.Stop(sc)
		slog.Info("idle projection watcher stopped",
			"project_id", sc.ProjectID,
			"actor_id", sc.ActorID,
		)
	}
}
