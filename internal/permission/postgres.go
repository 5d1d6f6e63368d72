package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// editorRoles are the membership roles that grant edit access
var editorRoles = map[string]bool{
	"owner":  true,
	"editor": true,
}

// PostgresChecker implements Checker against the project membership schema.
// It deliberately holds its own read-only database/sql connection rather
// than sharing the repository pool: the membership schema is owned by the
// account service and may live in a different database.
type PostgresChecker struct {
	db *sql.DB
}

// NewPostgresChecker opens a connection to the membership schema
func NewPostgresChecker(dsn string) (*PostgresChecker, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open members database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping members database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	return &PostgresChecker{db: db}, nil
}

// CheckEdit resolves the actor's membership role for the project.
// Containers inherit project-level edit access; per-container overrides
// would slot in here if the membership schema ever grows them.
func (c *PostgresChecker) CheckEdit(ctx context.Context, actorID, containerID, projectID string) (Decision, error) {
	if actorID == "" {
		return Decision{CanEdit: false}, nil
	}

	query := `
		SELECT role
		FROM project_members
		WHERE project_id = $1 AND actor_id = $2
	`

	var role string
	err := c.db.QueryRowContext(ctx, query, projectID, actorID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Decision{CanEdit: false}, nil
		}
		return Decision{}, fmt.Errorf("failed to resolve membership for %s: %w", containerID, err)
	}

	return Decision{CanEdit: editorRoles[role]}, nil
}

// HealthCheck verifies connectivity to the membership schema
func (c *PostgresChecker) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresChecker) Close() error {
	return c.db.Close()
}
