package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/roadmap-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25 // default
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5 // default
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetTrackTree retrieves all tracks of a project as a two-level hierarchy.
// Top-level tracks and their subtracks are each ordered by position.
func (r *PostgresRepository) GetTrackTree(ctx context.Context, projectID string) ([]*models.Track, error) {
	query := `
		SELECT id, project_id, parent_id, name, position, default_include
		FROM tracks
		WHERE project_id = $1
		ORDER BY position, id
	`

	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var roots []*models.Track
	children := make(map[string][]*models.Track)

	for rows.Next() {
		var t models.Track
		var parentID sql.NullString
		var defaultInclude sql.NullBool

		if err := rows.Scan(&t.ID, &t.ProjectID, &parentID, &t.Name, &t.Position, &defaultInclude); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		if defaultInclude.Valid {
			v := defaultInclude.Bool
			t.DefaultInclude = &v
		}

		if parentID.Valid {
			children[parentID.String] = append(children[parentID.String], &t)
		} else {
			roots = append(roots, &t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tracks: %w", err)
	}

	for _, root := range roots {
		root.Subtracks = children[root.ID]
	}

	return roots, nil
}

// GetItemsByProject retrieves all work items of a project
func (r *PostgresRepository) GetItemsByProject(ctx context.Context, projectID string) ([]*models.WorkItem, error) {
	query := `
		SELECT id, project_id, track_id, subtrack_id, title, starts_at, ends_at
		FROM work_items
		WHERE project_id = $1
		ORDER BY starts_at, id
	`

	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		var item models.WorkItem
		var subtrackID sql.NullString

		if err := rows.Scan(&item.ID, &item.ProjectID, &item.TrackID, &subtrackID, &item.Title, &item.StartsAt, &item.EndsAt); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		item.SubtrackID = subtrackID.String

		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read work items: %w", err)
	}

	return items, nil
}

// GetTracksWithInstances retrieves the top-level tracks of a project paired
// with their visibility instances. Tracks without an instance are returned
// with a nil instance.
func (r *PostgresRepository) GetTracksWithInstances(ctx context.Context, projectID string, includeInstances bool) ([]*models.TrackWithInstance, error) {
	tree, err := r.GetTrackTree(ctx, projectID)
	if err != nil {
		return nil, err
	}

	result := make([]*models.TrackWithInstance, 0, len(tree))
	for _, track := range tree {
		result = append(result, &models.TrackWithInstance{Track: track})
	}

	if !includeInstances {
		return result, nil
	}

	query := `
		SELECT track_id, project_id, order_index, visibility, include_in_roadmap
		FROM track_instances
		WHERE project_id = $1
	`

	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track instances: %w", err)
	}
	defer rows.Close()

	instances := make(map[string]*models.TrackInstance)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances[inst.TrackID] = inst
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read track instances: %w", err)
	}

	for _, pair := range result {
		pair.Instance = instances[pair.Track.ID]
	}

	return result, nil
}

// GetTrackInstance retrieves the visibility instance for one track.
// Absence of an instance is a valid state and returns nil, nil.
func (r *PostgresRepository) GetTrackInstance(ctx context.Context, trackID, projectID string) (*models.TrackInstance, error) {
	query := `
		SELECT track_id, project_id, order_index, visibility, include_in_roadmap
		FROM track_instances
		WHERE track_id = $1 AND project_id = $2
	`

	row := r.pool.QueryRow(ctx, query, trackID, projectID)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return inst, nil
}

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*models.TrackInstance, error) {
	var inst models.TrackInstance
	var orderIndex sql.NullInt32
	var visibility string
	var includeInRoadmap sql.NullBool

	if err := row.Scan(&inst.TrackID, &inst.ProjectID, &orderIndex, &visibility, &includeInRoadmap); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan track instance: %w", err)
	}

	if orderIndex.Valid {
		v := int(orderIndex.Int32)
		inst.OrderIndex = &v
	}
	inst.Visibility = models.VisibilityState(visibility)
	if includeInRoadmap.Valid {
		v := includeInRoadmap.Bool
		inst.IncludeInRoadmap = &v
	}

	return &inst, nil
}

// UpsertTrack inserts or updates a track record
func (r *PostgresRepository) UpsertTrack(ctx context.Context, track *models.Track, parentID string) error {
	query := `
		INSERT INTO tracks (id, project_id, parent_id, name, position, default_include)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    position = EXCLUDED.position,
		    default_include = EXCLUDED.default_include
	`

	_, err := r.pool.Exec(ctx, query,
		track.ID,
		track.ProjectID,
		nullString(parentID),
		track.Name,
		track.Position,
		nullBool(track.DefaultInclude),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert track: %w", err)
	}

	return nil
}

// UpsertWorkItem inserts or updates a work item record
func (r *PostgresRepository) UpsertWorkItem(ctx context.Context, item *models.WorkItem) error {
	query := `
		INSERT INTO work_items (id, project_id, track_id, subtrack_id, title, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET track_id = EXCLUDED.track_id,
		    subtrack_id = EXCLUDED.subtrack_id,
		    title = EXCLUDED.title,
		    starts_at = EXCLUDED.starts_at,
		    ends_at = EXCLUDED.ends_at
	`

	_, err := r.pool.Exec(ctx, query,
		item.ID,
		item.ProjectID,
		item.TrackID,
		nullString(item.SubtrackID),
		item.Title,
		item.StartsAt,
		item.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert work item: %w", err)
	}

	return nil
}

// UpsertTrackInstance inserts or updates a visibility instance
func (r *PostgresRepository) UpsertTrackInstance(ctx context.Context, inst *models.TrackInstance) error {
	query := `
		INSERT INTO track_instances (track_id, project_id, order_index, visibility, include_in_roadmap)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (track_id, project_id) DO UPDATE
		SET order_index = EXCLUDED.order_index,
		    visibility = EXCLUDED.visibility,
		    include_in_roadmap = EXCLUDED.include_in_roadmap
	`

	var orderIndex sql.NullInt32
	if inst.OrderIndex != nil {
		orderIndex = sql.NullInt32{Int32: int32(*inst.OrderIndex), Valid: true}
	}

	_, err := r.pool.Exec(ctx, query,
		inst.TrackID,
		inst.ProjectID,
		orderIndex,
		string(inst.Visibility),
		nullBool(inst.IncludeInRoadmap),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert track instance: %w", err)
	}

	return nil
}

// UpsertProjectMember inserts or updates a project membership record
func (r *PostgresRepository) UpsertProjectMember(ctx context.Context, projectID, actorID, role string) error {
	query := `
		INSERT INTO project_members (project_id, actor_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, actor_id) DO UPDATE
		SET role = EXCLUDED.role
	`

	if _, err := r.pool.Exec(ctx, query, projectID, actorID, role); err != nil {
		return fmt.Errorf("failed to upsert project member: %w", err)
	}

	return nil
}

// GetClientByApiKey retrieves an API client by key.
// Returns nil, nil when no client matches.
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}
	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed records the time an API key was last used
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	query := `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`
	if _, err := r.pool.Exec(ctx, query, apiKey); err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}
	return nil
}

// Null helpers

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
