package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
)

var json = narrative.JSON

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store provides the PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate applies the embedded PostgreSQL schema.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := upMigration(postgresMigrations, "migrations/postgres")
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const sqlUpsertProject = `
        INSERT INTO projects (id, name, graph, world_state, current_node_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            graph = EXCLUDED.graph,
            world_state = EXCLUDED.world_state,
            current_node_id = EXCLUDED.current_node_id,
            updated_at = EXCLUDED.updated_at;
    `

// SaveProject upserts a project record.
func (s *Store) SaveProject(ctx context.Context, rec schemas.ProjectRecord) error {
	world, err := encodeWorld(rec.WorldState)
	if err != nil {
		return err
	}
	created, updated := stamps(rec)
	_, err = s.pool.Exec(ctx, sqlUpsertProject,
		rec.ID, rec.Name, rec.Graph, world, rec.CurrentNodeID, created, updated)
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", rec.ID, err)
	}
	return nil
}

const sqlSelectProject = `
        SELECT id, name, graph, world_state, current_node_id, created_at, updated_at
        FROM projects
        WHERE id = $1;
    `

// LoadProject returns one project record.
func (s *Store) LoadProject(ctx context.Context, id string) (*schemas.ProjectRecord, error) {
	rec, err := scanProject(s.pool.QueryRow(ctx, sqlSelectProject, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schemas.NewNotFoundError("Store.LoadProject", id, "project")
		}
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	return rec, nil
}

const sqlListProjects = `
        SELECT id, name, graph, world_state, current_node_id, created_at, updated_at
        FROM projects
        ORDER BY id ASC;
    `

// ListProjects returns every stored project ordered by ID.
func (s *Store) ListProjects(ctx context.Context) ([]schemas.ProjectRecord, error) {
	rows, err := s.pool.Query(ctx, sqlListProjects)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []schemas.ProjectRecord
	for rows.Next() {
		rec, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// DeleteProject removes a project and, through the foreign key, its history.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.NewNotFoundError("Store.DeleteProject", id, "project")
	}
	return nil
}

const sqlInsertSnapshot = `
        INSERT INTO snapshots (id, project_id, operation_type, description, affected_node_id, payload, checksum, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

// PutSnapshot appends a snapshot to the log.
func (s *Store) PutSnapshot(ctx context.Context, snap schemas.Snapshot) error {
	_, err := s.pool.Exec(ctx, sqlInsertSnapshot,
		snap.ID, snap.ProjectID, string(snap.OperationType), snap.Description,
		snap.AffectedNodeID, snap.Payload, snap.Checksum, snap.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

const sqlSelectSnapshot = `
        SELECT id, project_id, operation_type, description, affected_node_id, payload, checksum, created_at
        FROM snapshots
        WHERE id = $1;
    `

// GetSnapshot returns one snapshot including its payload.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*schemas.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, sqlSelectSnapshot, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schemas.NewSnapshotNotFoundError("Store.GetSnapshot", id)
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return snap, nil
}

const sqlListSnapshots = `
        SELECT id, project_id, operation_type, description, affected_node_id, payload, checksum, created_at
        FROM snapshots
        WHERE project_id = $1
        ORDER BY id ASC;
    `

// ListSnapshots returns a project's log, oldest first.
func (s *Store) ListSnapshots(ctx context.Context, projectID string) ([]schemas.Snapshot, error) {
	rows, err := s.pool.Query(ctx, sqlListSnapshots, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []schemas.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes one snapshot.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.NewSnapshotNotFoundError("Store.DeleteSnapshot", id)
	}
	return nil
}

// DeleteSnapshotsFrom truncates the log at id inside one transaction.
func (s *Store) DeleteSnapshotsFrom(ctx context.Context, projectID, id string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM snapshots WHERE id = $1 AND project_id = $2);`, id, projectID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check snapshot %s: %w", id, err)
	}
	if !exists {
		return 0, schemas.NewSnapshotNotFoundError("Store.DeleteSnapshotsFrom", id)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE project_id = $1 AND id >= $2;`, projectID, id)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate snapshots: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanProject(row pgx.Row) (*schemas.ProjectRecord, error) {
	var (
		rec   schemas.ProjectRecord
		world []byte
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Graph, &world, &rec.CurrentNodeID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	ws, err := decodeWorld(world)
	if err != nil {
		return nil, err
	}
	rec.WorldState = ws
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func scanSnapshot(row pgx.Row) (*schemas.Snapshot, error) {
	var (
		snap schemas.Snapshot
		op   string
	)
	if err := row.Scan(&snap.ID, &snap.ProjectID, &op, &snap.Description, &snap.AffectedNodeID, &snap.Payload, &snap.Checksum, &snap.CreatedAt); err != nil {
		return nil, err
	}
	snap.OperationType = schemas.OperationType(op)
	snap.CreatedAt = snap.CreatedAt.UTC()
	return &snap, nil
}

func encodeWorld(w schemas.WorldState) ([]byte, error) {
	if w == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode world state: %w", err)
	}
	return data, nil
}

func decodeWorld(data []byte) (schemas.WorldState, error) {
	ws := schemas.WorldState{}
	if len(data) == 0 || string(data) == "null" {
		return ws, nil
	}
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode world state: %w", err)
	}
	return ws, nil
}

func stamps(rec schemas.ProjectRecord) (created, updated time.Time) {
	now := time.Now().UTC()
	created, updated = rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()
	if rec.CreatedAt.IsZero() {
		created = now
	}
	if rec.UpdatedAt.IsZero() {
		updated = now
	}
	return created, updated
}

var _ schemas.Store = (*Store)(nil)
