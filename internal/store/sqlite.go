package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// SQLiteStore persists projects and history in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, sqliteMigrations, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Named("store").Info("SQLite store ready.", zap.String("path", cleanPath))
	return &SQLiteStore{db: db, log: logger.Named("store")}, nil
}

// Close releases the SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveProject(ctx context.Context, rec schemas.ProjectRecord) error {
	world, err := encodeWorld(rec.WorldState)
	if err != nil {
		return err
	}
	created, updated := stamps(rec)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO projects (id, name, graph, world_state, current_node_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	graph = excluded.graph,
	world_state = excluded.world_state,
	current_node_id = excluded.current_node_id,
	updated_at = excluded.updated_at
`,
		rec.ID, rec.Name, rec.Graph, string(world), rec.CurrentNodeID,
		created.UnixMilli(), updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save project %s: %w", rec.ID, err)
	}
	return nil
}

const sqliteProjectColumns = `id, name, graph, world_state, current_node_id, created_at, updated_at`

func (s *SQLiteStore) LoadProject(ctx context.Context, id string) (*schemas.ProjectRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteProjectColumns+` FROM projects WHERE id = ?`, id)
	rec, err := scanSQLiteProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schemas.NewNotFoundError("Store.LoadProject", id, "project")
	}
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]schemas.ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteProjectColumns+` FROM projects ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []schemas.ProjectRecord
	for rows.Next() {
		rec, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schemas.NewNotFoundError("Store.DeleteProject", id, "project")
	}
	return nil
}

func (s *SQLiteStore) PutSnapshot(ctx context.Context, snap schemas.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots (id, project_id, operation_type, description, affected_node_id, payload, checksum, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		snap.ID, snap.ProjectID, string(snap.OperationType), snap.Description,
		snap.AffectedNodeID, snap.Payload, snap.Checksum, snap.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

const sqliteSnapshotColumns = `id, project_id, operation_type, description, affected_node_id, payload, checksum, created_at`

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*schemas.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSnapshotColumns+` FROM snapshots WHERE id = ?`, id)
	snap, err := scanSQLiteSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schemas.NewSnapshotNotFoundError("Store.GetSnapshot", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, projectID string) ([]schemas.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSnapshotColumns+` FROM snapshots WHERE project_id = ? ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []schemas.Snapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schemas.NewSnapshotNotFoundError("Store.DeleteSnapshot", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteSnapshotsFrom(ctx context.Context, projectID, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var found int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE id = ? AND project_id = ?`, id, projectID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, schemas.NewSnapshotNotFoundError("Store.DeleteSnapshotsFrom", id)
	}
	if err != nil {
		return 0, fmt.Errorf("check snapshot %s: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE project_id = ? AND id >= ?`, projectID, id)
	if err != nil {
		return 0, fmt.Errorf("truncate snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProject(row rowScanner) (*schemas.ProjectRecord, error) {
	var (
		rec              schemas.ProjectRecord
		world            string
		created, updated int64
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Graph, &world, &rec.CurrentNodeID, &created, &updated); err != nil {
		return nil, err
	}
	ws, err := decodeWorld([]byte(world))
	if err != nil {
		return nil, err
	}
	rec.WorldState = ws
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}

func scanSQLiteSnapshot(row rowScanner) (*schemas.Snapshot, error) {
	var (
		snap    schemas.Snapshot
		op      string
		created int64
	)
	if err := row.Scan(&snap.ID, &snap.ProjectID, &op, &snap.Description, &snap.AffectedNodeID, &snap.Payload, &snap.Checksum, &created); err != nil {
		return nil, err
	}
	snap.OperationType = schemas.OperationType(op)
	snap.CreatedAt = time.UnixMilli(created).UTC()
	return &snap, nil
}

var _ schemas.Store = (*SQLiteStore)(nil)
