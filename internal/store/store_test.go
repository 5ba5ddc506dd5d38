package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var (
	projectColumns  = []string{"id", "name", "graph", "world_state", "current_node_id", "created_at", "updated_at"}
	snapshotColumns = []string{"id", "project_id", "operation_type", "description", "affected_node_id", "payload", "checksum", "created_at"}
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresProjects(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should upsert a project with its world state", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		rec := schemas.ProjectRecord{
			ID:            "p1",
			Name:          "Castle",
			Graph:         []byte(`{"version":1}`),
			WorldState:    schemas.WorldState{"tension": 2},
			CurrentNodeID: "n1",
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertProject)).
			WithArgs("p1", "Castle", rec.Graph, []byte(`{"tension":2}`), "n1", now, now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.SaveProject(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should load a project", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		rows := pgxmock.NewRows(projectColumns).
			AddRow("p1", "Castle", []byte(`{"version":1}`), []byte(`{"tension":2}`), "n1", now, now)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectProject)).WithArgs("p1").WillReturnRows(rows)

		rec, err := s.LoadProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Castle", rec.Name)
		assert.Equal(t, "n1", rec.CurrentNodeID)
		assert.Contains(t, rec.WorldState, "tension")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map a missing row to NotFound", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectProject)).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

		_, err := s.LoadProject(ctx, "ghost")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})

	t.Run("should list projects in order", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		rows := pgxmock.NewRows(projectColumns).
			AddRow("a", "A", []byte(`{}`), []byte(`{}`), "", now, now).
			AddRow("b", "B", []byte(`{}`), []byte(`null`), "", now, now)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListProjects)).WillReturnRows(rows)

		recs, err := s.ListProjects(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "a", recs[0].ID)
		assert.NotNil(t, recs[1].WorldState)
	})

	t.Run("should report deleting an unknown project", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM projects WHERE id = $1;`)).
			WithArgs("ghost").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.ErrorIs(t, s.DeleteProject(ctx, "ghost"), schemas.ErrNotFound)
	})
}

func TestPostgresSnapshots(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should insert a snapshot", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		snap := schemas.Snapshot{
			ID: "01A", ProjectID: "p1", OperationType: schemas.OpAddAction,
			Description: "add action", AffectedNodeID: "n1",
			Payload: []byte{1, 2, 3}, Checksum: "abc", CreatedAt: now,
		}
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSnapshot)).
			WithArgs("01A", "p1", "add_action", "add action", "n1", []byte{1, 2, 3}, "abc", now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.PutSnapshot(ctx, snap))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map a missing snapshot to SnapshotNotFound", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectSnapshot)).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

		_, err := s.GetSnapshot(ctx, "nope")
		assert.ErrorIs(t, err, schemas.ErrSnapshotNotFound)
	})

	t.Run("should list snapshots oldest first", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		rows := pgxmock.NewRows(snapshotColumns).
			AddRow("01A", "p1", "create_custom_node", "", "n1", []byte{1}, "x", now).
			AddRow("01B", "p1", "connect_nodes", "", "n1", []byte{2}, "y", now)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListSnapshots)).WithArgs("p1").WillReturnRows(rows)

		snaps, err := s.ListSnapshots(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, schemas.OpConnectNodes, snaps[1].OperationType)
	})

	t.Run("should truncate history in a transaction without rollback errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.New(observedZapCore))
		require.NoError(t, err)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT EXISTS (SELECT 1 FROM snapshots WHERE id = $1 AND project_id = $2);`)).
			WithArgs("01B", "p1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
		mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM snapshots WHERE project_id = $1 AND id >= $2;`)).
			WithArgs("p1", "01B").
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		n, err := s.DeleteSnapshotsFrom(ctx, "p1", "01B")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Equal(t, 0, observedLogs.Len(), "a closed transaction is not an error")
	})

	t.Run("should refuse to truncate from a foreign snapshot", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT EXISTS (SELECT 1 FROM snapshots WHERE id = $1 AND project_id = $2);`)).
			WithArgs("01B", "p2").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mockPool.ExpectRollback()

		_, err := s.DeleteSnapshotsFrom(ctx, "p2", "01B")
		assert.ErrorIs(t, err, schemas.ErrSnapshotNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrationFiles(t *testing.T) {
	t.Run("should extract only the Up section", func(t *testing.T) {
		ddl, err := upMigration(postgresMigrations, "migrations/postgres")
		require.NoError(t, err)
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS snapshots")
		assert.NotContains(t, ddl, "DROP TABLE")
	})
}
