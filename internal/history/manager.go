package history

import (
	"context"
	"errors"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
	"github.com/xkilldash9x/plotweave/internal/project"
)

// Options tunes the manager.
type Options struct {
	// MaxSnapshots caps the log per project; the oldest entries are pruned
	// first. Zero keeps everything.
	MaxSnapshots int
	// CompressionLevel is the brotli level for pre-images.
	CompressionLevel int
}

// Observer receives history events, typically for metrics.
type Observer interface {
	SnapshotRecorded(sizeBytes int)
	SnapshotsPruned(n int)
	RolledBack(discarded int)
}

// Manager keeps the per-project linear undo log. Snapshot IDs are ULIDs, so
// lexical order is creation order.
type Manager struct {
	store    schemas.SnapshotStore
	opts     Options
	observer Observer
	now      func() time.Time
	log      *zap.Logger
}

// NewManager creates a history manager backed by store.
func NewManager(store schemas.SnapshotStore, opts Options, observer Observer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CompressionLevel <= 0 {
		opts.CompressionLevel = brotli.DefaultCompression
	}
	return &Manager{
		store:    store,
		opts:     opts,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Named("History"),
	}
}

// Record stores a compressed, checksummed pre-image. Retention waits for
// Committed.
func (m *Manager) Record(ctx context.Context, projectID string, mut project.Mutation, preImage []byte) (string, error) {
	payload, err := compress(preImage, m.opts.CompressionLevel)
	if err != nil {
		return "", err
	}
	snap := schemas.Snapshot{
		ID:             ulid.Make().String(),
		ProjectID:      projectID,
		OperationType:  mut.Op,
		Description:    mut.Description,
		AffectedNodeID: mut.AffectedNodeID,
		Payload:        payload,
		Checksum:       checksum(preImage),
		CreatedAt:      m.now(),
	}
	if err := m.store.PutSnapshot(ctx, snap); err != nil {
		return "", err
	}
	if m.observer != nil {
		m.observer.SnapshotRecorded(len(payload))
	}
	m.log.Debug("Snapshot recorded.",
		zap.String("project_id", projectID),
		zap.String("snapshot_id", snap.ID),
		zap.String("op", string(mut.Op)),
		zap.Int("raw_bytes", len(preImage)),
		zap.Int("stored_bytes", len(payload)))
	return snap.ID, nil
}

// Committed applies retention once the recorded mutation is persisted, so a
// failed commit never costs older snapshots.
func (m *Manager) Committed(ctx context.Context, projectID, snapshotID string) {
	if err := m.prune(ctx, projectID); err != nil {
		// Retention is retried after the next commit.
		m.log.Warn("Failed to apply snapshot retention.",
			zap.String("project_id", projectID), zap.String("snapshot_id", snapshotID), zap.Error(err))
	}
}

// Forget removes a snapshot whose mutation was never committed.
func (m *Manager) Forget(ctx context.Context, snapshotID string) error {
	return m.store.DeleteSnapshot(ctx, snapshotID)
}

func (m *Manager) prune(ctx context.Context, projectID string) error {
	if m.opts.MaxSnapshots <= 0 {
		return nil
	}
	snaps, err := m.store.ListSnapshots(ctx, projectID)
	if err != nil {
		return err
	}
	excess := len(snaps) - m.opts.MaxSnapshots
	for i := 0; i < excess; i++ {
		if err := m.store.DeleteSnapshot(ctx, snaps[i].ID); err != nil {
			return err
		}
	}
	if excess > 0 {
		if m.observer != nil {
			m.observer.SnapshotsPruned(excess)
		}
		m.log.Info("Pruned old snapshots.", zap.String("project_id", projectID), zap.Int("count", excess))
	}
	return nil
}

// Rollback restores the project to the pre-image held by snapshotID and
// discards that snapshot and every later one. It runs under the project's
// write lock, so no mutation can interleave. History is truncated only after
// the restored state has been persisted; on any failure the project and its
// snapshots are left as they were.
func (m *Manager) Rollback(ctx context.Context, p *project.Project, snapshotID string, opts narrative.LoadOptions) error {
	const op = "History.Rollback"
	var snap *schemas.Snapshot
	load := func(ctx context.Context) (*project.State, error) {
		var err error
		snap, err = m.get(ctx, op, snapshotID)
		if err != nil {
			return nil, err
		}
		if snap.ProjectID != p.ID() {
			return nil, schemas.NewProjectMismatchError(op, snapshotID, p.ID(), snap.ProjectID)
		}
		preImage, err := m.open(op, snap)
		if err != nil {
			return nil, err
		}
		return project.DecodeState(preImage, opts)
	}
	truncate := func(ctx context.Context) error {
		n, err := m.store.DeleteSnapshotsFrom(ctx, p.ID(), snapshotID)
		if err != nil {
			return err
		}
		if m.observer != nil {
			m.observer.RolledBack(n)
		}
		m.log.Info("Rolled back project.",
			zap.String("project_id", p.ID()),
			zap.String("snapshot_id", snapshotID),
			zap.String("op", string(snap.OperationType)),
			zap.Int("discarded", n))
		return nil
	}
	return p.Restore(ctx, load, truncate)
}

// Delete prunes one snapshot without touching graph state.
func (m *Manager) Delete(ctx context.Context, snapshotID string) error {
	const op = "History.Delete"
	if _, err := m.get(ctx, op, snapshotID); err != nil {
		return err
	}
	return m.store.DeleteSnapshot(ctx, snapshotID)
}

// List returns a project's snapshots, oldest first and newest last.
func (m *Manager) List(ctx context.Context, projectID string) ([]schemas.Snapshot, error) {
	return m.store.ListSnapshots(ctx, projectID)
}

// Get returns one snapshot's metadata and payload.
func (m *Manager) Get(ctx context.Context, snapshotID string) (*schemas.Snapshot, error) {
	return m.get(ctx, "History.Get", snapshotID)
}

// PreImage returns the verified, uncompressed pre-image of a snapshot.
func (m *Manager) PreImage(ctx context.Context, snapshotID string) ([]byte, error) {
	const op = "History.PreImage"
	snap, err := m.get(ctx, op, snapshotID)
	if err != nil {
		return nil, err
	}
	return m.open(op, snap)
}

func (m *Manager) get(ctx context.Context, op, snapshotID string) (*schemas.Snapshot, error) {
	snap, err := m.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, schemas.ErrNotFound) || errors.Is(err, schemas.ErrSnapshotNotFound) {
			return nil, schemas.NewSnapshotNotFoundError(op, snapshotID)
		}
		return nil, err
	}
	return snap, nil
}

func (m *Manager) open(op string, snap *schemas.Snapshot) ([]byte, error) {
	preImage, err := decompress(snap.Payload)
	if err != nil {
		return nil, err
	}
	if sum := checksum(preImage); sum != snap.Checksum {
		return nil, schemas.NewValidationError(op, "", snap.ID,
			"snapshot checksum mismatch: stored %s, computed %s", snap.Checksum, sum)
	}
	return preImage, nil
}

var _ project.Recorder = (*Manager)(nil)
