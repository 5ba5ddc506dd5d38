package history

import (
	"context"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/project"
	"github.com/xkilldash9x/plotweave/internal/statediff"
)

// Diff compares the state from before snapshotID with the state from before
// toSnapshotID, or with the live project when toSnapshotID is empty. Both
// snapshots must belong to p.
func (m *Manager) Diff(ctx context.Context, p *project.Project, snapshotID, toSnapshotID string, opts statediff.Options) (*statediff.Result, error) {
	const op = "History.Diff"
	before, err := m.ownedPreImage(ctx, op, p, snapshotID)
	if err != nil {
		return nil, err
	}

	var after []byte
	if toSnapshotID == "" {
		after, err = p.Encode()
	} else {
		after, err = m.ownedPreImage(ctx, op, p, toSnapshotID)
	}
	if err != nil {
		return nil, err
	}
	return statediff.New(opts, m.log).Compare(before, after)
}

func (m *Manager) ownedPreImage(ctx context.Context, op string, p *project.Project, snapshotID string) ([]byte, error) {
	snap, err := m.get(ctx, op, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.ProjectID != p.ID() {
		return nil, schemas.NewProjectMismatchError(op, snapshotID, p.ID(), snap.ProjectID)
	}
	return m.open(op, snap)
}
