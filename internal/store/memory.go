package store

import (
	"context"
	"sort"
	"sync"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// MemoryStore keeps everything in process memory. It is the default backend
// for tests and throwaway sessions.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]schemas.ProjectRecord
	snapshots map[string]schemas.Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]schemas.ProjectRecord),
		snapshots: make(map[string]schemas.Snapshot),
	}
}

func (m *MemoryStore) SaveProject(ctx context.Context, rec schemas.ProjectRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec = copyRecord(rec)
	created, updated := stamps(rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.projects[rec.ID]; ok {
		created = prev.CreatedAt
	}
	rec.CreatedAt, rec.UpdatedAt = created, updated
	m.projects[rec.ID] = rec
	return nil
}

func (m *MemoryStore) LoadProject(ctx context.Context, id string) (*schemas.ProjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.projects[id]
	if !ok {
		return nil, schemas.NewNotFoundError("Store.LoadProject", id, "project")
	}
	rec = copyRecord(rec)
	return &rec, nil
}

func (m *MemoryStore) ListProjects(ctx context.Context) ([]schemas.ProjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.ProjectRecord, 0, len(m.projects))
	for _, rec := range m.projects {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return schemas.NewNotFoundError("Store.DeleteProject", id, "project")
	}
	delete(m.projects, id)
	for sid, snap := range m.snapshots {
		if snap.ProjectID == id {
			delete(m.snapshots, sid)
		}
	}
	return nil
}

func (m *MemoryStore) PutSnapshot(ctx context.Context, snap schemas.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[snap.ID]; ok {
		return schemas.NewDuplicateIDError("Store.PutSnapshot", snap.ID, "snapshot")
	}
	snap.Payload = append([]byte(nil), snap.Payload...)
	m.snapshots[snap.ID] = snap
	return nil
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, id string) (*schemas.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[id]
	if !ok {
		return nil, schemas.NewSnapshotNotFoundError("Store.GetSnapshot", id)
	}
	snap.Payload = append([]byte(nil), snap.Payload...)
	return &snap, nil
}

func (m *MemoryStore) ListSnapshots(ctx context.Context, projectID string) ([]schemas.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemas.Snapshot
	for _, snap := range m.snapshots {
		if snap.ProjectID == projectID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteSnapshot(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[id]; !ok {
		return schemas.NewSnapshotNotFoundError("Store.DeleteSnapshot", id)
	}
	delete(m.snapshots, id)
	return nil
}

func (m *MemoryStore) DeleteSnapshotsFrom(ctx context.Context, projectID, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap, ok := m.snapshots[id]; !ok || snap.ProjectID != projectID {
		return 0, schemas.NewSnapshotNotFoundError("Store.DeleteSnapshotsFrom", id)
	}
	n := 0
	for sid, snap := range m.snapshots {
		if snap.ProjectID == projectID && sid >= id {
			delete(m.snapshots, sid)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyRecord(rec schemas.ProjectRecord) schemas.ProjectRecord {
	rec.Graph = append([]byte(nil), rec.Graph...)
	rec.WorldState = rec.WorldState.Clone()
	return rec
}

var _ schemas.Store = (*MemoryStore)(nil)
