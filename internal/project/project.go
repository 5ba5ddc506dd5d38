package project

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
)

var json = narrative.JSON

// Mutation describes one logical edit for the history log.
type Mutation struct {
	Op             schemas.OperationType
	Description    string
	AffectedNodeID string
}

// Recorder captures a pre-image before a mutation is committed.
type Recorder interface {
	Record(ctx context.Context, projectID string, m Mutation, preImage []byte) (string, error)
	// Forget drops a snapshot whose mutation was not committed after all.
	Forget(ctx context.Context, snapshotID string) error
	// Committed is called once the mutation that recorded snapshotID has
	// been persisted. Work that must not outlive a failed commit, such as
	// retention, belongs here.
	Committed(ctx context.Context, projectID, snapshotID string)
}

// MutationObserver is notified after every attempted mutation.
type MutationObserver interface {
	ObserveMutation(op schemas.OperationType, elapsed time.Duration, err error)
}

// Change describes committed state. Restored is set when the state came
// from a rollback rather than a mutation.
type Change struct {
	ProjectID      string                `json:"project_id"`
	SnapshotID     string                `json:"snapshot_id,omitempty"`
	Op             schemas.OperationType `json:"op,omitempty"`
	AffectedNodeID string                `json:"affected_node_id,omitempty"`
	Restored       bool                  `json:"restored,omitempty"`
	At             time.Time             `json:"at"`
}

// ChangeListener is told about every committed change. It runs under the
// project's write lock and must not block or call back into the project.
type ChangeListener interface {
	ProjectChanged(c Change)
}

// Tx is the working copy handed to a mutation. Changes become visible only if
// the mutation function returns nil and the resulting graph validates.
type Tx struct {
	Graph         *narrative.Graph
	World         schemas.WorldState
	CurrentNodeID string
	// Affected overrides Mutation.AffectedNodeID when the node is only known
	// once the mutation runs.
	Affected string
}

// View is the read-only state handed to Read callbacks. Callers must not
// mutate Graph.
type View struct {
	Graph         *narrative.Graph
	World         schemas.WorldState
	CurrentNodeID string
}

// State is a decoded pre-image.
type State struct {
	Graph         *narrative.Graph
	World         schemas.WorldState
	CurrentNodeID string
}

type stateDocument struct {
	Graph         jsoniter.RawMessage `json:"graph"`
	WorldState    schemas.WorldState  `json:"world_state"`
	CurrentNodeID string              `json:"current_node_id"`
}

// Project is the per-project context: one graph, one world state and the
// reader's current node, guarded by a single readers-writer lock. Projects
// never share a lock.
type Project struct {
	id        string
	name      string
	createdAt time.Time

	mu        sync.RWMutex
	graph     *narrative.Graph
	world     schemas.WorldState
	current   string
	updatedAt time.Time

	recorder Recorder
	store    schemas.GraphStore
	observer MutationObserver
	listener ChangeListener
	log      *zap.Logger
}

func newProject(id, name string, r *Registry) *Project {
	now := time.Now().UTC()
	return &Project{
		id:        id,
		name:      name,
		createdAt: now,
		updatedAt: now,
		graph:     narrative.New(r.log),
		world:     schemas.WorldState{},
		recorder:  r.recorder,
		store:     r.store,
		observer:  r.observer,
		listener:  r.listener,
		log:       r.log.Named("Project").With(zap.String("project_id", id)),
	}
}

func (p *Project) ID() string   { return p.id }
func (p *Project) Name() string { return p.name }

// Read runs fn under the read lock.
func (p *Project) Read(fn func(v View) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(View{Graph: p.graph, World: p.world, CurrentNodeID: p.current})
}

// Mutate runs fn against a working copy under the write lock. The copy is
// committed only if fn succeeds, the graph validates without errors and the
// pre-image was recorded. Otherwise the project is left exactly as it was.
// It returns the recorded snapshot ID.
func (p *Project) Mutate(ctx context.Context, m Mutation, fn func(tx *Tx) error) (snapshotID string, err error) {
	start := time.Now()
	defer func() {
		if p.observer != nil {
			p.observer.ObserveMutation(m.Op, time.Since(start), err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A caller may have been cancelled while waiting for the lock.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	preImage, err := p.encodeLocked()
	if err != nil {
		return "", err
	}

	tx := &Tx{Graph: p.graph.Clone(), World: p.world.Clone(), CurrentNodeID: p.current}
	if err := fn(tx); err != nil {
		return "", err
	}
	if err := tx.Graph.Validate().Err(); err != nil {
		p.log.Error("Mutation left graph inconsistent; discarding.", zap.String("op", string(m.Op)), zap.Error(err))
		return "", err
	}
	if tx.Affected != "" {
		m.AffectedNodeID = tx.Affected
	}

	if p.recorder != nil {
		snapshotID, err = p.recorder.Record(ctx, p.id, m, preImage)
		if err != nil {
			return "", fmt.Errorf("failed to record snapshot: %w", err)
		}
	}

	prevGraph, prevWorld, prevCurrent, prevUpdated := p.graph, p.world, p.current, p.updatedAt
	p.graph, p.world, p.current, p.updatedAt = tx.Graph, tx.World, tx.CurrentNodeID, time.Now().UTC()

	if err := p.persistLocked(ctx); err != nil {
		p.graph, p.world, p.current, p.updatedAt = prevGraph, prevWorld, prevCurrent, prevUpdated
		if snapshotID != "" && p.recorder != nil {
			if ferr := p.recorder.Forget(context.WithoutCancel(ctx), snapshotID); ferr != nil {
				p.log.Warn("Failed to drop snapshot of uncommitted mutation.", zap.String("snapshot_id", snapshotID), zap.Error(ferr))
			}
		}
		return "", err
	}

	if snapshotID != "" && p.recorder != nil {
		p.recorder.Committed(ctx, p.id, snapshotID)
	}
	p.log.Debug("Mutation committed.", zap.String("op", string(m.Op)), zap.String("snapshot_id", snapshotID))
	if p.listener != nil {
		p.listener.ProjectChanged(Change{
			ProjectID:      p.id,
			SnapshotID:     snapshotID,
			Op:             m.Op,
			AffectedNodeID: m.AffectedNodeID,
			At:             p.updatedAt,
		})
	}
	return snapshotID, nil
}

// Restore replaces the project's state under the write lock. load runs while
// the lock is held and returns the state to install. committed, if not nil,
// runs after the new state has been persisted. If load, persistence or
// committed fails, the project keeps its previous state.
func (p *Project) Restore(ctx context.Context, load func(ctx context.Context) (*State, error), committed func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := load(ctx)
	if err != nil {
		return err
	}
	prevGraph, prevWorld, prevCurrent, prevUpdated := p.graph, p.world, p.current, p.updatedAt
	revert := func() {
		p.graph, p.world, p.current, p.updatedAt = prevGraph, prevWorld, prevCurrent, prevUpdated
	}

	p.graph, p.world, p.current, p.updatedAt = st.Graph, st.World, st.CurrentNodeID, time.Now().UTC()
	if p.world == nil {
		p.world = schemas.WorldState{}
	}
	if err := p.persistLocked(ctx); err != nil {
		revert()
		p.log.Error("Restored state could not be persisted; keeping previous state.", zap.Error(err))
		return err
	}
	if committed != nil {
		if err := committed(ctx); err != nil {
			revert()
			if perr := p.persistLocked(context.WithoutCancel(ctx)); perr != nil {
				p.log.Error("Failed to persist previous state after an aborted restore.", zap.Error(perr))
			}
			return err
		}
	}
	if p.listener != nil {
		p.listener.ProjectChanged(Change{ProjectID: p.id, Restored: true, At: p.updatedAt})
	}
	return nil
}

// Encode returns the project's full serialized state.
func (p *Project) Encode() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.encodeLocked()
}

// Record returns the project in its persisted shape.
func (p *Project) Record() (schemas.ProjectRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recordLocked()
}

func (p *Project) encodeLocked() ([]byte, error) {
	graph, err := p.graph.Serialize()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(stateDocument{Graph: graph, WorldState: p.world, CurrentNodeID: p.current})
	if err != nil {
		return nil, fmt.Errorf("failed to encode project state: %w", err)
	}
	return data, nil
}

func (p *Project) recordLocked() (schemas.ProjectRecord, error) {
	graph, err := p.graph.Serialize()
	if err != nil {
		return schemas.ProjectRecord{}, err
	}
	return schemas.ProjectRecord{
		ID:            p.id,
		Name:          p.name,
		Graph:         graph,
		WorldState:    p.world.Clone(),
		CurrentNodeID: p.current,
		CreatedAt:     p.createdAt,
		UpdatedAt:     p.updatedAt,
	}, nil
}

func (p *Project) persistLocked(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	rec, err := p.recordLocked()
	if err != nil {
		return err
	}
	if err := p.store.SaveProject(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist project %s: %w", p.id, err)
	}
	return nil
}

// DecodeState parses a pre-image produced by Encode.
func DecodeState(data []byte, opts narrative.LoadOptions) (*State, error) {
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schemas.NewInvalidInputError("project.DecodeState", "", "malformed state document: %v", err)
	}
	g, err := narrative.Load(doc.Graph, opts)
	if err != nil {
		return nil, err
	}
	world := doc.WorldState
	if world == nil {
		world = schemas.WorldState{}
	}
	return &State{Graph: g, World: world, CurrentNodeID: doc.CurrentNodeID}, nil
}
