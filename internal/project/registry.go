package project

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
)

// Registry owns the lifecycle of every open project. Its own lock guards only
// the project map; each project's state has its own lock.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project

	store    schemas.GraphStore
	recorder Recorder
	observer MutationObserver
	listener ChangeListener
	loadOpts narrative.LoadOptions
	log      *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore persists every committed mutation and lazily loads projects.
func WithStore(s schemas.GraphStore) Option { return func(r *Registry) { r.store = s } }

// WithRecorder records a snapshot before every committed mutation.
func WithRecorder(rec Recorder) Option { return func(r *Registry) { r.recorder = rec } }

// WithObserver reports mutation outcomes, typically to metrics.
func WithObserver(o MutationObserver) Option { return func(r *Registry) { r.observer = o } }

// WithListener publishes every committed change, e.g. to live subscribers.
func WithListener(l ChangeListener) Option { return func(r *Registry) { r.listener = l } }

// WithSchemaCheck toggles JSON Schema validation when loading stored graphs.
func WithSchemaCheck(enabled bool) Option {
	return func(r *Registry) { r.loadOpts.SkipSchema = !enabled }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		projects: make(map[string]*Project),
		log:      logger.Named("ProjectRegistry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.loadOpts.Logger = logger
	return r
}

// LoadOptions returns the options used to decode stored graphs.
func (r *Registry) LoadOptions() narrative.LoadOptions { return r.loadOpts }

// Create opens a new, empty project. An empty id is replaced by a fresh one.
func (r *Registry) Create(ctx context.Context, id, name string) (*Project, error) {
	const op = "Registry.Create"
	if id == "" {
		id = narrative.NewID()
	}
	if name == "" {
		name = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; ok {
		return nil, schemas.NewDuplicateIDError(op, id, "project")
	}
	if r.store != nil {
		if _, err := r.store.LoadProject(ctx, id); err == nil {
			return nil, schemas.NewDuplicateIDError(op, id, "project")
		} else if !errors.Is(err, schemas.ErrNotFound) {
			return nil, err
		}
	}

	p := newProject(id, name, r)
	p.mu.Lock()
	err := p.persistLocked(ctx)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.projects[id] = p
	r.log.Info("Project created.", zap.String("project_id", id), zap.String("name", name))
	return p, nil
}

// Get returns an open project, loading it from the store when needed.
func (r *Registry) Get(ctx context.Context, id string) (*Project, error) {
	r.mu.RLock()
	p, ok := r.projects[id]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if r.store == nil {
		return nil, schemas.NewNotFoundError("Registry.Get", id, "project")
	}

	rec, err := r.store.LoadProject(ctx, id)
	if err != nil {
		return nil, err
	}
	loaded, err := r.fromRecord(rec)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have loaded it while the store was being read.
	if existing, ok := r.projects[id]; ok {
		return existing, nil
	}
	r.projects[id] = loaded
	return loaded, nil
}

// LoadAll opens every stored project concurrently.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.ListProjects(ctx)
	if err != nil {
		return 0, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, rec := range recs {
		id := rec.ID
		g.Go(func() error {
			_, err := r.Get(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Summary describes a project for listings.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes int    `json:"nodes"`
}

// List returns open and stored projects ordered by ID.
func (r *Registry) List(ctx context.Context) ([]Summary, error) {
	seen := map[string]Summary{}
	if r.store != nil {
		recs, err := r.store.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			seen[rec.ID] = Summary{ID: rec.ID, Name: rec.Name, Nodes: -1}
		}
	}

	r.mu.RLock()
	for id, p := range r.projects {
		s := Summary{ID: id, Name: p.name}
		_ = p.Read(func(v View) error {
			s.Nodes = v.Graph.Len()
			return nil
		})
		seen[id] = s
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete closes a project and removes it from the store.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	_, open := r.projects[id]
	delete(r.projects, id)
	r.mu.Unlock()

	if r.store != nil {
		return r.store.DeleteProject(ctx, id)
	}
	if !open {
		return schemas.NewNotFoundError("Registry.Delete", id, "project")
	}
	return nil
}

// Close forgets every open project. Stored state is untouched.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = make(map[string]*Project)
}

func (r *Registry) fromRecord(rec *schemas.ProjectRecord) (*Project, error) {
	g, err := narrative.Load(rec.Graph, r.loadOpts)
	if err != nil {
		return nil, err
	}
	p := newProject(rec.ID, rec.Name, r)
	p.graph = g
	p.current = rec.CurrentNodeID
	if rec.WorldState != nil {
		p.world = rec.WorldState
	}
	if !rec.CreatedAt.IsZero() {
		p.createdAt = rec.CreatedAt
	}
	if !rec.UpdatedAt.IsZero() {
		p.updatedAt = rec.UpdatedAt
	}
	return p, nil
}
