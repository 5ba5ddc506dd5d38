// Package editor implements author-facing graph editing. Every operation
// composes generated content outside the project lock, then commits the edit
// through a single project mutation so it is recorded in history and either
// fully applied or not at all.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/project"
)

// ErrNoGenerator is the cause reported when an operation needs generated
// content but the editor has no generator.
var ErrNoGenerator = errors.New("no content generator configured")

// Config tunes editing rules.
type Config struct {
	// AllowSelfLoops permits ConnectNodes from a node to itself.
	AllowSelfLoops bool
}

// Editor applies editing operations to projects held by a registry.
type Editor struct {
	registry *project.Registry
	gen      schemas.ContentGenerator
	cfg      Config
	validate *validator.Validate
	log      *zap.Logger
}

// New creates an editor. gen may be nil, in which case only operations that
// need no generated content succeed.
func New(registry *project.Registry, gen schemas.ContentGenerator, cfg Config, logger *zap.Logger) *Editor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{
		registry: registry,
		gen:      gen,
		cfg:      cfg,
		validate: validator.New(),
		log:      logger.Named("Editor"),
	}
}

// mutate runs fn inside one recorded project mutation and returns the copy
// of the node fn reports as affected, read from the committed graph.
func (e *Editor) mutate(ctx context.Context, pid string, m project.Mutation, fn func(tx *project.Tx) (string, error)) (*schemas.Node, error) {
	p, err := e.registry.Get(ctx, pid)
	if err != nil {
		return nil, err
	}
	var node *schemas.Node
	_, err = p.Mutate(ctx, m, func(tx *project.Tx) error {
		nodeID, err := fn(tx)
		if err != nil {
			return err
		}
		if nodeID == "" {
			return nil
		}
		if tx.Affected == "" {
			tx.Affected = nodeID
		}
		node, err = tx.Graph.Node(nodeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// snapshot returns copies of a node and the project's world state.
func (e *Editor) snapshot(ctx context.Context, pid, nodeID string) (*schemas.Node, schemas.WorldState, error) {
	p, err := e.registry.Get(ctx, pid)
	if err != nil {
		return nil, nil, err
	}
	var (
		node  *schemas.Node
		world schemas.WorldState
	)
	err = p.Read(func(v project.View) error {
		n, err := v.Graph.Node(nodeID)
		if err != nil {
			return err
		}
		node, world = n, v.World.Clone()
		return nil
	})
	return node, world, err
}

// read runs fn against the project's committed graph.
func (e *Editor) read(ctx context.Context, pid string, fn func(v project.View) error) error {
	p, err := e.registry.Get(ctx, pid)
	if err != nil {
		return err
	}
	return p.Read(fn)
}

// checkInput validates tagged input structs and reports failures as
// InvalidInput.
func (e *Editor) checkInput(op string, in any) error {
	err := e.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return schemas.NewInvalidInputError(op, "", "%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return schemas.NewInvalidInputError(op, "", "%s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// generated normalizes a generator failure. Cancellation is reported as is;
// anything else becomes a GenerationError.
func generated(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return schemas.NewGenerationError(op, err)
}

func (e *Editor) generator(op string) (schemas.ContentGenerator, error) {
	if e.gen == nil {
		return nil, schemas.NewGenerationError(op, ErrNoGenerator)
	}
	return e.gen, nil
}

// generationContext assembles what a generator sees about the node being
// edited.
func generationContext(node *schemas.Node, world schemas.WorldState, extra schemas.Document) schemas.Document {
	gctx := extra.Clone()
	if gctx == nil {
		gctx = schemas.Document{}
	}
	if node != nil {
		gctx["node_id"] = node.ID
		gctx["node_type"] = string(node.NodeType)
		gctx["scene"] = node.Scene
	}
	if world != nil {
		gctx["world_state"] = world.Clone()
	}
	return gctx
}

// Node returns a copy of one node.
func (e *Editor) Node(ctx context.Context, pid, nodeID string) (*schemas.Node, error) {
	node, _, err := e.snapshot(ctx, pid, nodeID)
	return node, err
}

// NodeDetail is a node with its events and actions resolved.
type NodeDetail struct {
	Node     *schemas.Node            `json:"node"`
	Events   []*schemas.Event         `json:"events"`
	Actions  []*schemas.Action        `json:"actions"`
	Bindings []*schemas.ActionBinding `json:"bindings"`
}

// Detail returns a node with its events in presentation order and every
// action reachable from it.
func (e *Editor) Detail(ctx context.Context, pid, nodeID string) (*NodeDetail, error) {
	var d NodeDetail
	err := e.read(ctx, pid, func(v project.View) error {
		n, err := v.Graph.Node(nodeID)
		if err != nil {
			return err
		}
		d.Node = n
		if d.Events, err = v.Graph.NodeEvents(nodeID); err != nil {
			return err
		}
		for _, ev := range d.Events {
			for _, aID := range ev.Actions {
				a, err := v.Graph.Action(aID)
				if err != nil {
					return err
				}
				d.Actions = append(d.Actions, a)
			}
		}
		if d.Bindings, err = v.Graph.OutgoingBindings(nodeID); err != nil {
			return err
		}
		for _, b := range d.Bindings {
			a, err := v.Graph.Action(b.ActionID)
			if err != nil {
				return err
			}
			if a.EventID == "" {
				d.Actions = append(d.Actions, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}
