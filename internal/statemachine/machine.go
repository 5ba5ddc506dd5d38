// Package statemachine moves a reader through a story. The only state is the
// reader's position: a current node plus the world state. Taking an action
// either keeps the reader at the node with a changed world state or advances
// to the action's target, generating that target on first use.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
	"github.com/xkilldash9x/plotweave/internal/project"
)

// ErrNoGenerator is the cause reported when an ungenerated target is taken
// and no generator is configured.
var ErrNoGenerator = errors.New("no content generator configured")

// Outcome is the result of taking an action. Next is nil when the reader
// stays at the node.
type Outcome struct {
	Next     *schemas.Node      `json:"next,omitempty"`
	State    schemas.WorldState `json:"state"`
	Response string             `json:"response"`
}

// Session is a project's reader position.
type Session struct {
	CurrentNodeID string             `json:"current_node_id"`
	World         schemas.WorldState `json:"world_state"`
}

// Machine applies actions to projects held by a registry.
type Machine struct {
	registry *project.Registry
	gen      schemas.ContentGenerator
	log      *zap.Logger
}

// New creates a Machine. gen may be nil for stories that are fully authored.
func New(registry *project.Registry, gen schemas.ContentGenerator, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{registry: registry, gen: gen, log: logger.Named("StateMachine")}
}

// resolved is an action looked up from a node, with the binding that carries
// it out of the node when there is one.
type resolved struct {
	node    *schemas.Node
	action  *schemas.Action
	binding *schemas.ActionBinding
	world   schemas.WorldState
	// explicit is set when the caller supplied the world state. Otherwise
	// the effects are merged into the project's state at commit time.
	explicit bool
}

// committedState is the world state a mutation installs. preview is the
// merge computed before the lock, which only an explicit state may keep.
func (r *resolved) committedState(tx *project.Tx, action *schemas.Action, preview schemas.WorldState) schemas.WorldState {
	if r.explicit {
		return preview.Clone()
	}
	return Merge(tx.World, action)
}

// resolve finds actionID among the node's event actions, then among the
// actions of bindings sourced at the node.
func resolve(g *narrative.Graph, nodeID, actionID string) (*resolved, error) {
	const op = "StateMachine.resolve"
	node, err := g.Node(nodeID)
	if err != nil {
		return nil, err
	}
	out := &resolved{node: node}

	events, err := g.NodeEvents(nodeID)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		for _, aID := range ev.Actions {
			if aID == actionID {
				if out.action, err = g.Action(aID); err != nil {
					return nil, err
				}
			}
		}
	}

	outgoing, err := g.OutgoingBindings(nodeID)
	if err != nil {
		return nil, err
	}
	for _, b := range outgoing {
		if b.ActionID == actionID {
			out.binding = b
			break
		}
	}
	if out.action == nil && out.binding != nil {
		if out.action, err = g.Action(actionID); err != nil {
			return nil, err
		}
	}
	if out.action == nil {
		return nil, schemas.NewActionNotFoundError(op, actionID)
	}
	return out, nil
}

// targetNode returns the node a binding leads to, or "" when ungenerated.
func targetNode(g *narrative.Graph, b *schemas.ActionBinding) string {
	if b == nil {
		return ""
	}
	if b.TargetNodeID != "" && g.HasNode(b.TargetNodeID) {
		return b.TargetNodeID
	}
	if b.TargetEventID != "" {
		if ev, err := g.Event(b.TargetEventID); err == nil {
			return ev.NodeID
		}
	}
	return ""
}

// ApplyAction takes an action at a node. A nil state means the project's
// current world state, read under the write lock when the change commits so
// concurrent actions all apply. The new state and reader position are
// committed as one recorded mutation.
func (m *Machine) ApplyAction(ctx context.Context, pid, nodeID, actionID string, state schemas.WorldState) (*Outcome, error) {
	const op = "StateMachine.ApplyAction"
	p, err := m.registry.Get(ctx, pid)
	if err != nil {
		return nil, err
	}

	var (
		r      *resolved
		target string
	)
	err = p.Read(func(v project.View) error {
		var err error
		if r, err = resolve(v.Graph, nodeID, actionID); err != nil {
			return err
		}
		target = targetNode(v.Graph, r.binding)
		if state == nil {
			r.world = v.World.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if state != nil {
		r.world, r.explicit = state, true
	}
	next := Merge(r.world, r.action)
	log := m.log.With(zap.String("project_id", pid), zap.String("node_id", nodeID), zap.String("action_id", actionID))

	switch nav := r.action.Navigation(); {
	case nav == schemas.NavigationStay:
		return m.stay(ctx, p, r, next, log)
	case nav == schemas.NavigationContinue && target != "":
		return m.follow(ctx, p, r, target, next, log)
	case nav == schemas.NavigationContinue:
		return m.advance(ctx, p, r, next, log)
	default:
		return nil, schemas.NewValidationError(op, schemas.InvalidNavigationTarget, actionID, "unknown navigation %q", nav)
	}
}

func (m *Machine) stay(ctx context.Context, p *project.Project, r *resolved, next schemas.WorldState, log *zap.Logger) (*Outcome, error) {
	const op = "StateMachine.stay"
	response := r.action.Response()
	if response == "" {
		if m.gen == nil {
			response = fallbackResponse(r.action)
		} else {
			text, err := m.gen.GenerateResponse(ctx, r.node, r.action, next.Clone())
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, schemas.NewGenerationError(op, err)
			}
			response = text
		}
	}

	mut := project.Mutation{Op: schemas.OpApplyStay, Description: "Stay: " + r.action.Description, AffectedNodeID: r.node.ID}
	_, err := p.Mutate(ctx, mut, func(tx *project.Tx) error {
		if !tx.Graph.HasNode(r.node.ID) {
			return schemas.NewNotFoundError(op, r.node.ID, "node")
		}
		action, ok := tx.Graph.LookupAction(r.action.ID)
		if !ok {
			return schemas.NewActionNotFoundError(op, r.action.ID)
		}
		next = r.committedState(tx, action, next)
		tx.World = next.Clone()
		tx.CurrentNodeID = r.node.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug("Stay action applied.")
	return &Outcome{State: next, Response: response}, nil
}

func (m *Machine) follow(ctx context.Context, p *project.Project, r *resolved, target string, next schemas.WorldState, log *zap.Logger) (*Outcome, error) {
	const op = "StateMachine.follow"
	var node *schemas.Node
	mut := project.Mutation{Op: schemas.OpApplyContinue, Description: "Continue: " + r.action.Description, AffectedNodeID: target}
	_, err := p.Mutate(ctx, mut, func(tx *project.Tx) error {
		var err error
		if node, err = tx.Graph.Node(target); err != nil {
			return err
		}
		action, ok := tx.Graph.LookupAction(r.action.ID)
		if !ok {
			return schemas.NewActionNotFoundError(op, r.action.ID)
		}
		next = r.committedState(tx, action, next)
		tx.World = next.Clone()
		tx.CurrentNodeID = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug("Followed existing binding.", zap.String("target_node_id", target))
	return &Outcome{Next: node, State: next, Response: continueResponse(r.action)}, nil
}

// advance generates the target of an untargeted continue action and commits
// it. If another writer filled the target while the draft was generated, the
// draft is discarded and the existing target is followed.
func (m *Machine) advance(ctx context.Context, p *project.Project, r *resolved, next schemas.WorldState, log *zap.Logger) (*Outcome, error) {
	const op = "StateMachine.advance"
	if m.gen == nil {
		return nil, schemas.NewGenerationError(op, ErrNoGenerator)
	}
	draft, err := m.gen.GenerateNextNode(ctx, r.node, r.action, next.Clone())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, schemas.NewGenerationError(op, err)
	}
	if draft == nil || strings.TrimSpace(draft.Scene) == "" {
		return nil, schemas.NewGenerationError(op, errors.New("generator returned an empty node"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if draft.WorldState == nil {
		draft.WorldState = next.Clone()
	}

	var (
		node      *schemas.Node
		discarded bool
	)
	mut := project.Mutation{Op: schemas.OpApplyContinue, Description: "Continue: " + r.action.Description}
	_, err = p.Mutate(ctx, mut, func(tx *project.Tx) error {
		cur, err := resolve(tx.Graph, r.node.ID, r.action.ID)
		if err != nil {
			return err
		}
		if existing := targetNode(tx.Graph, cur.binding); existing != "" {
			discarded = true
			node, err = tx.Graph.Node(existing)
			if err != nil {
				return err
			}
		} else {
			newID, err := tx.Graph.AddDraft(draft)
			if err != nil {
				return err
			}
			if cur.binding == nil {
				_, err = tx.Graph.AddBinding(&schemas.ActionBinding{ActionID: cur.action.ID, SourceNodeID: r.node.ID, TargetNodeID: newID})
			} else {
				b := *cur.binding
				b.TargetNodeID, b.TargetEventID = newID, ""
				err = tx.Graph.UpdateBinding(&b)
			}
			if err != nil {
				return err
			}
			if node, err = tx.Graph.Node(newID); err != nil {
				return err
			}
		}
		tx.Affected = node.ID
		next = r.committedState(tx, cur.action, next)
		tx.World = next.Clone()
		tx.CurrentNodeID = node.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if discarded {
		log.Info("Target filled concurrently; discarded generated node.", zap.String("target_node_id", node.ID))
	} else {
		log.Debug("Generated and committed next node.", zap.String("target_node_id", node.ID))
	}
	return &Outcome{Next: node, State: next, Response: continueResponse(r.action)}, nil
}

// Bootstrap generates the opening node of an empty story from an idea and
// places the reader on it.
func (m *Machine) Bootstrap(ctx context.Context, pid, idea string) (*schemas.Node, error) {
	const op = "StateMachine.Bootstrap"
	if strings.TrimSpace(idea) == "" {
		return nil, schemas.NewInvalidInputError(op, pid, "idea is empty")
	}
	if m.gen == nil {
		return nil, schemas.NewGenerationError(op, ErrNoGenerator)
	}
	p, err := m.registry.Get(ctx, pid)
	if err != nil {
		return nil, err
	}
	if err := p.Read(func(v project.View) error {
		if v.Graph.Len() > 0 {
			return schemas.NewInvalidInputError(op, pid, "story already has %d nodes", v.Graph.Len())
		}
		return nil
	}); err != nil {
		return nil, err
	}

	world := InitialWorld(idea)
	gctx := schemas.Document{"idea": idea, "node_type": string(schemas.NodeRoot), "world_state": world.Clone()}
	scene, err := m.gen.GenerateScene(ctx, idea, gctx)
	if err != nil {
		return nil, m.generationFailed(ctx, op, err)
	}
	if strings.TrimSpace(scene) == "" {
		return nil, schemas.NewGenerationError(op, errors.New("generator returned an empty scene"))
	}
	draft := &schemas.NodeDraft{Scene: scene, NodeType: schemas.NodeRoot, WorldState: world}

	g, gctxRun := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := m.gen.GenerateEvents(gctxRun, scene, gctx.Clone())
		draft.Events = events
		return err
	})
	g.Go(func() error {
		actions, err := m.gen.GenerateActions(gctxRun, scene, gctx.Clone(), world.Clone())
		draft.Actions = actions
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, m.generationFailed(ctx, op, err)
	}

	var node *schemas.Node
	mut := project.Mutation{Op: schemas.OpBootstrap, Description: "Bootstrap: " + idea}
	_, err = p.Mutate(ctx, mut, func(tx *project.Tx) error {
		if tx.Graph.Len() > 0 {
			return schemas.NewInvalidInputError(op, pid, "story already has %d nodes", tx.Graph.Len())
		}
		id, err := tx.Graph.AddDraft(draft)
		if err != nil {
			return err
		}
		if err := tx.Graph.SetStartNode(id); err != nil {
			return err
		}
		tx.Affected = id
		tx.CurrentNodeID = id
		tx.World = world.Clone()
		node, err = tx.Graph.Node(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("Story bootstrapped.", zap.String("project_id", pid), zap.String("node_id", node.ID))
	return node, nil
}

func (m *Machine) generationFailed(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return schemas.NewGenerationError(op, err)
}

// Session returns the project's reader position.
func (m *Machine) Session(ctx context.Context, pid string) (*Session, error) {
	p, err := m.registry.Get(ctx, pid)
	if err != nil {
		return nil, err
	}
	var s Session
	err = p.Read(func(v project.View) error {
		s.CurrentNodeID = v.CurrentNodeID
		if s.CurrentNodeID == "" {
			s.CurrentNodeID = v.Graph.StartNodeID()
		}
		s.World = v.World.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InitialWorld is the world state a bootstrapped story starts from.
func InitialWorld(idea string) schemas.WorldState {
	return schemas.WorldState{
		"premise":            idea,
		"time":               "the beginning",
		"location":           "unknown",
		"characters":         []any{},
		"key_facts":          []any{},
		schemas.StateTension: 0,
	}
}

func fallbackResponse(a *schemas.Action) string {
	changes := describeDelta(Delta(a.Effects()))
	if changes == "" {
		return fmt.Sprintf("You %s.", a.Description)
	}
	return fmt.Sprintf("You %s. (%s)", a.Description, changes)
}

func continueResponse(a *schemas.Action) string {
	return fmt.Sprintf("You chose: %s. The story continues...", a.Description)
}
