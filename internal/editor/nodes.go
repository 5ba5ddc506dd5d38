package editor

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
	"github.com/xkilldash9x/plotweave/internal/project"
)

var errEmptyScene = errors.New("generator returned an empty scene")

// CreateCustomNode adds a fully authored node. The first node of an empty
// graph becomes its start node and the reader's current node.
func (e *Editor) CreateCustomNode(ctx context.Context, pid string, in CustomNodeInput) (*schemas.Node, error) {
	const op = "Editor.CreateCustomNode"
	if err := e.checkInput(op, in); err != nil {
		return nil, err
	}
	draft := &schemas.NodeDraft{
		Scene:      in.Scene,
		NodeType:   in.NodeType,
		Events:     in.Events,
		Actions:    in.Actions,
		WorldState: in.WorldState,
		Metadata:   in.Metadata,
	}
	return e.addDraft(ctx, pid, schemas.OpCreateNode, "Create node", draft)
}

func (e *Editor) addDraft(ctx context.Context, pid string, opType schemas.OperationType, desc string, draft *schemas.NodeDraft) (*schemas.Node, error) {
	m := project.Mutation{Op: opType, Description: desc}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		id, err := tx.Graph.AddDraft(draft)
		if err != nil {
			return "", err
		}
		if tx.CurrentNodeID == "" && tx.Graph.StartNodeID() == id {
			tx.CurrentNodeID = id
		}
		return id, nil
	})
}

// CreateAssistedNode expands a rough description into a node. The scene is
// polished first so events and actions are generated against the final
// text; those two are then generated concurrently. Nothing is committed
// unless every requested generation succeeds.
func (e *Editor) CreateAssistedNode(ctx context.Context, pid string, in AssistedNodeInput) (*schemas.Node, error) {
	const op = "Editor.CreateAssistedNode"
	if err := e.checkInput(op, in); err != nil {
		return nil, err
	}
	draft := &schemas.NodeDraft{
		Scene:      in.RawDescription,
		NodeType:   in.NodeType,
		WorldState: in.WorldState,
	}
	if !in.PolishScene && !in.GenerateEvents && !in.GenerateActions {
		return e.addDraft(ctx, pid, schemas.OpCreateAssisted, "Create assisted node", draft)
	}

	gen, err := e.generator(op)
	if err != nil {
		return nil, err
	}
	gctx := in.Context.Clone()
	if gctx == nil {
		gctx = schemas.Document{}
	}
	gctx["raw_description"] = in.RawDescription
	if in.WorldState != nil {
		gctx["world_state"] = in.WorldState.Clone()
	}

	if in.PolishScene {
		scene, err := gen.GenerateScene(ctx, in.RawDescription, gctx)
		if err := generated(ctx, op, err); err != nil {
			return nil, err
		}
		if strings.TrimSpace(scene) == "" {
			return nil, schemas.NewGenerationError(op, errEmptyScene)
		}
		draft.Scene = scene
	}

	g, gctxRun := errgroup.WithContext(ctx)
	if in.GenerateEvents {
		g.Go(func() error {
			events, err := gen.GenerateEvents(gctxRun, draft.Scene, gctx.Clone())
			if err != nil {
				return err
			}
			draft.Events = events
			return nil
		})
	}
	if in.GenerateActions {
		g.Go(func() error {
			actions, err := gen.GenerateActions(gctxRun, draft.Scene, gctx.Clone(), in.WorldState.Clone())
			if err != nil {
				return err
			}
			draft.Actions = actions
			return nil
		})
	}
	if err := generated(ctx, op, g.Wait()); err != nil {
		return nil, err
	}
	if err := e.checkInput(op, draftSet{Events: draft.Events, Actions: draft.Actions}); err != nil {
		return nil, schemas.NewGenerationError(op, err)
	}

	node, err := e.addDraft(ctx, pid, schemas.OpCreateAssisted, "Create assisted node", draft)
	if err != nil {
		return nil, err
	}
	e.log.Debug("Assisted node created.", zap.String("project_id", pid), zap.String("node_id", node.ID),
		zap.Int("events", len(draft.Events)), zap.Int("actions", len(draft.Actions)))
	return node, nil
}

// CreateStoryBranch adds one new node per branch, each reached from `from`
// by a continue action. Either every branch is created or none is.
func (e *Editor) CreateStoryBranch(ctx context.Context, pid, from string, branches []BranchSpec) ([]*schemas.Node, error) {
	const op = "Editor.CreateStoryBranch"
	if err := e.checkInput(op, branchInput{From: from, Branches: branches}); err != nil {
		return nil, err
	}
	p, err := e.registry.Get(ctx, pid)
	if err != nil {
		return nil, err
	}
	m := project.Mutation{Op: schemas.OpCreateBranch, Description: "Create story branch", AffectedNodeID: from}
	var out []*schemas.Node
	_, err = p.Mutate(ctx, m, func(tx *project.Tx) error {
		if !tx.Graph.HasNode(from) {
			return schemas.NewNotFoundError(op, from, "node")
		}
		out = make([]*schemas.Node, 0, len(branches))
		for _, b := range branches {
			id, err := tx.Graph.AddDraft(&schemas.NodeDraft{Scene: b.Scene})
			if err != nil {
				return err
			}
			draft := schemas.ActionDraft{
				Description: b.ActionDescription,
				IsKeyAction: b.IsKey,
				Navigation:  schemas.NavigationContinue,
				Effects:     b.Effects,
			}
			if _, err := tx.Graph.AddChapterAction(from, &draft, id); err != nil {
				return err
			}
			n, err := tx.Graph.Node(id)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CloneNode copies a node's scene, events and their actions under fresh IDs.
// The clone gets no bindings: the source's chapter actions are kept as
// drafts in metadata.cloned_actions. A non-nil modifyScene replaces the
// copied scene text.
func (e *Editor) CloneNode(ctx context.Context, pid, nodeID string, modifyScene *string) (*schemas.Node, error) {
	const op = "Editor.CloneNode"
	if modifyScene != nil && strings.TrimSpace(*modifyScene) == "" {
		return nil, schemas.NewInvalidInputError(op, nodeID, "replacement scene is empty")
	}
	m := project.Mutation{Op: schemas.OpCloneNode, Description: "Clone node"}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		src, err := tx.Graph.Node(nodeID)
		if err != nil {
			return "", err
		}
		meta := src.Metadata.Clone()
		if meta == nil {
			meta = schemas.Document{}
		}
		meta[schemas.MetaClonedFrom] = src.ID

		cloned := []any{}
		outgoing, err := tx.Graph.OutgoingBindings(nodeID)
		if err != nil {
			return "", err
		}
		seen := map[string]bool{}
		for _, b := range outgoing {
			if seen[b.ActionID] {
				continue
			}
			seen[b.ActionID] = true
			a, err := tx.Graph.Action(b.ActionID)
			if err != nil {
				return "", err
			}
			if a.EventID != "" {
				continue
			}
			cloned = append(cloned, draftDocument(narrative.DraftFromAction(a)))
		}
		meta[schemas.MetaClonedActions] = cloned

		scene := src.Scene
		if modifyScene != nil {
			scene = *modifyScene
		}
		nodeType := src.NodeType
		if nodeType == schemas.NodeRoot {
			nodeType = schemas.NodeScene
		}
		newID, err := tx.Graph.AddNode(&schemas.Node{Scene: scene, NodeType: nodeType, Metadata: meta})
		if err != nil {
			return "", err
		}

		events, err := tx.Graph.NodeEvents(nodeID)
		if err != nil {
			return "", err
		}
		for _, ev := range events {
			d := schemas.EventDraft{
				Speaker:     ev.Speaker,
				Content:     ev.Content,
				Description: ev.Description,
				Timestamp:   ev.Timestamp,
				EventType:   ev.EventType,
				Metadata:    ev.Metadata,
			}
			for _, aID := range ev.Actions {
				a, err := tx.Graph.Action(aID)
				if err != nil {
					return "", err
				}
				d.Actions = append(d.Actions, narrative.DraftFromAction(a))
			}
			if _, err := tx.Graph.AddEventDraft(newID, &d); err != nil {
				return "", err
			}
		}
		return newID, nil
	})
}

// draftDocument renders an action draft as plain metadata.
func draftDocument(d schemas.ActionDraft) schemas.Document {
	doc := schemas.Document{
		"description":          d.Description,
		"is_key_action":        d.IsKeyAction,
		schemas.MetaNavigation: string(d.Navigation),
	}
	if d.Response != "" {
		doc[schemas.MetaResponse] = d.Response
	}
	if d.Effects != nil {
		doc[schemas.MetaEffects] = d.Effects.Clone()
	}
	if d.Metadata != nil {
		doc["metadata"] = d.Metadata.Clone()
	}
	return doc
}

// DeleteNode removes a node and everything that depends on it. If the
// reader was standing on the node, the session falls back to the start node.
func (e *Editor) DeleteNode(ctx context.Context, pid, nodeID string) (narrative.DeletedSet, error) {
	p, err := e.registry.Get(ctx, pid)
	if err != nil {
		return narrative.DeletedSet{}, err
	}
	var set narrative.DeletedSet
	m := project.Mutation{Op: schemas.OpDeleteNode, Description: "Delete node", AffectedNodeID: nodeID}
	_, err = p.Mutate(ctx, m, func(tx *project.Tx) error {
		deleted, err := tx.Graph.DeleteNode(nodeID)
		if err != nil {
			return err
		}
		set = deleted
		if tx.CurrentNodeID == nodeID {
			tx.CurrentNodeID = tx.Graph.StartNodeID()
		}
		return nil
	})
	if err != nil {
		return narrative.DeletedSet{}, err
	}
	e.log.Debug("Node deleted.", zap.String("project_id", pid), zap.String("node_id", nodeID),
		zap.Int("bindings", len(set.Bindings)), zap.Int("actions", len(set.Actions)))
	return set, nil
}

// GraphOverview returns size and shape statistics for a project's graph.
func (e *Editor) GraphOverview(ctx context.Context, pid string) (narrative.Stats, error) {
	var s narrative.Stats
	err := e.read(ctx, pid, func(v project.View) error {
		s = v.Graph.Stats()
		return nil
	})
	return s, err
}

// ValidateGraph runs the full consistency sweep.
func (e *Editor) ValidateGraph(ctx context.Context, pid string) (narrative.Report, error) {
	var r narrative.Report
	err := e.read(ctx, pid, func(v project.View) error {
		r = v.Graph.Validate()
		return nil
	})
	return r, err
}
