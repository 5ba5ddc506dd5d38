package editor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/project"
)

// EditScene replaces a node's scene text.
func (e *Editor) EditScene(ctx context.Context, pid, nodeID, text string) (*schemas.Node, error) {
	const op = "Editor.EditScene"
	if strings.TrimSpace(text) == "" {
		return nil, schemas.NewInvalidInputError(op, nodeID, "scene text is empty")
	}
	m := project.Mutation{Op: schemas.OpEditScene, Description: "Edit scene", AffectedNodeID: nodeID}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		n, err := tx.Graph.Node(nodeID)
		if err != nil {
			return "", err
		}
		n.Scene = text
		return nodeID, tx.Graph.UpdateNode(n)
	})
}

// RegeneratePart asks the generator for a fresh scene, event set or chapter
// action set and replaces that part wholesale. The old children are removed
// with their cascades.
func (e *Editor) RegeneratePart(ctx context.Context, pid, nodeID string, part Part, extra schemas.Document) (*schemas.Node, error) {
	const op = "Editor.RegeneratePart"
	switch part {
	case PartScene, PartEvents, PartActions:
	default:
		return nil, schemas.NewInvalidInputError(op, nodeID, "unknown part %q; expected scene, events or actions", part)
	}
	gen, err := e.generator(op)
	if err != nil {
		return nil, err
	}
	node, world, err := e.snapshot(ctx, pid, nodeID)
	if err != nil {
		return nil, err
	}
	gctx := generationContext(node, world, extra)

	var (
		scene   string
		events  []schemas.EventDraft
		actions []schemas.ActionDraft
	)
	switch part {
	case PartScene:
		scene, err = gen.GenerateScene(ctx, node.Scene, gctx)
		if err == nil && strings.TrimSpace(scene) == "" {
			return nil, schemas.NewGenerationError(op, errEmptyScene)
		}
	case PartEvents:
		events, err = gen.GenerateEvents(ctx, node.Scene, gctx)
	case PartActions:
		actions, err = gen.GenerateActions(ctx, node.Scene, gctx, world)
	}
	if err := generated(ctx, op, err); err != nil {
		return nil, err
	}
	if err := e.checkInput(op, draftSet{Events: events, Actions: actions}); err != nil {
		return nil, schemas.NewGenerationError(op, err)
	}

	m := project.Mutation{Op: schemas.OpRegeneratePart, Description: "Regenerate " + string(part), AffectedNodeID: nodeID}
	out, err := e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		n, err := tx.Graph.Node(nodeID)
		if err != nil {
			return "", err
		}
		switch part {
		case PartScene:
			n.Scene = scene
			return nodeID, tx.Graph.UpdateNode(n)
		case PartEvents:
			for _, evID := range n.Events {
				if _, err := tx.Graph.DeleteEvent(evID); err != nil {
					return "", err
				}
			}
			for i := range events {
				if _, err := tx.Graph.AddEventDraft(nodeID, &events[i]); err != nil {
					return "", err
				}
			}
		case PartActions:
			for _, bID := range n.OutgoingActions {
				b, err := tx.Graph.Binding(bID)
				if err != nil {
					// Already removed with an earlier action.
					continue
				}
				a, err := tx.Graph.Action(b.ActionID)
				if err != nil || a.EventID != "" {
					continue
				}
				if _, err := tx.Graph.DeleteAction(a.ID); err != nil {
					return "", err
				}
			}
			for i := range actions {
				if _, err := tx.Graph.AddChapterAction(nodeID, &actions[i], ""); err != nil {
					return "", err
				}
			}
		}
		return nodeID, nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("Regenerated node part.", zap.String("project_id", pid), zap.String("node_id", nodeID), zap.String("part", string(part)))
	return out, nil
}

// draftSet lets generated drafts go through the same validation as authored
// input.
type draftSet struct {
	Events  []schemas.EventDraft  `validate:"dive"`
	Actions []schemas.ActionDraft `validate:"dive"`
}
