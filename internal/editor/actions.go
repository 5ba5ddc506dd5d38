package editor

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
	"github.com/xkilldash9x/plotweave/internal/project"
)

const excerptLen = 80

// AddAction adds a chapter action to a node with an untargeted binding.
// When no effects are given, the generator proposes them from the action's
// description before the project is locked.
func (e *Editor) AddAction(ctx context.Context, pid, nodeID string, in AddActionInput) (*schemas.Node, error) {
	const op = "Editor.AddAction"
	if err := e.checkInput(op, in); err != nil {
		return nil, err
	}
	draft := schemas.ActionDraft{
		Description: in.Description,
		IsKeyAction: in.IsKey,
		Navigation:  in.Navigation,
		Response:    in.Response,
		Effects:     in.Effects,
	}
	if draft.Navigation == "" {
		draft.Navigation = schemas.NavigationContinue
	}

	if in.Effects == nil {
		gen, err := e.generator(op)
		if err != nil {
			return nil, err
		}
		node, world, err := e.snapshot(ctx, pid, nodeID)
		if err != nil {
			return nil, err
		}
		gctx := generationContext(node, world, schemas.Document{
			"action_description": in.Description,
			"navigation":         string(draft.Navigation),
		})
		proposals, err := gen.GenerateActions(ctx, node.Scene, gctx, world)
		if err := generated(ctx, op, err); err != nil {
			return nil, err
		}
		draft.Effects = synthesizeEffects(proposals, in.Description)
		if draft.Response == "" && draft.Navigation == schemas.NavigationStay {
			draft.Response = proposedResponse(proposals, in.Description)
		}
	}

	m := project.Mutation{Op: schemas.OpAddAction, Description: "Add action: " + in.Description, AffectedNodeID: nodeID}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		if !tx.Graph.HasNode(nodeID) {
			return "", schemas.NewNotFoundError(op, nodeID, "node")
		}
		_, err := tx.Graph.AddChapterAction(nodeID, &draft, "")
		return nodeID, err
	})
}

// synthesizeEffects picks the effects of the proposal matching description,
// falling back to the first proposal that has any.
func synthesizeEffects(proposals []schemas.ActionDraft, description string) schemas.Document {
	for _, p := range proposals {
		if strings.EqualFold(strings.TrimSpace(p.Description), strings.TrimSpace(description)) && p.Effects != nil {
			return p.Effects.Clone()
		}
	}
	for _, p := range proposals {
		if p.Effects != nil {
			return p.Effects.Clone()
		}
	}
	return schemas.Document{}
}

func proposedResponse(proposals []schemas.ActionDraft, description string) string {
	for _, p := range proposals {
		if strings.EqualFold(strings.TrimSpace(p.Description), strings.TrimSpace(description)) && p.Response != "" {
			return p.Response
		}
	}
	return ""
}

// EditActionDescription rewrites an action's description and returns the
// node that owns it, or nil for an action no node references.
func (e *Editor) EditActionDescription(ctx context.Context, pid, actionID, text string) (*schemas.Node, error) {
	const op = "Editor.EditActionDescription"
	if strings.TrimSpace(text) == "" {
		return nil, schemas.NewInvalidInputError(op, actionID, "description is empty")
	}
	m := project.Mutation{Op: schemas.OpEditAction, Description: "Edit action: " + text}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		a, err := tx.Graph.Action(actionID)
		if err != nil {
			return "", err
		}
		a.Description = text
		if err := tx.Graph.UpdateAction(a); err != nil {
			return "", err
		}
		owner, _ := tx.Graph.OwnerNode(actionID)
		return owner, nil
	})
}

// DeleteAction removes an action and every binding that references it.
func (e *Editor) DeleteAction(ctx context.Context, pid, actionID string) (*schemas.Node, error) {
	m := project.Mutation{Op: schemas.OpDeleteAction, Description: "Delete action"}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		if _, err := tx.Graph.Action(actionID); err != nil {
			return "", err
		}
		owner, _ := tx.Graph.OwnerNode(actionID)
		if _, err := tx.Graph.DeleteAction(actionID); err != nil {
			return "", err
		}
		if owner != "" && !tx.Graph.HasNode(owner) {
			owner = ""
		}
		return owner, nil
	})
}

// ConnectNodes creates an action on From whose binding targets To.
func (e *Editor) ConnectNodes(ctx context.Context, pid string, in ConnectInput) (*schemas.Node, error) {
	const op = "Editor.ConnectNodes"
	if err := e.checkInput(op, in); err != nil {
		return nil, err
	}
	if in.From == in.To && !e.cfg.AllowSelfLoops {
		return nil, schemas.NewSelfLoopError(op, in.From)
	}
	draft := schemas.ActionDraft{
		Description: in.Description,
		IsKeyAction: in.IsKey,
		Navigation:  in.Navigation,
		Effects:     in.Effects,
	}
	m := project.Mutation{Op: schemas.OpConnectNodes, Description: "Connect: " + in.Description, AffectedNodeID: in.From}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		for _, id := range []string{in.From, in.To} {
			if !tx.Graph.HasNode(id) {
				return "", schemas.NewNotFoundError(op, id, "node")
			}
		}
		_, err := tx.Graph.AddChapterAction(in.From, &draft, in.To)
		return in.From, err
	})
}

// NodeConnections summarizes the bindings entering and leaving a node.
func (e *Editor) NodeConnections(ctx context.Context, pid, nodeID string) (*Connections, error) {
	out := &Connections{NodeID: nodeID, Incoming: []Connection{}, Outgoing: []Connection{}}
	err := e.read(ctx, pid, func(v project.View) error {
		incoming, err := v.Graph.IncomingBindings(nodeID)
		if err != nil {
			return err
		}
		outgoing, err := v.Graph.OutgoingBindings(nodeID)
		if err != nil {
			return err
		}
		for _, b := range incoming {
			out.Incoming = append(out.Incoming, describe(v.Graph, b, b.SourceNodeID))
		}
		for _, b := range outgoing {
			out.Outgoing = append(out.Outgoing, describe(v.Graph, b, b.TargetNodeID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func describe(g *narrative.Graph, b *schemas.ActionBinding, other string) Connection {
	c := Connection{BindingID: b.ID, ActionID: b.ActionID, NodeID: other}
	if other == b.TargetNodeID {
		c.EventID = b.TargetEventID
		if c.NodeID == "" && b.TargetEventID != "" {
			if ev, err := g.Event(b.TargetEventID); err == nil {
				c.NodeID = ev.NodeID
			}
		}
	}
	if a, err := g.Action(b.ActionID); err == nil {
		c.ActionDescription = a.Description
		c.Navigation = a.Navigation()
		c.IsKeyAction = a.IsKeyAction
	}
	if c.NodeID != "" {
		if n, err := g.Node(c.NodeID); err == nil {
			c.SceneExcerpt = excerpt(n.Scene)
		}
	}
	return c
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= excerptLen {
		return s
	}
	r := []rune(s)
	return string(r[:excerptLen]) + "..."
}
