package editor

import (
	"context"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/project"
)

// AddDialogueEvent attaches an event, and any actions it owns, to a node.
func (e *Editor) AddDialogueEvent(ctx context.Context, pid, nodeID string, in EventInput) (*schemas.Node, error) {
	const op = "Editor.AddDialogueEvent"
	if err := e.checkInput(op, in); err != nil {
		return nil, err
	}
	m := project.Mutation{Op: schemas.OpAddEvent, Description: "Add event", AffectedNodeID: nodeID}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		events, err := tx.Graph.NodeEvents(nodeID)
		if err != nil {
			return "", err
		}
		ts := 0
		if in.Timestamp != nil {
			ts = *in.Timestamp
		} else {
			for _, ev := range events {
				if ev.Timestamp >= ts {
					ts = ev.Timestamp + 1
				}
			}
		}
		_, err = tx.Graph.AddEventDraft(nodeID, &schemas.EventDraft{
			Speaker:     in.Speaker,
			Content:     in.Content,
			Description: in.Description,
			Timestamp:   ts,
			EventType:   in.EventType,
			Actions:     in.Actions,
			Metadata:    in.Metadata,
		})
		return nodeID, err
	})
}

// DeleteEvent removes an event with its actions and every binding that
// references them or targets the event. It returns the owning node.
func (e *Editor) DeleteEvent(ctx context.Context, pid, eventID string) (*schemas.Node, error) {
	m := project.Mutation{Op: schemas.OpDeleteEvent, Description: "Delete event"}
	return e.mutate(ctx, pid, m, func(tx *project.Tx) (string, error) {
		ev, err := tx.Graph.Event(eventID)
		if err != nil {
			return "", err
		}
		if _, err := tx.Graph.DeleteEvent(eventID); err != nil {
			return "", err
		}
		return ev.NodeID, nil
	})
}
