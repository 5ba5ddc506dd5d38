package narrative

import (
	"github.com/xkilldash9x/plotweave/api/schemas"
)

// AddDraft materializes a node proposal: the node, its events with their
// actions, and its chapter actions, each chapter action with an untargeted
// binding sourced at the node. It returns the new node's ID.
//
// The graph is left partially modified when an error is returned; callers
// run it on a working copy.
func (g *Graph) AddDraft(d *schemas.NodeDraft) (string, error) {
	if d == nil {
		return "", schemas.NewInvalidInputError("Graph.AddDraft", "", "draft is nil")
	}
	meta := d.Metadata.Clone()
	if meta == nil {
		meta = schemas.Document{}
	}
	if d.WorldState != nil {
		meta[schemas.MetaWorldState] = d.WorldState.Clone()
	}
	nodeID, err := g.AddNode(&schemas.Node{Scene: d.Scene, NodeType: d.NodeType, Metadata: meta})
	if err != nil {
		return "", err
	}
	for i := range d.Events {
		if _, err := g.AddEventDraft(nodeID, &d.Events[i]); err != nil {
			return "", err
		}
	}
	for i := range d.Actions {
		if _, err := g.AddChapterAction(nodeID, &d.Actions[i], ""); err != nil {
			return "", err
		}
	}
	return nodeID, nil
}

// AddEventDraft attaches an event and the actions it owns to a node.
func (g *Graph) AddEventDraft(nodeID string, d *schemas.EventDraft) (string, error) {
	evID, err := g.AddEvent(&schemas.Event{
		NodeID:      nodeID,
		Speaker:     d.Speaker,
		Content:     d.Content,
		Description: d.Description,
		Timestamp:   d.Timestamp,
		EventType:   d.EventType,
		Metadata:    d.Metadata.Clone(),
	})
	if err != nil {
		return "", err
	}
	for i := range d.Actions {
		a := ActionFromDraft(&d.Actions[i])
		a.EventID = evID
		if _, err := g.AddAction(a); err != nil {
			return "", err
		}
	}
	return evID, nil
}

// AddChapterAction adds a node-level action and binds it from nodeID to
// target, which may be empty. It returns the binding's ID.
func (g *Graph) AddChapterAction(nodeID string, d *schemas.ActionDraft, target string) (string, error) {
	actionID, err := g.AddAction(ActionFromDraft(d))
	if err != nil {
		return "", err
	}
	return g.AddBinding(&schemas.ActionBinding{
		ActionID:     actionID,
		SourceNodeID: nodeID,
		TargetNodeID: target,
	})
}

// ActionFromDraft converts a draft into an unsaved action, folding
// navigation, response and effects into its metadata.
func ActionFromDraft(d *schemas.ActionDraft) *schemas.Action {
	meta := d.Metadata.Clone()
	if meta == nil {
		meta = schemas.Document{}
	}
	nav := d.Navigation
	if nav == "" {
		nav = schemas.NavigationContinue
	}
	meta[schemas.MetaNavigation] = string(nav)
	if d.Response != "" {
		meta[schemas.MetaResponse] = d.Response
	}
	if d.Effects != nil {
		meta[schemas.MetaEffects] = d.Effects.Clone()
	}
	return &schemas.Action{
		Description: d.Description,
		IsKeyAction: d.IsKeyAction,
		Metadata:    meta,
	}
}

// DraftFromAction is the inverse of ActionFromDraft.
func DraftFromAction(a *schemas.Action) schemas.ActionDraft {
	meta := a.Metadata.Clone()
	delete(meta, schemas.MetaNavigation)
	delete(meta, schemas.MetaResponse)
	delete(meta, schemas.MetaEffects)
	if len(meta) == 0 {
		meta = nil
	}
	return schemas.ActionDraft{
		Description: a.Description,
		IsKeyAction: a.IsKeyAction,
		Navigation:  a.Navigation(),
		Response:    a.Response(),
		Effects:     a.Effects().Clone(),
		Metadata:    meta,
	}
}
