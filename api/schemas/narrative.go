package schemas

import (
	"sort"
)

// -- Canonical Narrative Data Model --

// NodeType tags the role a node plays in the story.
type NodeType string

const (
	NodeScene  NodeType = "scene"  // A regular story beat.
	NodeRoot   NodeType = "root"   // The bootstrap node a story starts from.
	NodeEnding NodeType = "ending" // An intentionally terminal beat.
)

// EventType distinguishes spoken lines from narration.
type EventType string

const (
	EventDialogue  EventType = "dialogue"
	EventNarration EventType = "narration"
)

// Valid reports whether the event type is one the engine understands.
func (t EventType) Valid() bool {
	return t == EventDialogue || t == EventNarration
}

// Navigation describes what happens to the reader's position when an action
// is taken.
type Navigation string

const (
	NavigationContinue Navigation = "continue" // Advance to another node.
	NavigationStay     Navigation = "stay"     // Remain at the current node, mutating state only.
)

// Valid reports whether the navigation value is known.
func (n Navigation) Valid() bool {
	return n == NavigationContinue || n == NavigationStay
}

// Well-known metadata keys interpreted by the engine. Everything else in a
// metadata document is carried through untouched.
const (
	MetaNavigation        = "navigation"
	MetaResponse          = "response"
	MetaEffects           = "effects"
	MetaWorldState        = "world_state"
	MetaTerminal          = "terminal"
	MetaClonedFrom        = "cloned_from"
	MetaClonedActions     = "cloned_actions"
	EffectWorldStateDelta = "world_state_changes"
	StateActionHistory    = "action_history"
	StateTension          = "tension"
)

// Node is a single story beat. Child entities are referenced by ID and owned
// through the graph's indexes, never embedded.
type Node struct {
	ID              string   `json:"id" yaml:"id"`
	Scene           string   `json:"scene" yaml:"scene"`
	NodeType        NodeType `json:"node_type" yaml:"node_type"`
	Events          []string `json:"events" yaml:"events"`
	OutgoingActions []string `json:"outgoing_actions" yaml:"outgoing_actions"`
	Metadata        Document `json:"metadata" yaml:"metadata"`
}

// Validate checks that the node's child lists contain no duplicate IDs.
func (n *Node) Validate() error {
	if id, dup := firstDuplicate(n.Events); dup {
		return NewValidationError("Node.Validate", DuplicateChild, n.ID,
			"event %q listed more than once", id)
	}
	if id, dup := firstDuplicate(n.OutgoingActions); dup {
		return NewValidationError("Node.Validate", DuplicateChild, n.ID,
			"binding %q listed more than once", id)
	}
	return nil
}

// IsTerminal reports whether the node was marked as an intentional ending.
func (n *Node) IsTerminal() bool {
	if n.NodeType == NodeEnding {
		return true
	}
	v, _ := n.Metadata[MetaTerminal].(bool)
	return v
}

// WorldState returns the state captured when the node was generated, if any.
func (n *Node) WorldState() WorldState {
	if ws, ok := AsDocument(n.Metadata[MetaWorldState]); ok {
		return WorldState(ws)
	}
	return nil
}

// Event is a line of dialogue or narration attached to a node.
type Event struct {
	ID          string    `json:"id" yaml:"id"`
	NodeID      string    `json:"node_id" yaml:"node_id"`
	Speaker     string    `json:"speaker,omitempty" yaml:"speaker,omitempty"` // Empty for narration.
	Content     string    `json:"content" yaml:"content"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Timestamp   int       `json:"timestamp" yaml:"timestamp"`
	EventType   EventType `json:"event_type" yaml:"event_type"`
	Metadata    Document  `json:"metadata" yaml:"metadata"`
	Actions     []string  `json:"actions" yaml:"actions"`
}

// Validate checks the event's type and owned action list.
func (e *Event) Validate() error {
	if !e.EventType.Valid() {
		return NewInvalidInputError("Event.Validate", e.ID, "unknown event type %q", e.EventType)
	}
	if id, dup := firstDuplicate(e.Actions); dup {
		return NewValidationError("Event.Validate", DuplicateChild, e.ID,
			"action %q listed more than once", id)
	}
	return nil
}

// Action is a player-facing choice. Its target is expressed by an
// ActionBinding, never by the action itself.
type Action struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	IsKeyAction bool     `json:"is_key_action" yaml:"is_key_action"`
	EventID     string   `json:"event_id,omitempty" yaml:"event_id,omitempty"` // Empty for chapter-level actions.
	Metadata    Document `json:"metadata" yaml:"metadata"`
}

// Navigation returns the action's navigation mode. Actions without an
// explicit mode advance the story.
func (a *Action) Navigation() Navigation {
	if nav, ok := a.Metadata[MetaNavigation].(string); ok && nav != "" {
		return Navigation(nav)
	}
	if nav, ok := a.Metadata[MetaNavigation].(Navigation); ok && nav != "" {
		return nav
	}
	return NavigationContinue
}

// Response returns the stored stay response, if any.
func (a *Action) Response() string {
	s, _ := a.Metadata[MetaResponse].(string)
	return s
}

// Effects returns the action's effects document, or nil.
func (a *Action) Effects() Document {
	if d, ok := AsDocument(a.Metadata[MetaEffects]); ok {
		return d
	}
	return nil
}

// ActionBinding is a directed edge wiring an action from its source node to
// an optional target node or event.
type ActionBinding struct {
	ID            string `json:"id" yaml:"id"`
	ActionID      string `json:"action_id" yaml:"action_id"`
	SourceNodeID  string `json:"source_node_id" yaml:"source_node_id"`
	TargetNodeID  string `json:"target_node_id,omitempty" yaml:"target_node_id,omitempty"`
	TargetEventID string `json:"target_event_id,omitempty" yaml:"target_event_id,omitempty"`
}

// HasTarget reports whether the binding points anywhere.
func (b *ActionBinding) HasTarget() bool {
	return b.TargetNodeID != "" || b.TargetEventID != ""
}

// GraphView is the read-only slice of a graph that binding validation needs.
type GraphView interface {
	HasNode(id string) bool
	HasEvent(id string) bool
	LookupAction(id string) (*Action, bool)
}

// Validate checks the binding's references against the supplied graph view.
func (b *ActionBinding) Validate(view GraphView) error {
	const op = "ActionBinding.Validate"
	if !view.HasNode(b.SourceNodeID) {
		return NewValidationError(op, DanglingReference, b.ID, "source node %q does not exist", b.SourceNodeID)
	}
	action, ok := view.LookupAction(b.ActionID)
	if !ok {
		return NewValidationError(op, DanglingReference, b.ID, "action %q does not exist", b.ActionID)
	}
	if b.TargetNodeID != "" && !view.HasNode(b.TargetNodeID) {
		return NewValidationError(op, DanglingReference, b.ID, "target node %q does not exist", b.TargetNodeID)
	}
	if b.TargetEventID != "" && !view.HasEvent(b.TargetEventID) {
		return NewValidationError(op, DanglingReference, b.ID, "target event %q does not exist", b.TargetEventID)
	}
	if b.TargetNodeID != "" && b.TargetEventID != "" {
		return NewValidationError(op, InvalidNavigationTarget, b.ID, "binding targets both a node and an event")
	}
	nav := action.Navigation()
	if !nav.Valid() {
		return NewValidationError(op, InvalidNavigationTarget, b.ID, "action %q has unknown navigation %q", action.ID, nav)
	}
	if nav == NavigationStay && b.HasTarget() {
		return NewValidationError(op, InvalidNavigationTarget, b.ID, "stay action %q cannot have a target", action.ID)
	}
	return nil
}

// WorldState is the evolving document threaded through story progression.
type WorldState = Document

// firstDuplicate returns the first repeated ID in ids.
func firstDuplicate(ids []string) (string, bool) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return "", false
}

// SortedKeys returns the document's keys in lexical order.
func SortedKeys(d Document) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
