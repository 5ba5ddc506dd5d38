package editor

import "github.com/xkilldash9x/plotweave/api/schemas"

// Part names a regenerable slice of a node.
type Part string

const (
	PartScene   Part = "scene"
	PartEvents  Part = "events"
	PartActions Part = "actions"
)

// AddActionInput describes a new chapter action. Nil Effects asks the
// generator to propose them.
type AddActionInput struct {
	Description string             `json:"description" validate:"required"`
	Navigation  schemas.Navigation `json:"navigation" validate:"omitempty,oneof=continue stay"`
	IsKey       bool               `json:"is_key_action"`
	Response    string             `json:"response,omitempty"`
	Effects     schemas.Document   `json:"effects,omitempty"`
}

// EventInput describes a new event. A nil Timestamp places the event after
// every existing one.
type EventInput struct {
	Speaker     string                `json:"speaker"`
	Content     string                `json:"content" validate:"required"`
	Description string                `json:"description"`
	Timestamp   *int                  `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
	EventType   schemas.EventType     `json:"event_type" validate:"omitempty,oneof=dialogue narration"`
	Actions     []schemas.ActionDraft `json:"actions" validate:"dive"`
	Metadata    schemas.Document      `json:"metadata,omitempty"`
}

// CustomNodeInput is a fully authored node.
type CustomNodeInput struct {
	Scene      string                `json:"scene" validate:"required"`
	NodeType   schemas.NodeType      `json:"node_type"`
	Events     []schemas.EventDraft  `json:"events" validate:"dive"`
	Actions    []schemas.ActionDraft `json:"actions" validate:"dive"`
	WorldState schemas.WorldState    `json:"world_state,omitempty"`
	Metadata   schemas.Document      `json:"metadata,omitempty"`
}

// AssistedNodeInput is a rough node description for the generator to expand.
type AssistedNodeInput struct {
	RawDescription  string             `json:"raw_description" validate:"required"`
	NodeType        schemas.NodeType   `json:"node_type"`
	PolishScene     bool               `json:"polish_scene"`
	GenerateEvents  bool               `json:"generate_events"`
	GenerateActions bool               `json:"generate_actions"`
	Context         schemas.Document   `json:"context,omitempty"`
	WorldState      schemas.WorldState `json:"world_state,omitempty"`
}

// ConnectInput wires two existing nodes with a new action.
type ConnectInput struct {
	From        string             `json:"from" validate:"required"`
	To          string             `json:"to" validate:"required"`
	Description string             `json:"description" validate:"required"`
	Navigation  schemas.Navigation `json:"navigation" validate:"omitempty,oneof=continue stay"`
	IsKey       bool               `json:"is_key_action"`
	Effects     schemas.Document   `json:"effects,omitempty"`
}

// BranchSpec is one arm of a story branch.
type BranchSpec struct {
	ActionDescription string           `json:"action_description" validate:"required"`
	Scene             string           `json:"scene" validate:"required"`
	IsKey             bool             `json:"is_key_action"`
	Effects           schemas.Document `json:"effects,omitempty"`
}

type branchInput struct {
	From     string       `validate:"required"`
	Branches []BranchSpec `validate:"required,min=1,dive"`
}

// Connection summarizes one binding from the point of view of a node.
type Connection struct {
	BindingID         string             `json:"binding_id"`
	ActionID          string             `json:"action_id"`
	ActionDescription string             `json:"action_description"`
	Navigation        schemas.Navigation `json:"navigation"`
	IsKeyAction       bool               `json:"is_key_action"`
	// NodeID is the other endpoint: the source for incoming connections and
	// the target for outgoing ones. Empty for an ungenerated target.
	NodeID       string `json:"node_id,omitempty"`
	EventID      string `json:"event_id,omitempty"`
	SceneExcerpt string `json:"scene_excerpt,omitempty"`
}

// Connections lists a node's inbound and outbound bindings.
type Connections struct {
	NodeID   string       `json:"node_id"`
	Incoming []Connection `json:"incoming"`
	Outgoing []Connection `json:"outgoing"`
}
