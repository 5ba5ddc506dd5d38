package schemas

import (
	"context"
	"time"
)

// -- Content Generation --

// EventDraft is a generator-proposed event before it receives an ID.
type EventDraft struct {
	Speaker     string        `json:"speaker" yaml:"speaker"`
	Content     string        `json:"content" yaml:"content" validate:"required"`
	Description string        `json:"description" yaml:"description"`
	Timestamp   int           `json:"timestamp" yaml:"timestamp" validate:"gte=0"`
	EventType   EventType     `json:"event_type" yaml:"event_type" validate:"omitempty,oneof=dialogue narration"`
	Actions     []ActionDraft `json:"actions" yaml:"actions" validate:"dive"`
	Metadata    Document      `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ActionDraft is a generator-proposed choice before it receives an ID.
type ActionDraft struct {
	Description string     `json:"description" yaml:"description" validate:"required"`
	IsKeyAction bool       `json:"is_key_action" yaml:"is_key_action"`
	Navigation  Navigation `json:"navigation" yaml:"navigation" validate:"omitempty,oneof=continue stay"`
	Response    string     `json:"response,omitempty" yaml:"response,omitempty"`
	Effects     Document   `json:"effects,omitempty" yaml:"effects,omitempty"`
	Metadata    Document   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeDraft is a complete, uncommitted node proposal.
type NodeDraft struct {
	Scene      string        `json:"scene" yaml:"scene" validate:"required"`
	NodeType   NodeType      `json:"node_type,omitempty" yaml:"node_type,omitempty"`
	Events     []EventDraft  `json:"events" yaml:"events" validate:"dive"`
	Actions    []ActionDraft `json:"actions" yaml:"actions" validate:"dive"`
	WorldState WorldState    `json:"world_state,omitempty" yaml:"world_state,omitempty"`
	Metadata   Document      `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ContentGenerator produces narrative content. It never touches graph
// structure; the engine commits drafts only after a call succeeds.
type ContentGenerator interface {
	// GenerateScene writes or polishes scene text from a prompt.
	GenerateScene(ctx context.Context, prompt string, gctx Document) (string, error)
	// GenerateEvents proposes background dialogue and narration for a scene.
	GenerateEvents(ctx context.Context, scene string, gctx Document) ([]EventDraft, error)
	// GenerateActions proposes player choices for a scene.
	GenerateActions(ctx context.Context, scene string, gctx Document, state WorldState) ([]ActionDraft, error)
	// GenerateNextNode proposes the node reached by taking action from node.
	GenerateNextNode(ctx context.Context, node *Node, action *Action, state WorldState) (*NodeDraft, error)
	// GenerateResponse narrates the outcome of a stay action that has no stored response.
	GenerateResponse(ctx context.Context, node *Node, action *Action, state WorldState) (string, error)
}

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls sampling and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Persistence --

// ProjectRecord is the persisted form of one project: its serialized graph
// plus the reader's session position.
type ProjectRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Graph         []byte     `json:"graph"`
	WorldState    WorldState `json:"world_state"`
	CurrentNodeID string     `json:"current_node_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OperationType tags the logical edit a snapshot can reverse.
type OperationType string

const (
	OpEditScene      OperationType = "edit_scene"
	OpRegeneratePart OperationType = "regenerate_part"
	OpAddAction      OperationType = "add_action"
	OpEditAction     OperationType = "edit_action_description"
	OpDeleteAction   OperationType = "delete_action"
	OpAddEvent       OperationType = "add_dialogue_event"
	OpDeleteEvent    OperationType = "delete_event"
	OpCreateNode     OperationType = "create_custom_node"
	OpCreateAssisted OperationType = "create_assisted_node"
	OpConnectNodes   OperationType = "connect_nodes"
	OpCreateBranch   OperationType = "create_story_branch"
	OpCloneNode      OperationType = "clone_node"
	OpDeleteNode     OperationType = "delete_node"
	OpApplyStay      OperationType = "apply_action_stay"
	OpApplyContinue  OperationType = "apply_action_continue"
	OpBootstrap      OperationType = "bootstrap"
	OpImport         OperationType = "import"
)

// Snapshot is an immutable pre-image of a project taken before one logical
// operation.
type Snapshot struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"project_id"`
	OperationType  OperationType `json:"operation_type"`
	Description    string        `json:"description"`
	AffectedNodeID string        `json:"affected_node_id,omitempty"`
	Payload        []byte        `json:"-"`
	Checksum       string        `json:"checksum"`
	CreatedAt      time.Time     `json:"created_at"`
}

// GraphStore persists projects by ID.
type GraphStore interface {
	SaveProject(ctx context.Context, rec ProjectRecord) error
	LoadProject(ctx context.Context, id string) (*ProjectRecord, error)
	ListProjects(ctx context.Context) ([]ProjectRecord, error)
	DeleteProject(ctx context.Context, id string) error
}

// SnapshotStore persists the per-project snapshot log. Listings are ordered
// oldest first.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, projectID string) ([]Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	// DeleteSnapshotsFrom removes the given snapshot and every later one for
	// the project, returning how many were removed.
	DeleteSnapshotsFrom(ctx context.Context, projectID, id string) (int, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	GraphStore
	SnapshotStore
	Close() error
}
