package narrative

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// DocumentVersion is written into every serialized graph.
const DocumentVersion = 1

// JSON sorts map keys and keeps numbers as json.Number so a document
// re-encodes to the exact bytes it was decoded from. Every package that
// persists engine documents encodes through it.
var JSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// GraphDocument is the persisted shape of a graph.
type GraphDocument struct {
	Version     int                               `json:"version" yaml:"version"`
	StartNodeID string                            `json:"start_node_id" yaml:"start_node_id"`
	Nodes       map[string]*schemas.Node          `json:"nodes" yaml:"nodes"`
	Events      map[string]*schemas.Event         `json:"events" yaml:"events"`
	Actions     map[string]*schemas.Action        `json:"actions" yaml:"actions"`
	Bindings    map[string]*schemas.ActionBinding `json:"bindings" yaml:"bindings"`
}

// graphSchema guards Load against documents that would decode into records
// with missing identities or wrongly typed collections.
const graphSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "start_node_id", "nodes", "events", "actions", "bindings"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "start_node_id": {"type": "string"},
    "nodes": {"type": "object", "additionalProperties": {"$ref": "#/definitions/node"}},
    "events": {"type": "object", "additionalProperties": {"$ref": "#/definitions/event"}},
    "actions": {"type": "object", "additionalProperties": {"$ref": "#/definitions/action"}},
    "bindings": {"type": "object", "additionalProperties": {"$ref": "#/definitions/binding"}}
  },
  "definitions": {
    "ids": {"type": ["array", "null"], "items": {"type": "string"}},
    "meta": {"type": ["object", "null"]},
    "node": {
      "type": "object",
      "required": ["id", "scene"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "scene": {"type": "string"},
        "node_type": {"type": "string"},
        "events": {"$ref": "#/definitions/ids"},
        "outgoing_actions": {"$ref": "#/definitions/ids"},
        "metadata": {"$ref": "#/definitions/meta"}
      }
    },
    "event": {
      "type": "object",
      "required": ["id", "node_id", "content", "event_type"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "node_id": {"type": "string", "minLength": 1},
        "timestamp": {"type": "integer"},
        "event_type": {"enum": ["dialogue", "narration"]},
        "actions": {"$ref": "#/definitions/ids"},
        "metadata": {"$ref": "#/definitions/meta"}
      }
    },
    "action": {
      "type": "object",
      "required": ["id", "description"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "is_key_action": {"type": "boolean"},
        "event_id": {"type": "string"},
        "metadata": {"$ref": "#/definitions/meta"}
      }
    },
    "binding": {
      "type": "object",
      "required": ["id", "action_id", "source_node_id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "action_id": {"type": "string", "minLength": 1},
        "source_node_id": {"type": "string", "minLength": 1},
        "target_node_id": {"type": "string"},
        "target_event_id": {"type": "string"}
      }
    }
  }
}`

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func documentSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("graph.json", strings.NewReader(graphSchema)); err != nil {
			compiledSchemaErr = err
			return
		}
		compiledSchema, compiledSchemaErr = c.Compile("graph.json")
	})
	return compiledSchema, compiledSchemaErr
}

// ToDocument copies the graph into its persisted shape.
func (g *Graph) ToDocument() *GraphDocument {
	doc := &GraphDocument{
		Version:     DocumentVersion,
		StartNodeID: g.startNodeID,
		Nodes:       make(map[string]*schemas.Node, len(g.nodes)),
		Events:      make(map[string]*schemas.Event, len(g.events)),
		Actions:     make(map[string]*schemas.Action, len(g.actions)),
		Bindings:    make(map[string]*schemas.ActionBinding, len(g.bindings)),
	}
	for id, n := range g.nodes {
		doc.Nodes[id] = cloneNode(n)
	}
	for id, e := range g.events {
		doc.Events[id] = cloneEvent(e)
	}
	for id, a := range g.actions {
		doc.Actions[id] = cloneAction(a)
	}
	for id, b := range g.bindings {
		cp := *b
		doc.Bindings[id] = &cp
	}
	return doc
}

// Serialize encodes the graph as canonical JSON: map keys are sorted, so two
// graphs with the same content produce identical bytes.
func (g *Graph) Serialize() ([]byte, error) {
	data, err := JSON.Marshal(g.ToDocument())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize graph: %w", err)
	}
	return data, nil
}

// LoadOptions controls Load.
type LoadOptions struct {
	// SkipSchema disables the JSON Schema check.
	SkipSchema bool
	Logger     *zap.Logger
}

// Load decodes a serialized graph, checks it against the document schema,
// rebuilds the ownership indexes and runs a full validation. A document with
// structural errors is rejected.
func Load(data []byte, opts LoadOptions) (*Graph, error) {
	const op = "narrative.Load"
	if !opts.SkipSchema {
		sch, err := documentSchema()
		if err != nil {
			return nil, fmt.Errorf("failed to compile graph schema: %w", err)
		}
		var raw interface{}
		dec := JSON.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil {
			return nil, schemas.NewInvalidInputError(op, "", "document is not valid JSON: %v", err)
		}
		if err := sch.Validate(raw); err != nil {
			return nil, schemas.NewInvalidInputError(op, "", "document does not match graph schema: %v", err)
		}
	}

	var doc GraphDocument
	if err := JSON.Unmarshal(data, &doc); err != nil {
		return nil, schemas.NewInvalidInputError(op, "", "failed to decode graph: %v", err)
	}
	return FromDocument(&doc, opts.Logger)
}

// FromDocument builds a graph from an already decoded document.
func FromDocument(doc *GraphDocument, logger *zap.Logger) (*Graph, error) {
	g := New(logger)
	g.startNodeID = doc.StartNodeID

	for id, n := range doc.Nodes {
		if n == nil || n.ID != id {
			return nil, schemas.NewInvalidInputError("narrative.FromDocument", id, "node key does not match its id")
		}
		cp := cloneNode(n)
		normalizeNode(cp)
		g.nodes[id] = cp
	}
	for id, e := range doc.Events {
		if e == nil || e.ID != id {
			return nil, schemas.NewInvalidInputError("narrative.FromDocument", id, "event key does not match its id")
		}
		cp := cloneEvent(e)
		normalizeEvent(cp)
		g.events[id] = cp
	}
	for id, a := range doc.Actions {
		if a == nil || a.ID != id {
			return nil, schemas.NewInvalidInputError("narrative.FromDocument", id, "action key does not match its id")
		}
		cp := cloneAction(a)
		if cp.Metadata == nil {
			cp.Metadata = schemas.Document{}
		}
		g.actions[id] = cp
	}
	for id, b := range doc.Bindings {
		if b == nil || b.ID != id {
			return nil, schemas.NewInvalidInputError("narrative.FromDocument", id, "binding key does not match its id")
		}
		cp := *b
		g.bindings[id] = &cp
	}
	g.reindex()

	if err := g.Validate().Err(); err != nil {
		return nil, err
	}
	return g, nil
}

// reindex rebuilds the reverse indexes from the records. Bindings are indexed
// in source-node order, then in each node's outgoing order.
func (g *Graph) reindex() {
	g.actionBindings = make(map[string][]string)
	g.incoming = make(map[string][]string)
	g.eventIncoming = make(map[string][]string)

	seen := make(map[string]struct{}, len(g.bindings))
	index := func(bID string) {
		if _, dup := seen[bID]; dup {
			return
		}
		b, ok := g.bindings[bID]
		if !ok {
			return
		}
		seen[bID] = struct{}{}
		g.actionBindings[b.ActionID] = append(g.actionBindings[b.ActionID], bID)
		g.indexTargets(b)
	}
	for _, nID := range sortedKeys(g.nodes) {
		for _, bID := range g.nodes[nID].OutgoingActions {
			index(bID)
		}
	}
	// Bindings not listed by any node are still indexed so Validate can
	// report them.
	for _, bID := range sortedKeys(g.bindings) {
		index(bID)
	}
}

// Clone returns a deep copy of the graph sharing nothing with the original.
func (g *Graph) Clone() *Graph {
	cp := New(nil)
	cp.log = g.log
	cp.startNodeID = g.startNodeID
	for id, n := range g.nodes {
		cp.nodes[id] = cloneNode(n)
	}
	for id, e := range g.events {
		cp.events[id] = cloneEvent(e)
	}
	for id, a := range g.actions {
		cp.actions[id] = cloneAction(a)
	}
	for id, b := range g.bindings {
		bb := *b
		cp.bindings[id] = &bb
	}
	for k, v := range g.actionBindings {
		cp.actionBindings[k] = append([]string(nil), v...)
	}
	for k, v := range g.incoming {
		cp.incoming[k] = append([]string(nil), v...)
	}
	for k, v := range g.eventIncoming {
		cp.eventIncoming[k] = append([]string(nil), v...)
	}
	return cp
}
