package narrative

import (
	"slices"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// NewID returns a fresh opaque entity identifier.
func NewID() string {
	return uuid.NewString()
}

// Graph owns every entity of one story. Records live in id-indexed arenas and
// ownership is tracked by reverse indexes, so a cascade is a bounded walk over
// maps with no back-pointers in the records themselves.
//
// Graph is not safe for concurrent use. Callers serialize access through the
// project lock.
type Graph struct {
	startNodeID string

	nodes    map[string]*schemas.Node
	events   map[string]*schemas.Event
	actions  map[string]*schemas.Action
	bindings map[string]*schemas.ActionBinding

	// actionBindings maps an action to every binding that references it.
	actionBindings map[string][]string
	// incoming maps a node to the bindings targeting it, in insertion order.
	incoming map[string][]string
	// eventIncoming maps an event to the bindings targeting it.
	eventIncoming map[string][]string

	log *zap.Logger
}

// DeletedSet lists every entity removed by a cascading delete.
type DeletedSet struct {
	Nodes    []string `json:"nodes,omitempty"`
	Events   []string `json:"events,omitempty"`
	Actions  []string `json:"actions,omitempty"`
	Bindings []string `json:"bindings,omitempty"`
}

// Empty reports whether nothing was deleted.
func (d DeletedSet) Empty() bool {
	return len(d.Nodes)+len(d.Events)+len(d.Actions)+len(d.Bindings) == 0
}

// New returns an empty graph.
func New(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodes:          make(map[string]*schemas.Node),
		events:         make(map[string]*schemas.Event),
		actions:        make(map[string]*schemas.Action),
		bindings:       make(map[string]*schemas.ActionBinding),
		actionBindings: make(map[string][]string),
		incoming:       make(map[string][]string),
		eventIncoming:  make(map[string][]string),
		log:            logger.Named("NarrativeGraph"),
	}
}

// -- GraphView --

func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) HasEvent(id string) bool {
	_, ok := g.events[id]
	return ok
}

func (g *Graph) LookupAction(id string) (*schemas.Action, bool) {
	a, ok := g.actions[id]
	return a, ok
}

// -- Accessors --

// StartNodeID returns the designated entry node, or "" for an empty story.
func (g *Graph) StartNodeID() string { return g.startNodeID }

// SetStartNode designates the entry node.
func (g *Graph) SetStartNode(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return schemas.NewNotFoundError("Graph.SetStartNode", id, "node")
	}
	g.startNodeID = id
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// BindingCount returns the number of bindings.
func (g *Graph) BindingCount() int { return len(g.bindings) }

// NodeIDs returns every node ID in lexical order.
func (g *Graph) NodeIDs() []string {
	return sortedKeys(g.nodes)
}

// Node returns a copy of the node with the given ID.
func (g *Graph) Node(id string) (*schemas.Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, schemas.NewNotFoundError("Graph.Node", id, "node")
	}
	return cloneNode(n), nil
}

// Event returns a copy of the event with the given ID.
func (g *Graph) Event(id string) (*schemas.Event, error) {
	e, ok := g.events[id]
	if !ok {
		return nil, schemas.NewNotFoundError("Graph.Event", id, "event")
	}
	return cloneEvent(e), nil
}

// Action returns a copy of the action with the given ID.
func (g *Graph) Action(id string) (*schemas.Action, error) {
	a, ok := g.actions[id]
	if !ok {
		return nil, schemas.NewActionNotFoundError("Graph.Action", id)
	}
	return cloneAction(a), nil
}

// Binding returns a copy of the binding with the given ID.
func (g *Graph) Binding(id string) (*schemas.ActionBinding, error) {
	b, ok := g.bindings[id]
	if !ok {
		return nil, schemas.NewNotFoundError("Graph.Binding", id, "binding")
	}
	cp := *b
	return &cp, nil
}

// NodeEvents returns the node's events in presentation order: by timestamp,
// ties broken by the order they were added.
func (g *Graph) NodeEvents(nodeID string) ([]*schemas.Event, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil, schemas.NewNotFoundError("Graph.NodeEvents", nodeID, "node")
	}
	out := make([]*schemas.Event, 0, len(n.Events))
	for _, id := range n.Events {
		out = append(out, cloneEvent(g.events[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// BindingsForAction returns copies of every binding that references the action.
func (g *Graph) BindingsForAction(actionID string) []*schemas.ActionBinding {
	ids := g.actionBindings[actionID]
	out := make([]*schemas.ActionBinding, 0, len(ids))
	for _, id := range ids {
		cp := *g.bindings[id]
		out = append(out, &cp)
	}
	return out
}

// OwnerNode returns the node an action belongs to: its event's node for
// event-scoped actions, otherwise the source of its first binding.
func (g *Graph) OwnerNode(actionID string) (string, bool) {
	a, ok := g.actions[actionID]
	if !ok {
		return "", false
	}
	if a.EventID != "" {
		if ev, ok := g.events[a.EventID]; ok {
			return ev.NodeID, true
		}
		return "", false
	}
	if ids := g.actionBindings[actionID]; len(ids) > 0 {
		return g.bindings[ids[0]].SourceNodeID, true
	}
	return "", false
}

// OutgoingBindings returns the bindings sourced at a node, in insertion order.
func (g *Graph) OutgoingBindings(nodeID string) ([]*schemas.ActionBinding, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil, schemas.NewNotFoundError("Graph.OutgoingBindings", nodeID, "node")
	}
	out := make([]*schemas.ActionBinding, 0, len(n.OutgoingActions))
	for _, id := range n.OutgoingActions {
		cp := *g.bindings[id]
		out = append(out, &cp)
	}
	return out, nil
}

// IncomingBindings returns the bindings whose target node is nodeID, ordered
// by source node ID and then by position in the source's outgoing list. The
// order depends only on graph content, so it survives serialization.
func (g *Graph) IncomingBindings(nodeID string) ([]*schemas.ActionBinding, error) {
	if _, ok := g.nodes[nodeID]; !ok {
		return nil, schemas.NewNotFoundError("Graph.IncomingBindings", nodeID, "node")
	}
	ids := g.incoming[nodeID]
	out := make([]*schemas.ActionBinding, 0, len(ids))
	for _, id := range ids {
		cp := *g.bindings[id]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceNodeID != b.SourceNodeID {
			return a.SourceNodeID < b.SourceNodeID
		}
		if pa, pb := g.outgoingPos(a), g.outgoingPos(b); pa != pb {
			return pa < pb
		}
		return a.ID < b.ID
	})
	return out, nil
}

// outgoingPos is b's index in its source node's outgoing list, or -1.
func (g *Graph) outgoingPos(b *schemas.ActionBinding) int {
	n, ok := g.nodes[b.SourceNodeID]
	if !ok {
		return -1
	}
	return slices.Index(n.OutgoingActions, b.ID)
}

// -- Nodes --

// AddNode inserts a node and returns its ID, assigning one when empty. Child
// lists must be empty; events and bindings are attached afterwards. The first
// node added to an empty graph becomes the start node.
func (g *Graph) AddNode(node *schemas.Node) (string, error) {
	const op = "Graph.AddNode"
	if node == nil {
		return "", schemas.NewInvalidInputError(op, "", "node is nil")
	}
	n := cloneNode(node)
	if n.ID == "" {
		n.ID = NewID()
	}
	if _, exists := g.nodes[n.ID]; exists {
		return "", schemas.NewDuplicateIDError(op, n.ID, "node")
	}
	if len(n.Events) > 0 || len(n.OutgoingActions) > 0 {
		return "", schemas.NewInvalidInputError(op, n.ID, "new nodes must not reference children")
	}
	if n.NodeType == "" {
		n.NodeType = schemas.NodeScene
	}
	normalizeNode(n)

	g.nodes[n.ID] = n
	if g.startNodeID == "" {
		g.startNodeID = n.ID
	}
	g.log.Debug("Node added.", zap.String("node_id", n.ID))
	return n.ID, nil
}

// UpdateNode replaces a node's scene, type and metadata. The child lists may
// be reordered but not changed.
func (g *Graph) UpdateNode(node *schemas.Node) error {
	const op = "Graph.UpdateNode"
	cur, ok := g.nodes[node.ID]
	if !ok {
		return schemas.NewNotFoundError(op, node.ID, "node")
	}
	if err := node.Validate(); err != nil {
		return err
	}
	if node.Events != nil && !samePermutation(cur.Events, node.Events) {
		return schemas.NewInvalidInputError(op, node.ID, "event list can only be reordered")
	}
	if node.OutgoingActions != nil && !samePermutation(cur.OutgoingActions, node.OutgoingActions) {
		return schemas.NewInvalidInputError(op, node.ID, "binding list can only be reordered")
	}

	next := cloneNode(node)
	if next.Events == nil {
		next.Events = cur.Events
	}
	if next.OutgoingActions == nil {
		next.OutgoingActions = cur.OutgoingActions
	}
	if next.NodeType == "" {
		next.NodeType = cur.NodeType
	}
	normalizeNode(next)
	g.nodes[node.ID] = next
	return nil
}

// DeleteNode removes a node and everything that depends on it: its events and
// their actions, the bindings it sources, and the bindings that target it or
// its events. Chapter-level actions left without a binding go with them.
func (g *Graph) DeleteNode(id string) (DeletedSet, error) {
	n, ok := g.nodes[id]
	if !ok {
		return DeletedSet{}, schemas.NewNotFoundError("Graph.DeleteNode", id, "node")
	}

	c := newCascade(g)
	for _, evID := range n.Events {
		c.event(evID)
	}
	for _, bID := range n.OutgoingActions {
		c.binding(bID)
	}
	for _, bID := range g.incoming[id] {
		c.binding(bID)
	}
	c.nodes[id] = struct{}{}

	set := c.apply()
	if g.startNodeID == id {
		g.startNodeID = ""
	}
	g.log.Debug("Node deleted.", zap.String("node_id", id),
		zap.Int("events", len(set.Events)), zap.Int("bindings", len(set.Bindings)))
	return set, nil
}

// -- Events --

// AddEvent attaches an event to its node and returns its ID.
func (g *Graph) AddEvent(event *schemas.Event) (string, error) {
	const op = "Graph.AddEvent"
	if event == nil {
		return "", schemas.NewInvalidInputError(op, "", "event is nil")
	}
	ev := cloneEvent(event)
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if _, exists := g.events[ev.ID]; exists {
		return "", schemas.NewDuplicateIDError(op, ev.ID, "event")
	}
	n, ok := g.nodes[ev.NodeID]
	if !ok {
		return "", schemas.NewValidationError(op, schemas.DanglingReference, ev.ID, "owning node %q does not exist", ev.NodeID)
	}
	if ev.EventType == "" {
		ev.EventType = schemas.EventNarration
		if ev.Speaker != "" {
			ev.EventType = schemas.EventDialogue
		}
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if len(ev.Actions) > 0 {
		return "", schemas.NewInvalidInputError(op, ev.ID, "new events must not reference actions")
	}
	normalizeEvent(ev)

	g.events[ev.ID] = ev
	n.Events = append(n.Events, ev.ID)
	return ev.ID, nil
}

// UpdateEvent replaces an event's speaker, content, description, timestamp,
// type and metadata.
func (g *Graph) UpdateEvent(event *schemas.Event) error {
	const op = "Graph.UpdateEvent"
	cur, ok := g.events[event.ID]
	if !ok {
		return schemas.NewNotFoundError(op, event.ID, "event")
	}
	if event.NodeID != "" && event.NodeID != cur.NodeID {
		return schemas.NewInvalidInputError(op, event.ID, "events cannot move between nodes")
	}
	next := cloneEvent(event)
	next.NodeID = cur.NodeID
	next.Actions = cur.Actions
	if err := next.Validate(); err != nil {
		return err
	}
	normalizeEvent(next)
	g.events[event.ID] = next
	return nil
}

// DeleteEvent removes an event, the actions it owns, and every binding that
// references those actions or targets the event.
func (g *Graph) DeleteEvent(id string) (DeletedSet, error) {
	if _, ok := g.events[id]; !ok {
		return DeletedSet{}, schemas.NewNotFoundError("Graph.DeleteEvent", id, "event")
	}
	c := newCascade(g)
	c.event(id)
	return c.apply(), nil
}

// -- Actions --

// AddAction inserts an action and returns its ID. Event-scoped actions are
// appended to their event; chapter-level actions become reachable once a
// binding references them.
func (g *Graph) AddAction(action *schemas.Action) (string, error) {
	const op = "Graph.AddAction"
	if action == nil {
		return "", schemas.NewInvalidInputError(op, "", "action is nil")
	}
	a := cloneAction(action)
	if a.ID == "" {
		a.ID = NewID()
	}
	if _, exists := g.actions[a.ID]; exists {
		return "", schemas.NewDuplicateIDError(op, a.ID, "action")
	}
	var owner *schemas.Event
	if a.EventID != "" {
		ev, ok := g.events[a.EventID]
		if !ok {
			return "", schemas.NewValidationError(op, schemas.DanglingReference, a.ID, "owning event %q does not exist", a.EventID)
		}
		owner = ev
	}
	if !a.Navigation().Valid() {
		return "", schemas.NewInvalidInputError(op, a.ID, "unknown navigation %q", a.Navigation())
	}
	if a.Metadata == nil {
		a.Metadata = schemas.Document{}
	}

	g.actions[a.ID] = a
	if owner != nil {
		owner.Actions = append(owner.Actions, a.ID)
	}
	return a.ID, nil
}

// UpdateAction replaces an action's description, key flag and metadata. The
// owning event cannot change, and a navigation change must stay consistent
// with the action's existing bindings.
func (g *Graph) UpdateAction(action *schemas.Action) error {
	const op = "Graph.UpdateAction"
	cur, ok := g.actions[action.ID]
	if !ok {
		return schemas.NewActionNotFoundError(op, action.ID)
	}
	if action.EventID != cur.EventID {
		return schemas.NewInvalidInputError(op, action.ID, "actions cannot move between events")
	}
	next := cloneAction(action)
	if next.Metadata == nil {
		next.Metadata = schemas.Document{}
	}
	nav := next.Navigation()
	if !nav.Valid() {
		return schemas.NewInvalidInputError(op, action.ID, "unknown navigation %q", nav)
	}
	if nav == schemas.NavigationStay {
		for _, bID := range g.actionBindings[action.ID] {
			if g.bindings[bID].HasTarget() {
				return schemas.NewValidationError(op, schemas.InvalidNavigationTarget, action.ID,
					"binding %q has a target, so the action cannot become stay", bID)
			}
		}
	}
	g.actions[action.ID] = next
	return nil
}

// DeleteAction removes an action and every binding that references it.
func (g *Graph) DeleteAction(id string) (DeletedSet, error) {
	if _, ok := g.actions[id]; !ok {
		return DeletedSet{}, schemas.NewActionNotFoundError("Graph.DeleteAction", id)
	}
	c := newCascade(g)
	c.action(id)
	return c.apply(), nil
}

// -- Bindings --

// AddBinding inserts a binding after checking its references, appends it to
// the source node's outgoing list, and returns its ID.
func (g *Graph) AddBinding(binding *schemas.ActionBinding) (string, error) {
	const op = "Graph.AddBinding"
	if binding == nil {
		return "", schemas.NewInvalidInputError(op, "", "binding is nil")
	}
	b := *binding
	if b.ID == "" {
		b.ID = NewID()
	}
	if _, exists := g.bindings[b.ID]; exists {
		return "", schemas.NewDuplicateIDError(op, b.ID, "binding")
	}
	if err := b.Validate(g); err != nil {
		return "", err
	}

	g.bindings[b.ID] = &b
	src := g.nodes[b.SourceNodeID]
	src.OutgoingActions = append(src.OutgoingActions, b.ID)
	g.actionBindings[b.ActionID] = append(g.actionBindings[b.ActionID], b.ID)
	g.indexTargets(&b)
	return b.ID, nil
}

// UpdateBinding retargets a binding. Its action and source are fixed.
func (g *Graph) UpdateBinding(binding *schemas.ActionBinding) error {
	const op = "Graph.UpdateBinding"
	cur, ok := g.bindings[binding.ID]
	if !ok {
		return schemas.NewNotFoundError(op, binding.ID, "binding")
	}
	if binding.ActionID != cur.ActionID || binding.SourceNodeID != cur.SourceNodeID {
		return schemas.NewInvalidInputError(op, binding.ID, "action and source of a binding cannot change")
	}
	if err := binding.Validate(g); err != nil {
		return err
	}
	g.unindexTargets(cur)
	next := *binding
	g.bindings[binding.ID] = &next
	g.indexTargets(&next)
	return nil
}

// DeleteBinding removes a binding. A chapter-level action left without any
// binding is removed as well.
func (g *Graph) DeleteBinding(id string) (DeletedSet, error) {
	if _, ok := g.bindings[id]; !ok {
		return DeletedSet{}, schemas.NewNotFoundError("Graph.DeleteBinding", id, "binding")
	}
	c := newCascade(g)
	c.binding(id)
	return c.apply(), nil
}

func (g *Graph) indexTargets(b *schemas.ActionBinding) {
	if b.TargetNodeID != "" {
		g.incoming[b.TargetNodeID] = append(g.incoming[b.TargetNodeID], b.ID)
	}
	if b.TargetEventID != "" {
		g.eventIncoming[b.TargetEventID] = append(g.eventIncoming[b.TargetEventID], b.ID)
	}
}

func (g *Graph) unindexTargets(b *schemas.ActionBinding) {
	if b.TargetNodeID != "" {
		g.incoming[b.TargetNodeID] = remove(g.incoming[b.TargetNodeID], b.ID)
		if len(g.incoming[b.TargetNodeID]) == 0 {
			delete(g.incoming, b.TargetNodeID)
		}
	}
	if b.TargetEventID != "" {
		g.eventIncoming[b.TargetEventID] = remove(g.eventIncoming[b.TargetEventID], b.ID)
		if len(g.eventIncoming[b.TargetEventID]) == 0 {
			delete(g.eventIncoming, b.TargetEventID)
		}
	}
}

// -- Helpers --

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}

func samePermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

func normalizeNode(n *schemas.Node) {
	if n.Events == nil {
		n.Events = []string{}
	}
	if n.OutgoingActions == nil {
		n.OutgoingActions = []string{}
	}
	if n.Metadata == nil {
		n.Metadata = schemas.Document{}
	}
}

func normalizeEvent(e *schemas.Event) {
	if e.Actions == nil {
		e.Actions = []string{}
	}
	if e.Metadata == nil {
		e.Metadata = schemas.Document{}
	}
}

func cloneNode(n *schemas.Node) *schemas.Node {
	cp := *n
	cp.Events = slices.Clone(n.Events)
	cp.OutgoingActions = slices.Clone(n.OutgoingActions)
	cp.Metadata = n.Metadata.Clone()
	return &cp
}

func cloneEvent(e *schemas.Event) *schemas.Event {
	cp := *e
	cp.Actions = slices.Clone(e.Actions)
	cp.Metadata = e.Metadata.Clone()
	return &cp
}

func cloneAction(a *schemas.Action) *schemas.Action {
	cp := *a
	cp.Metadata = a.Metadata.Clone()
	return &cp
}
