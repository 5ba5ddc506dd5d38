package narrative

import (
	"fmt"
	"slices"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// IssueCode names a class of finding produced by Validate.
type IssueCode string

const (
	IssueDanglingReference IssueCode = "dangling_reference"
	IssueDuplicateChild    IssueCode = "duplicate_child"
	IssueNavigationTarget  IssueCode = "invalid_navigation_target"
	IssueOwnership         IssueCode = "ownership_mismatch"
	IssueUnreachable       IssueCode = "unreachable_node"
	IssueDeadEnd           IssueCode = "dead_end"
	IssueNoStart           IssueCode = "no_start_node"
	IssueUnboundAction     IssueCode = "unbound_action"
)

// Issue is a single validation finding.
type Issue struct {
	Code     IssueCode `json:"code"`
	EntityID string    `json:"entity_id,omitempty"`
	Message  string    `json:"message"`
}

// Report is the outcome of a full consistency sweep. Errors are structural
// violations; warnings describe a legal but probably unintended shape.
type Report struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// OK reports whether the sweep found no errors.
func (r Report) OK() bool { return len(r.Errors) == 0 }

// Err converts the first error into an EngineError, or returns nil.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	first := r.Errors[0]
	kind := schemas.DanglingReference
	switch first.Code {
	case IssueDuplicateChild:
		kind = schemas.DuplicateChild
	case IssueNavigationTarget:
		kind = schemas.InvalidNavigationTarget
	}
	msg := first.Message
	if n := len(r.Errors); n > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, n-1)
	}
	return schemas.NewValidationError("Graph.Validate", kind, first.EntityID, "%s", msg)
}

func (r *Report) errorf(code IssueCode, id, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Code: code, EntityID: id, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(code IssueCode, id, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Code: code, EntityID: id, Message: fmt.Sprintf(format, args...)})
}

// Validate sweeps the whole graph. Entities are visited in ID order so the
// report is deterministic.
func (g *Graph) Validate() Report {
	r := Report{Errors: []Issue{}, Warnings: []Issue{}}

	if g.startNodeID != "" && !g.HasNode(g.startNodeID) {
		r.errorf(IssueDanglingReference, g.startNodeID, "start node does not exist")
	}
	if g.startNodeID == "" && len(g.nodes) > 0 {
		r.warnf(IssueNoStart, "", "graph has nodes but no start node")
	}

	for _, id := range sortedKeys(g.nodes) {
		n := g.nodes[id]
		if err := n.Validate(); err != nil {
			r.errorf(IssueDuplicateChild, id, "%v", err)
		}
		for _, evID := range n.Events {
			ev, ok := g.events[evID]
			switch {
			case !ok:
				r.errorf(IssueDanglingReference, id, "event %q does not exist", evID)
			case ev.NodeID != id:
				r.errorf(IssueOwnership, evID, "event is listed by node %q but owned by %q", id, ev.NodeID)
			}
		}
		for _, bID := range n.OutgoingActions {
			b, ok := g.bindings[bID]
			switch {
			case !ok:
				r.errorf(IssueDanglingReference, id, "binding %q does not exist", bID)
			case b.SourceNodeID != id:
				r.errorf(IssueOwnership, bID, "binding is listed by node %q but sourced at %q", id, b.SourceNodeID)
			}
		}
	}

	for _, id := range sortedKeys(g.events) {
		ev := g.events[id]
		n, ok := g.nodes[ev.NodeID]
		if !ok {
			r.errorf(IssueDanglingReference, id, "owning node %q does not exist", ev.NodeID)
		} else if !slices.Contains(n.Events, id) {
			r.errorf(IssueOwnership, id, "event is not listed by its node %q", ev.NodeID)
		}
		if err := ev.Validate(); err != nil {
			r.errorf(IssueDuplicateChild, id, "%v", err)
		}
		for _, aID := range ev.Actions {
			a, ok := g.actions[aID]
			switch {
			case !ok:
				r.errorf(IssueDanglingReference, id, "action %q does not exist", aID)
			case a.EventID != id:
				r.errorf(IssueOwnership, aID, "action is listed by event %q but owned by %q", id, a.EventID)
			}
		}
	}

	for _, id := range sortedKeys(g.actions) {
		a := g.actions[id]
		if a.EventID != "" {
			ev, ok := g.events[a.EventID]
			if !ok {
				r.errorf(IssueDanglingReference, id, "owning event %q does not exist", a.EventID)
			} else if !slices.Contains(ev.Actions, id) {
				r.errorf(IssueOwnership, id, "action is not listed by its event %q", a.EventID)
			}
		} else if len(g.actionBindings[id]) == 0 {
			r.warnf(IssueUnboundAction, id, "chapter action has no binding")
		}
	}

	for _, id := range sortedKeys(g.bindings) {
		b := g.bindings[id]
		if err := b.Validate(g); err != nil {
			code := IssueDanglingReference
			if ee, ok := err.(*schemas.EngineError); ok && ee.Validation == schemas.InvalidNavigationTarget {
				code = IssueNavigationTarget
			}
			r.errorf(code, id, "%s", messageOf(err))
			continue
		}
		if !slices.Contains(g.nodes[b.SourceNodeID].OutgoingActions, id) {
			r.errorf(IssueOwnership, id, "binding is not listed by its source node %q", b.SourceNodeID)
		}
	}

	if g.startNodeID != "" && g.HasNode(g.startNodeID) {
		depth := g.depths()
		for _, id := range sortedKeys(g.nodes) {
			if _, ok := depth[id]; !ok {
				r.warnf(IssueUnreachable, id, "node is not reachable from the start node")
			}
		}
	}
	for _, id := range sortedKeys(g.nodes) {
		n := g.nodes[id]
		if len(n.OutgoingActions) == 0 && !n.IsTerminal() {
			r.warnf(IssueDeadEnd, id, "node has no outgoing bindings and is not marked terminal")
		}
	}
	return r
}

// depths runs a breadth-first traversal from the start node over outgoing
// bindings and returns each reached node's distance. Event targets count as
// reaching the event's node. The visited map guards against cycles.
func (g *Graph) depths() map[string]int {
	depth := map[string]int{}
	if !g.HasNode(g.startNodeID) {
		return depth
	}
	depth[g.startNodeID] = 0
	queue := []string{g.startNodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, bID := range g.nodes[cur].OutgoingActions {
			next := g.bindingTargetNode(bID)
			if next == "" {
				continue
			}
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = depth[cur] + 1
			queue = append(queue, next)
		}
	}
	return depth
}

func (g *Graph) bindingTargetNode(bindingID string) string {
	b, ok := g.bindings[bindingID]
	if !ok {
		return ""
	}
	if b.TargetNodeID != "" {
		if g.HasNode(b.TargetNodeID) {
			return b.TargetNodeID
		}
		return ""
	}
	if b.TargetEventID != "" {
		if ev, ok := g.events[b.TargetEventID]; ok {
			return ev.NodeID
		}
	}
	return ""
}

// Reachable returns the IDs of every node reachable from the start node.
func (g *Graph) Reachable() []string {
	return sortedKeys(g.depths())
}

// OrphanNodes returns nodes with no incoming bindings, excluding the start
// node, in ID order.
func (g *Graph) OrphanNodes() []string {
	out := []string{}
	for _, id := range sortedKeys(g.nodes) {
		if id == g.startNodeID {
			continue
		}
		if len(g.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// TerminalNodes returns nodes with no outgoing bindings, in ID order.
func (g *Graph) TerminalNodes() []string {
	out := []string{}
	for _, id := range sortedKeys(g.nodes) {
		if len(g.nodes[id].OutgoingActions) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Stats summarizes the graph's size and shape.
type Stats struct {
	StartNodeID     string   `json:"start_node_id"`
	Nodes           int      `json:"nodes"`
	Events          int      `json:"events"`
	Actions         int      `json:"actions"`
	KeyActions      int      `json:"key_actions"`
	StayActions     int      `json:"stay_actions"`
	Bindings        int      `json:"bindings"`
	PendingBindings int      `json:"pending_bindings"`
	Orphans         []string `json:"orphans"`
	Terminals       []string `json:"terminals"`
	Unreachable     int      `json:"unreachable"`
	MaxDepth        int      `json:"max_depth"`
}

// Stats computes the overview of the whole graph.
func (g *Graph) Stats() Stats {
	s := Stats{
		StartNodeID: g.startNodeID,
		Nodes:       len(g.nodes),
		Events:      len(g.events),
		Actions:     len(g.actions),
		Bindings:    len(g.bindings),
		Orphans:     g.OrphanNodes(),
		Terminals:   g.TerminalNodes(),
	}
	for _, a := range g.actions {
		if a.IsKeyAction {
			s.KeyActions++
		}
		if a.Navigation() == schemas.NavigationStay {
			s.StayActions++
		}
	}
	for _, b := range g.bindings {
		if !b.HasTarget() && g.actions[b.ActionID].Navigation() == schemas.NavigationContinue {
			s.PendingBindings++
		}
	}
	depth := g.depths()
	for _, d := range depth {
		if d > s.MaxDepth {
			s.MaxDepth = d
		}
	}
	s.Unreachable = len(g.nodes) - len(depth)
	return s
}

func messageOf(err error) string {
	if ee, ok := err.(*schemas.EngineError); ok {
		return ee.Message
	}
	return err.Error()
}
