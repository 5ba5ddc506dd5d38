package narrative

import (
	"sort"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

type idSet map[string]struct{}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// cascade collects the closure of a delete before anything is removed, so a
// delete either applies completely or not at all.
type cascade struct {
	g        *Graph
	nodes    idSet
	events   idSet
	actions  idSet
	bindings idSet
}

func newCascade(g *Graph) *cascade {
	return &cascade{g: g, nodes: idSet{}, events: idSet{}, actions: idSet{}, bindings: idSet{}}
}

func (c *cascade) event(id string) {
	if c.events.has(id) {
		return
	}
	ev, ok := c.g.events[id]
	if !ok {
		return
	}
	c.events[id] = struct{}{}
	for _, aID := range ev.Actions {
		c.action(aID)
	}
	for _, bID := range c.g.eventIncoming[id] {
		c.binding(bID)
	}
}

func (c *cascade) action(id string) {
	if c.actions.has(id) {
		return
	}
	if _, ok := c.g.actions[id]; !ok {
		return
	}
	c.actions[id] = struct{}{}
	for _, bID := range c.g.actionBindings[id] {
		c.binding(bID)
	}
}

func (c *cascade) binding(id string) {
	if c.bindings.has(id) {
		return
	}
	if _, ok := c.g.bindings[id]; !ok {
		return
	}
	c.bindings[id] = struct{}{}
}

// collectUnbound adds chapter-level actions whose every binding is being
// removed. Such actions would be unreachable afterwards.
func (c *cascade) collectUnbound() {
	for bID := range c.bindings {
		aID := c.g.bindings[bID].ActionID
		if c.actions.has(aID) {
			continue
		}
		a, ok := c.g.actions[aID]
		if !ok || a.EventID != "" {
			continue
		}
		orphaned := true
		for _, other := range c.g.actionBindings[aID] {
			if !c.bindings.has(other) {
				orphaned = false
				break
			}
		}
		if orphaned {
			c.actions[aID] = struct{}{}
		}
	}
}

// apply removes the collected entities and repairs the indexes of everything
// that survives.
func (c *cascade) apply() DeletedSet {
	g := c.g
	c.collectUnbound()

	for bID := range c.bindings {
		b := g.bindings[bID]
		if src, ok := g.nodes[b.SourceNodeID]; ok && !c.nodes.has(b.SourceNodeID) {
			src.OutgoingActions = remove(src.OutgoingActions, bID)
		}
		g.unindexTargets(b)
		g.actionBindings[b.ActionID] = remove(g.actionBindings[b.ActionID], bID)
		if len(g.actionBindings[b.ActionID]) == 0 {
			delete(g.actionBindings, b.ActionID)
		}
		delete(g.bindings, bID)
	}

	for aID := range c.actions {
		a := g.actions[aID]
		if a.EventID != "" && !c.events.has(a.EventID) {
			if ev, ok := g.events[a.EventID]; ok {
				ev.Actions = remove(ev.Actions, aID)
			}
		}
		delete(g.actionBindings, aID)
		delete(g.actions, aID)
	}

	for eID := range c.events {
		ev := g.events[eID]
		if !c.nodes.has(ev.NodeID) {
			if n, ok := g.nodes[ev.NodeID]; ok {
				n.Events = remove(n.Events, eID)
			}
		}
		delete(g.eventIncoming, eID)
		delete(g.events, eID)
	}

	for nID := range c.nodes {
		delete(g.incoming, nID)
		delete(g.nodes, nID)
	}

	return DeletedSet{
		Nodes:    c.nodes.sorted(),
		Events:   c.events.sorted(),
		Actions:  c.actions.sorted(),
		Bindings: c.bindings.sorted(),
	}
}

// ensure the arena view satisfies the validation contract.
var _ schemas.GraphView = (*Graph)(nil)
