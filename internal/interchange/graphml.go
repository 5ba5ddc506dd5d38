package interchange

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/plotweave/internal/narrative"
)

const graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"

type graphMLKey struct {
	id, target, typ string
}

var graphMLKeys = []graphMLKey{
	{"scene", "node", "string"},
	{"node_type", "node", "string"},
	{"start", "node", "boolean"},
	{"event_count", "node", "int"},
	{"action", "edge", "string"},
	{"action_id", "edge", "string"},
	{"key_action", "edge", "boolean"},
	{"navigation", "edge", "string"},
	{"target_event", "edge", "string"},
}

// encodeGraphML renders the story nodes as GraphML nodes and every targeted
// binding as a directed edge. Event-targeted bindings point at the event's
// node and carry the event ID. Untargeted bindings have no edge.
func encodeGraphML(id, name string, g *narrative.Graph) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("graphml")
	root.CreateAttr("xmlns", graphMLNamespace)

	for _, k := range graphMLKeys {
		key := root.CreateElement("key")
		key.CreateAttr("id", k.id)
		key.CreateAttr("for", k.target)
		key.CreateAttr("attr.name", k.id)
		key.CreateAttr("attr.type", k.typ)
	}

	graph := root.CreateElement("graph")
	graph.CreateAttr("id", id)
	graph.CreateAttr("edgedefault", "directed")
	graph.CreateElement("desc").SetText(name)

	start := g.StartNodeID()
	ids := g.NodeIDs()
	for _, nID := range ids {
		n, err := g.Node(nID)
		if err != nil {
			return nil, err
		}
		el := graph.CreateElement("node")
		el.CreateAttr("id", nID)
		data(el, "scene", n.Scene)
		data(el, "node_type", string(n.NodeType))
		data(el, "start", strconv.FormatBool(nID == start))
		data(el, "event_count", strconv.Itoa(len(n.Events)))
	}

	for _, nID := range ids {
		bindings, err := g.OutgoingBindings(nID)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			target := b.TargetNodeID
			if b.TargetEventID != "" {
				ev, err := g.Event(b.TargetEventID)
				if err != nil {
					return nil, err
				}
				target = ev.NodeID
			}
			if target == "" {
				continue
			}
			a, err := g.Action(b.ActionID)
			if err != nil {
				return nil, err
			}
			edge := graph.CreateElement("edge")
			edge.CreateAttr("id", b.ID)
			edge.CreateAttr("source", b.SourceNodeID)
			edge.CreateAttr("target", target)
			data(edge, "action", a.Description)
			data(edge, "action_id", a.ID)
			data(edge, "key_action", strconv.FormatBool(a.IsKeyAction))
			data(edge, "navigation", string(a.Navigation()))
			if b.TargetEventID != "" {
				data(edge, "target_event", b.TargetEventID)
			}
		}
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode graphml: %w", err)
	}
	return out, nil
}

func data(el *etree.Element, key, value string) {
	d := el.CreateElement("data")
	d.CreateAttr("key", key)
	d.SetText(value)
}
