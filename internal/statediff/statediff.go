// Package statediff compares two encoded project states, typically a
// snapshot's pre-image and the live project, and reports which entities
// were added, removed or changed.
package statediff

import (
	"bytes"
	"sort"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
)

// Options tune the comparison.
type Options struct {
	// EquateEmpty makes null, {} and [] compare equal.
	EquateEmpty bool
	// IgnoreListOrder compares lists as multisets. Event and action lists
	// are ordered, so this is off by default.
	IgnoreListOrder bool
	// IgnoreKeys masks these object keys wherever they appear, e.g.
	// "action_history" to skip the world-state log.
	IgnoreKeys []string
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{EquateEmpty: true}
}

// Changes lists entity IDs by what happened to them, each sorted.
type Changes struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added)+len(c.Removed)+len(c.Changed) == 0
}

// Result is the outcome of a comparison.
type Result struct {
	Equal              bool    `json:"equal"`
	Nodes              Changes `json:"nodes"`
	Events             Changes `json:"events"`
	Actions            Changes `json:"actions"`
	Bindings           Changes `json:"bindings"`
	StartNodeChanged   bool    `json:"start_node_changed"`
	WorldStateChanged  bool    `json:"world_state_changed"`
	CurrentNodeChanged bool    `json:"current_node_changed"`
	// Diff is the go-cmp report, "-" lines from before and "+" from after.
	Diff string `json:"diff,omitempty"`
}

// Differ compares state documents.
type Differ struct {
	opts    Options
	ignore  map[string]struct{}
	cmpOpts cmp.Options
	log     *zap.Logger
}

// New returns a Differ.
func New(opts Options, logger *zap.Logger) *Differ {
	if logger == nil {
		logger = zap.NewNop()
	}
	ignore := make(map[string]struct{}, len(opts.IgnoreKeys))
	for _, k := range opts.IgnoreKeys {
		ignore[k] = struct{}{}
	}
	return &Differ{opts: opts, ignore: ignore, cmpOpts: buildCmpOptions(opts), log: logger.Named("StateDiff")}
}

// Compare diffs two state documents as produced by project encoding.
func (d *Differ) Compare(before, after []byte) (*Result, error) {
	if bytes.Equal(before, after) {
		return &Result{Equal: true}, nil
	}
	a, err := d.parse("before", before)
	if err != nil {
		return nil, err
	}
	b, err := d.parse("after", after)
	if err != nil {
		return nil, err
	}

	ga, gb := object(a["graph"]), object(b["graph"])
	res := &Result{
		Nodes:              d.collection(ga["nodes"], gb["nodes"]),
		Events:             d.collection(ga["events"], gb["events"]),
		Actions:            d.collection(ga["actions"], gb["actions"]),
		Bindings:           d.collection(ga["bindings"], gb["bindings"]),
		StartNodeChanged:   !cmp.Equal(ga["start_node_id"], gb["start_node_id"], d.cmpOpts...),
		WorldStateChanged:  !cmp.Equal(a["world_state"], b["world_state"], d.cmpOpts...),
		CurrentNodeChanged: !cmp.Equal(a["current_node_id"], b["current_node_id"], d.cmpOpts...),
		Diff:               cmp.Diff(a, b, d.cmpOpts...),
	}
	res.Equal = res.Diff == ""
	d.log.Debug("Compared states.",
		zap.Bool("equal", res.Equal),
		zap.Int("nodes_changed", len(res.Nodes.Added)+len(res.Nodes.Removed)+len(res.Nodes.Changed)))
	return res, nil
}

func (d *Differ) parse(side string, data []byte) (map[string]any, error) {
	var raw any
	if err := narrative.JSON.Unmarshal(data, &raw); err != nil {
		return nil, schemas.NewInvalidInputError("statediff.Compare", side, "state is not valid JSON: %v", err)
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, schemas.NewInvalidInputError("statediff.Compare", side, "state must be a JSON object")
	}
	return normalize(doc, d.ignore).(map[string]any), nil
}

func (d *Differ) collection(before, after any) Changes {
	a, b := object(before), object(after)
	var c Changes
	for id, va := range a {
		vb, ok := b[id]
		switch {
		case !ok:
			c.Removed = append(c.Removed, id)
		case !cmp.Equal(va, vb, d.cmpOpts...):
			c.Changed = append(c.Changed, id)
		}
	}
	for id := range b {
		if _, ok := a[id]; !ok {
			c.Added = append(c.Added, id)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Changed)
	return c
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
