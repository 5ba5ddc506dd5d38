package statemachine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// Effect operators recognized inside a delta. An operator map holds exactly
// one of these keys.
const (
	opInc    = "$inc"
	opSet    = "$set"
	opUnset  = "$unset"
	opAppend = "$append"
)

// History entry types.
const (
	entryContinue = "continue_action"
	entryStay     = "stay_action"
)

// Delta extracts the world-state delta from an action's effects: the
// world_state_changes entry when present, otherwise the effects map without
// reserved keys.
func Delta(effects schemas.Document) any {
	if effects == nil {
		return schemas.Document{}
	}
	if d, ok := effects[schemas.EffectWorldStateDelta]; ok {
		return d
	}
	out := make(schemas.Document, len(effects))
	for k, v := range effects {
		if k == schemas.StateActionHistory {
			continue
		}
		out[k] = v
	}
	return out
}

// Merge applies an action's effects to a deep copy of state and appends the
// action to the state's action history. state is never modified.
func Merge(state schemas.WorldState, action *schemas.Action) schemas.WorldState {
	next := state.Clone()
	if next == nil {
		next = schemas.WorldState{}
	}
	delta := Delta(action.Effects())
	if d, ok := schemas.AsDocument(delta); ok {
		apply(next, d)
	}

	entry := schemas.Document{
		"type":    entryStay,
		"action":  action.Description,
		"effects": schemas.CloneValue(delta),
	}
	if action.Navigation() == schemas.NavigationContinue {
		entry["type"] = entryContinue
	}
	hist, _ := next[schemas.StateActionHistory].([]any)
	next[schemas.StateActionHistory] = append(hist, entry)
	return next
}

// apply merges delta into dst in key order.
func apply(dst schemas.Document, delta schemas.Document) {
	for _, k := range schemas.SortedKeys(delta) {
		v := delta[k]
		if op, arg, ok := operator(v); ok {
			applyOperator(dst, k, op, arg)
			continue
		}
		if k == schemas.StateTension {
			if _, ok := schemas.ToFloat(v); ok {
				dst[k] = add(dst[k], v)
				continue
			}
		}
		if sub, ok := schemas.AsDocument(v); ok {
			cur, isDoc := schemas.AsDocument(dst[k])
			merged := schemas.Document{}
			if isDoc {
				merged = cur.Clone()
			}
			apply(merged, sub)
			dst[k] = merged
			continue
		}
		dst[k] = schemas.CloneValue(v)
	}
}

func operator(v any) (op string, arg any, ok bool) {
	d, isDoc := schemas.AsDocument(v)
	if !isDoc || len(d) != 1 {
		return "", nil, false
	}
	for k, a := range d {
		switch k {
		case opInc, opSet, opUnset, opAppend:
			return k, a, true
		}
	}
	return "", nil, false
}

func applyOperator(dst schemas.Document, key, op string, arg any) {
	switch op {
	case opInc:
		if _, ok := schemas.ToFloat(arg); ok {
			dst[key] = add(dst[key], arg)
		} else {
			dst[key] = schemas.CloneValue(arg)
		}
	case opSet:
		dst[key] = schemas.CloneValue(arg)
	case opUnset:
		if b, _ := arg.(bool); b {
			delete(dst, key)
		}
	case opAppend:
		list, ok := dst[key].([]any)
		if !ok {
			list = nil
		}
		dst[key] = append(append([]any(nil), list...), schemas.CloneValue(arg))
	}
}

// add sums two numbers. A missing or non-numeric current value counts as 0.
// Integers stay integers.
func add(cur, delta any) any {
	ci, cInt := asInt(cur)
	di, dInt := asInt(delta)
	if _, numeric := schemas.ToFloat(cur); !numeric {
		ci, cInt = 0, true
	}
	if cInt && dInt {
		return int(ci + di)
	}
	cf, _ := schemas.ToFloat(cur)
	df, _ := schemas.ToFloat(delta)
	return cf + df
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// describeDelta renders a delta for fallback responses.
func describeDelta(delta any) string {
	switch d := delta.(type) {
	case nil:
		return ""
	case string:
		return d
	}
	doc, ok := schemas.AsDocument(delta)
	if !ok {
		return fmt.Sprint(delta)
	}
	parts := make([]string, 0, len(doc))
	for _, k := range schemas.SortedKeys(doc) {
		v := doc[k]
		if f, ok := schemas.ToFloat(v); ok && k == schemas.StateTension {
			parts = append(parts, k+" "+signed(f))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	return strings.Join(parts, ", ")
}

func signed(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if f >= 0 {
		return "+" + s
	}
	return s
}
