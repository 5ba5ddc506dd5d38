package statediff

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Ignored replaces the value of every ignored key before comparison.
const Ignored = "__IGNORED__"

// normalize returns a copy of data with ignored keys masked, at any depth.
func normalize(data any, ignore map[string]struct{}) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if _, skip := ignore[key]; skip {
				out[key] = Ignored
				continue
			}
			out[key] = normalize(val, ignore)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = normalize(val, ignore)
		}
		return out
	default:
		return data
	}
}

func buildCmpOptions(opts Options) cmp.Options {
	var cmpOpts cmp.Options
	if opts.EquateEmpty {
		cmpOpts = append(cmpOpts, equateEmpty())
	}
	if opts.IgnoreListOrder {
		cmpOpts = append(cmpOpts, cmpopts.SortSlices(sliceLess))
	}
	return cmpOpts
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Len() == 0
	}
	return false
}

// equateEmpty treats null, {} and [] as equal to each other, except that an
// empty object never equals an empty list. cmpopts.EquateEmpty does not
// handle a nil interface.
func equateEmpty() cmp.Option {
	return cmp.FilterValues(
		func(x, y any) bool { return isEmpty(x) && isEmpty(y) },
		cmp.Comparer(func(x, y any) bool {
			if x == nil || y == nil {
				return true
			}
			return reflect.ValueOf(x).Kind() == reflect.ValueOf(y).Kind()
		}),
	)
}

// sliceLess orders arbitrary decoded JSON values deterministically.
func sliceLess(x, y any) bool {
	nx, okX := x.(json.Number)
	ny, okY := y.(json.Number)
	if okX && okY {
		fx, errX := nx.Float64()
		fy, errY := ny.Float64()
		if errX == nil && errY == nil {
			return fx < fy
		}
		return nx.String() < ny.String()
	}

	vx, vy := reflect.ValueOf(x), reflect.ValueOf(y)
	if !vx.IsValid() {
		return vy.IsValid()
	}
	if !vy.IsValid() {
		return false
	}
	if vx.Type() != vy.Type() {
		return vx.Type().String() < vy.Type().String()
	}
	switch vx.Kind() {
	case reflect.String:
		return vx.String() < vy.String()
	case reflect.Float64:
		return vx.Float() < vy.Float()
	case reflect.Bool:
		return !vx.Bool() && vy.Bool()
	default:
		return fmt.Sprint(x) < fmt.Sprint(y)
	}
}
