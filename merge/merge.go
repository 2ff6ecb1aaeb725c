// Package merge implements the input-merging algebra used by the CLI input
// assembler: normalization of loosely-typed YAML values into lists of
// objects, pointwise deep merging, and the Cartesian cross-source merge.
package merge

import (
	"fmt"
	"strings"
)

// Normalize converts one raw input source into a list of objects, or nil for
// an absent source:
//
//	nil, []            -> nil
//	[s1, s2]           -> [{_id: s1}, {_id: s2}]   (scalars)
//	{}                 -> [{}]
//	{...}              -> [{...}]
//	[{...}, {...}]     -> unchanged
//
// Anything else is an error.
func Normalize(in any) ([]map[string]any, error) {
	switch v := in.(type) {
	case nil:
		return nil, nil

	case map[string]any:
		return []map[string]any{v}, nil

	case []any:
		if len(v) == 0 {
			return nil, nil
		}
		if maps, ok := allMaps(v); ok {
			return maps, nil
		}
		if hasComposite(v) {
			return nil, fmt.Errorf("merge: invalid input: mixed list %v", v)
		}
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			out = append(out, map[string]any{"_id": item})
		}
		return out, nil

	case []map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil

	default:
		return nil, fmt.Errorf("merge: invalid input: %v", in)
	}
}

func allMaps(items []any) ([]map[string]any, bool) {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

func hasComposite(items []any) bool {
	for _, item := range items {
		switch item.(type) {
		case map[string]any, []any:
			return true
		}
	}
	return false
}

// Deep merges two objects pointwise: at each key, map-into-map recurses and
// anything else is taken from the right side. Neither argument is modified
// and the result shares no maps with them.
func Deep(x, y map[string]any) map[string]any {
	if x == nil {
		return copyMap(y)
	}
	if y == nil {
		return copyMap(x)
	}

	res := copyMap(x)
	for key, yval := range y {
		xval, both := res[key]
		xmap, xok := xval.(map[string]any)
		ymap, yok := yval.(map[string]any)
		if both && xok && yok {
			res[key] = Deep(xmap, ymap)
		} else if yok {
			res[key] = copyMap(ymap)
		} else {
			res[key] = yval
		}
	}
	return res
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, val := range m {
		if sub, ok := val.(map[string]any); ok {
			out[key] = copyMap(sub)
		} else {
			out[key] = val
		}
	}
	return out
}

// cross is the Cartesian deep-merge of two normalized lists.
func cross(list1, list2 []map[string]any) []map[string]any {
	res := make([]map[string]any, 0, len(list1)*len(list2))
	for _, x := range list1 {
		for _, y := range list2 {
			res = append(res, Deep(x, y))
		}
	}
	return res
}

// Inputs normalizes every source, drops absent ones and folds the remainder
// with the Cartesian deep-merge. A nil result means no source produced any
// input. Source order is significant: later sources win on scalar leaves.
func Inputs(sources ...any) ([]map[string]any, error) {
	var lists [][]map[string]any
	for _, src := range sources {
		list, err := Normalize(src)
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			lists = append(lists, list)
		}
	}

	if len(lists) == 0 {
		return nil, nil
	}

	res := lists[0]
	for _, list := range lists[1:] {
		res = cross(res, list)
	}
	return res, nil
}

// ExpandPath wraps v in nested single-key objects along a slash-separated
// path: ExpandPath("a/b/c", x) is {a: {b: {c: x}}}. A nil v stays nil so an
// absent source does not materialize.
func ExpandPath(path string, v any) any {
	if v == nil {
		return nil
	}
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		v = map[string]any{parts[i]: v}
	}
	return v
}
