package openapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// QueryValue decodes one query parameter serialized in the form style
// without explode: objects are a CSV of alternating keys and values, arrays
// a plain CSV, scalars coerced to the parameter's type. An unknown type
// passes the raw value through.
func QueryValue(raw, typ string) (any, error) {
	switch typ {
	case "object":
		parts := strings.Split(raw, ",")
		obj := make(map[string]any, len(parts)/2)
		for i := 0; i+1 < len(parts); i += 2 {
			obj[parts[i]] = parts[i+1]
		}
		return obj, nil

	case "array":
		parts := strings.Split(raw, ",")
		values := make([]any, len(parts))
		for i, part := range parts {
			values[i] = part
		}
		return values, nil

	case "integer":
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, fmt.Errorf("openapi: invalid integer %q", raw)
		}
		return json.Number(cast.ToString(n)), nil

	case "number":
		if _, err := cast.ToFloat64E(raw); err != nil {
			return nil, fmt.Errorf("openapi: invalid number %q", raw)
		}
		return json.Number(raw), nil

	case "boolean":
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return nil, fmt.Errorf("openapi: invalid boolean %q", raw)
		}
		return b, nil

	default:
		return raw, nil
	}
}

// PathValue decodes one path parameter serialized in the simple style with
// explode: objects are k1=v1,k2=v2 pairs, arrays a CSV. The router has
// already percent-decoded the value.
func PathValue(raw, typ string) (any, error) {
	switch typ {
	case "object":
		obj := make(map[string]any)
		for _, pair := range strings.Split(raw, ",") {
			key, value, found := strings.Cut(pair, "=")
			if !found {
				return nil, fmt.Errorf("openapi: invalid object member %q", pair)
			}
			obj[key] = value
		}
		return obj, nil

	case "array":
		parts := strings.Split(raw, ",")
		values := make([]any, len(parts))
		for i, part := range parts {
			values[i] = part
		}
		return values, nil

	case "integer":
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, fmt.Errorf("openapi: invalid integer %q", raw)
		}
		return json.Number(cast.ToString(n)), nil

	case "number":
		if _, err := cast.ToFloat64E(raw); err != nil {
			return nil, fmt.Errorf("openapi: invalid number %q", raw)
		}
		return json.Number(raw), nil

	default:
		return raw, nil
	}
}

// FormEncode serializes an object into form-style query parts,
// key=serialized-value, sorted by key for stable URLs. The inverse of
// QueryValue for the remote client.
func FormEncode(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+formValue(obj[key]))
	}

	return parts
}

func formValue(value any) string {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys)*2)
		for _, key := range keys {
			pairs = append(pairs, key, cast.ToString(v[key]))
		}
		return strings.Join(pairs, ",")

	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = cast.ToString(item)
		}
		return strings.Join(parts, ",")

	default:
		return cast.ToString(value)
	}
}
