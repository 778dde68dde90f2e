package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

// Bundle is the nested declaration record fields resolve against, e.g.
// {"declaration": {...}, "shipment": {...}, "items": [...]}.
type Bundle map[string]interface{}

// Lookup walks a dot-separated path through nested maps. Numeric segments
// index into lists, so "items.0.cpc" addresses the first line item.
func (b Bundle) Lookup(path string) (interface{}, bool) {
	if path == "" || b == nil {
		return nil, false
	}
	var current interface{} = map[string]interface{}(b)
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case Bundle:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Items returns the declaration line items found under "items"
func (b Bundle) Items() []map[string]interface{} {
	raw, ok := b["items"].([]interface{})
	if !ok {
		return nil
	}
	items := make([]map[string]interface{}, 0, len(raw))
	for _, it := range raw {
		if m, ok := it.(map[string]interface{}); ok {
			items = append(items, m)
		}
	}
	return items
}

// ForLine derives the bundle a repeatable field resolves against: "item"
// is bound to the line's record and "line" to its 1-based index.
func (b Bundle) ForLine(line int, item map[string]interface{}) Bundle {
	out := make(Bundle, len(b)+2)
	for k, v := range b {
		out[k] = v
	}
	out["item"] = item
	out["line"] = line
	return out
}

// With returns a copy of the bundle with key set to value
func (b Bundle) With(key string, value interface{}) Bundle {
	out := make(Bundle, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[key] = value
	return out
}

// scalarString renders a scalar as the text typed into a form. Maps and
// lists are not scalars.
func scalarString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}
