package sentinel

import (
	"fmt"
	"strconv"
)

// Caps on the flattened archive view. The record echo is bounded, so these
// exist mostly to keep a malformed payload from ballooning a row.
const (
	flattenMaxDepth = 12
	flattenMaxKeys  = 2000
)

// FlattenPayload converts a decoded JSON value into a single-level map with
// dotted/indexed keys ("summary.streams.kernel", "activity.hogs[0].name").
// The archive keeps this view next to the nested echo so rows stay greppable
// with plain SQL.
func FlattenPayload(value any) map[string]any {
	out := make(map[string]any)
	flattenValue(out, "", value, 0)
	return out
}

func flattenValue(out map[string]any, prefix string, value any, depth int) {
	if len(out) >= flattenMaxKeys {
		return
	}
	if depth > flattenMaxDepth {
		if prefix != "" {
			out[prefix] = fmt.Sprintf("<max_depth:%d>", flattenMaxDepth)
		}
		return
	}

	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenValue(out, key, child, depth+1)
			if len(out) >= flattenMaxKeys {
				return
			}
		}
	case []any:
		for i, child := range v {
			idx := strconv.Itoa(i)
			key := idx
			if prefix != "" {
				key = prefix + "[" + idx + "]"
			}
			flattenValue(out, key, child, depth+1)
			if len(out) >= flattenMaxKeys {
				return
			}
		}
	default:
		if prefix == "" {
			out["value"] = v
			return
		}
		out[prefix] = v
	}
}
