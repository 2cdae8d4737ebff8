package cli

import (
	"sort"

	"github.com/roach88/relhist/internal/row"
)

// valuesToGo converts column values to plain Go for JSON output.
func valuesToGo(vs row.Values) map[string]any {
	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = row.ToGo(v)
	}
	return out
}

// formatValues renders values as canonical JSON for text output.
func formatValues(m map[string]any) string {
	data, err := row.MarshalCanonical(m)
	if err != nil {
		return "<unprintable>"
	}
	return string(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
