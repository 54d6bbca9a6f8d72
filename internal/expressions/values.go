package expressions

import "encoding/json"

// NormalizeNumbers returns a deep copy of v with json.Number leaves turned
// into int64 or float64, so every engine compares numbers numerically.
func NormalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = NormalizeNumbers(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = NormalizeNumbers(v)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}
