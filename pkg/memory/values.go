package memory

import (
	"encoding/json"
	"math"
)

// String returns the string at path, or def when absent or not a string.
func (s *State) String(path, def string) string {
	if v, ok := s.Get(path).(string); ok {
		return v
	}
	return def
}

// Bool returns the bool at path, or def when absent or not a bool.
func (s *State) Bool(path string, def bool) bool {
	if v, ok := s.Get(path).(bool); ok {
		return v
	}
	return def
}

// Int returns the integer at path. Integral floats (as produced by JSON
// decoding) are accepted; anything else yields def.
func (s *State) Int(path string, def int) int {
	if n, ok := ToInt(s.Get(path)); ok {
		return n
	}
	return def
}

// Strings returns the string list at path, or nil when absent or mistyped.
func (s *State) Strings(path string) []string {
	return ToStrings(s.Get(path))
}

// Map returns the object at path, or nil when absent or mistyped.
func (s *State) Map(path string) map[string]any {
	if m, ok := s.Get(path).(map[string]any); ok {
		return m
	}
	return nil
}

// ToInt converts numeric values to int.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// ToStrings converts []string or a []any of strings. A list holding any
// non-string element is treated as absent.
func ToStrings(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			str, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, str)
		}
		return out
	}
	return nil
}

// As converts v to T. Values already of type T are returned as is; generic
// JSON shapes (maps and lists left behind by persistence) are re-decoded.
func As[T any](v any) (T, bool) {
	var zero T
	if v == nil {
		return zero, false
	}
	if t, ok := v.(T); ok {
		return t, true
	}
	switch v.(type) {
	case map[string]any, []any:
	default:
		return zero, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false
	}
	return out, true
}
