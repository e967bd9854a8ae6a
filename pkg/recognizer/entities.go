package recognizer

import "encoding/json"

// Instance is the span metadata recorded for one entity occurrence.
type Instance struct {
	StartIndex int     `json:"startIndex"`
	EndIndex   int     `json:"endIndex"`
	Text       string  `json:"text"`
	Type       string  `json:"type,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Role       string  `json:"role,omitempty"`
}

// EntitySet collects entity occurrences and marshals them in the shape
// entity normalization expects.
type EntitySet struct {
	values    map[string][]any
	instances map[string][]Instance
}

// NewEntitySet returns an empty set.
func NewEntitySet() *EntitySet {
	return &EntitySet{
		values:    make(map[string][]any),
		instances: make(map[string][]Instance),
	}
}

// Add records one occurrence of name.
func (s *EntitySet) Add(name string, value any, inst Instance) {
	s.values[name] = append(s.values[name], value)
	s.instances[name] = append(s.instances[name], inst)
}

// Len returns the number of distinct entity names.
func (s *EntitySet) Len() int { return len(s.values) }

// MarshalJSON implements json.Marshaler.
func (s *EntitySet) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.values)+1)
	for name, vals := range s.values {
		out[name] = vals
	}
	if len(s.instances) > 0 {
		out["$instance"] = s.instances
	}
	return json.Marshal(out)
}
