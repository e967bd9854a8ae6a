// Package recognizer defines the language-understanding collaborators the
// dialog engine consumes, plus a few reference implementations.
package recognizer

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
)

// NoneIntent is reported when nothing else was recognized.
const NoneIntent = "None"

// Request is one utterance to recognize.
type Request struct {
	Text   string `json:"text"`
	Locale string `json:"locale,omitempty"`
	// Value carries structured input such as a card submission.
	Value any `json:"value,omitempty"`
}

// IntentScore is the confidence of one intent.
type IntentScore struct {
	Score float64 `json:"score"`
}

// Result is the normalized output of a recognizer. Entities is a nested
// object of entity name to values with an "$instance" companion holding
// span metadata per occurrence.
type Result struct {
	Text        string                 `json:"text"`
	AlteredText string                 `json:"alteredText,omitempty"`
	Intents     map[string]IntentScore `json:"intents"`
	Entities    json.RawMessage        `json:"entities,omitempty"`
}

// TopIntent returns the highest scoring intent. Ties go to the name that
// sorts first. An empty result reports NoneIntent with score 0.
func (r *Result) TopIntent() (string, float64) {
	if r == nil || len(r.Intents) == 0 {
		return NoneIntent, 0
	}
	names := make([]string, 0, len(r.Intents))
	for name := range r.Intents {
		names = append(names, name)
	}
	slices.Sort(names)

	top, score := names[0], r.Intents[names[0]].Score
	for _, name := range names[1:] {
		if s := r.Intents[name].Score; s > score {
			top, score = name, s
		}
	}
	return top, score
}

// EntitiesMap decodes Entities into a generic map. Malformed or empty
// entities yield an empty map.
func (r *Result) EntitiesMap() map[string]any {
	out := map[string]any{}
	if r == nil || len(r.Entities) == 0 {
		return out
	}
	if err := json.Unmarshal(r.Entities, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// Recognizer turns an utterance into intents and entities.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Recognizer interface.
type Func func(ctx context.Context, req Request) (*Result, error)

// Recognize calls f.
func (f Func) Recognize(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// None returns a result with only the None intent at full confidence.
func None(text string) *Result {
	return &Result{Text: text, Intents: map[string]IntentScore{NoneIntent: {Score: 1}}}
}

// FromCardValue turns a card submission into a result. A map value with a
// string "intent" key reports that intent at full confidence; its other
// keys become entities without span metadata. Anything else returns nil.
func FromCardValue(text string, value any) *Result {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	intent, ok := m["intent"].(string)
	if !ok || strings.TrimSpace(intent) == "" {
		return nil
	}

	entities := make(map[string]any, len(m))
	for k, v := range m {
		if k == "intent" {
			continue
		}
		entities[k] = []any{v}
	}
	raw, err := json.Marshal(entities)
	if err != nil {
		raw = nil
	}
	return &Result{
		Text:     text,
		Intents:  map[string]IntentScore{intent: {Score: 1}},
		Entities: raw,
	}
}
