package entity

import (
	"reflect"
	"slices"

	"github.com/voicetyped/adaptive/pkg/schema"
)

// AssignInput is the state AssignEntities works from. Queue is updated in
// place.
type AssignInput struct {
	Entities    map[string][]*Info
	Expected    []string
	LastEvent   string
	AskDefaults map[string]string
	Schema      *schema.DialogSchema
	Queue       *Assignments
}

// AssignResult reports what AssignEntities consumed.
type AssignResult struct {
	// Recognized holds the entities that took part in an assignment, by start.
	Recognized []*Info
	// Expected is the narrowed expected-property list after a property
	// choice was resolved, or nil when unchanged.
	Expected []string
}

// AssignEntities turns normalized entities into committed assignments and
// merges them into the queue.
func AssignEntities(in AssignInput) AssignResult {
	s := in.Schema
	next := in.Queue.Next()
	dialogDefaults := s.DefaultOperationTable()

	candidates := RemoveOverlappingPerProperty(Candidates(CandidateInput{
		Entities:    in.Entities,
		Expected:    in.Expected,
		LastEvent:   in.LastEvent,
		Next:        next,
		AskDefaults: in.AskDefaults,
		Schema:      s,
	}), s)

	isDefault := func(a *Assignment) bool {
		return a.Operation == DefaultOperationFor(a, in.AskDefaults, dialogDefaults)
	}
	slices.SortStableFunc(candidates, func(a, b *Assignment) int {
		if a.IsExpected != b.IsExpected {
			if a.IsExpected {
				return -1
			}
			return 1
		}
		if da, db := isDefault(a), isDefault(b); da != db {
			if da {
				return -1
			}
			return 1
		}
		return 0
	})

	var (
		used            []*Info
		seen            = make(map[*Info]bool)
		expectedChoices []string
		narrowed        bool
		choices         []*Assignment
		committed       = &Assignments{}
	)

	for len(candidates) > 0 {
		candidate := candidates[0]

		// Alternatives either reuse the same entity or come from another root.
		var alternatives, rest []*Assignment
		for _, alt := range candidates {
			if alt == candidate || (candidate.Value.Overlaps(alt.Value) &&
				(!candidate.Value.SharesRoot(alt.Value) || candidate.Value == alt.Value)) {
				alternatives = append(alternatives, alt)
			} else {
				rest = append(rest, alt)
			}
		}
		candidates = rest
		for _, alt := range alternatives {
			if !seen[alt.Value] {
				seen[alt.Value] = true
				used = append(used, alt.Value)
			}
		}

		if candidate.IsExpected && candidate.Value.Name != UtteranceName {
			alternatives = slices.DeleteFunc(alternatives, func(a *Assignment) bool {
				return !a.IsExpected && a.Value.Operation == ""
			})
		}

		winner := alternatives[0]
		for _, alt := range alternatives[1:] {
			if coverage(alt) > coverage(winner) {
				winner = alt
			}
		}
		alternatives = slices.DeleteFunc(alternatives, func(a *Assignment) bool {
			return winner.Value.Covers(a.Value)
		})

		mapped := false
		switch winner.Operation {
		case EventChooseEntity:
			if original := in.Queue.Dequeue(); original != nil {
				winner.Operation = original.Operation
				if values, ok := winner.Value.Value.([]any); ok && len(values) > 1 {
					if offered, ok := original.Value.Value.([]any); ok {
						if common := intersect(values, offered); len(common) > 0 {
							winner.Value.Value = common
						}
					}
				}
			}
		case EventChooseProperty:
			if next != nil {
				choices = next.All()
				idx := slices.IndexFunc(choices, func(c *Assignment) bool {
					return c.Property == winner.Value.Property
				})
				if idx >= 0 {
					choice := choices[idx]
					narrowed = true
					expectedChoices = []string{}
					choice.IsExpected = true
					choice.Alternatives = nil
					if choice.Property != "" {
						expectedChoices = append(expectedChoices, choice.Property)
					} else {
						expectedChoices = append(expectedChoices, choice.ExpectedProperties...)
					}
					Add(choice, committed)
					choices = slices.DeleteFunc(choices, func(c *Assignment) bool {
						return c == choice || c.Value.Overlaps(choice.Value)
					})
					mapped = true
				}
			}
		}

		winner.SetAlternatives(alternatives)
		if !mapped {
			Add(winner, committed)
		}
	}

	var result AssignResult
	if narrowed {
		for len(choices) > 0 {
			choice := choices[0]
			var overlapping []*Assignment
			for _, c := range choices {
				if c != choice && choice.Value.Overlaps(c.Value) {
					overlapping = append(overlapping, c)
				}
			}
			choice.SetAlternatives(overlapping)
			Add(choice, committed)
			choices = slices.DeleteFunc(choices, func(c *Assignment) bool {
				return c == choice || choice.Value.Overlaps(c.Value)
			})
		}
		in.Queue.Dequeue()
		if len(expectedChoices) > 0 {
			result.Expected = expectedChoices
		}
	}

	Merge(committed, in.Queue, s, NewComparer(s.Operations()))

	slices.SortStableFunc(used, func(a, b *Info) int { return a.Start - b.Start })
	result.Recognized = used
	return result
}

// coverage ranks alternatives by span length; the whole-utterance entity
// always loses to anything more specific.
func coverage(a *Assignment) int {
	if a.Value.Name == UtteranceName {
		return 0
	}
	return a.Value.Len()
}

func intersect(values, offered []any) []any {
	var out []any
	for _, v := range values {
		for _, o := range offered {
			if reflect.DeepEqual(v, o) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}
