package entity

import (
	"maps"
	"slices"

	"github.com/voicetyped/adaptive/pkg/schema"
)

// CandidateInput is everything candidate generation looks at.
type CandidateInput struct {
	Entities    map[string][]*Info
	Expected    []string
	LastEvent   string
	Next        *Assignment
	AskDefaults map[string]string
	Schema      *schema.DialogSchema
}

// DefaultOperationFor looks up the default operation for an assignment's
// entity: the ask table first, then the dialog table, each by role, then
// name, then the "" wildcard.
func DefaultOperationFor(a *Assignment, ask, dialog map[string]string) string {
	if a.Value != nil {
		for _, table := range []map[string]string{ask, dialog} {
			if table == nil {
				continue
			}
			if a.Value.Role != "" {
				if op, ok := table[a.Value.Role]; ok {
					return op
				}
			}
			if op, ok := table[a.Value.Name]; ok {
				return op
			}
			if op, ok := table[""]; ok {
				return op
			}
		}
	}
	return schema.DefaultOperation
}

// sortedNames returns entity names in a stable order.
func sortedNames(entities map[string][]*Info) []string {
	return slices.Sorted(maps.Keys(entities))
}

// Candidates generates the possible entity-to-property assignments.
func Candidates(in CandidateInput) []*Assignment {
	s := in.Schema
	requiresValue := s.RequiresValue()
	names := sortedNames(in.Entities)
	var out []*Assignment

	// Entities whose property came from the recognizer structure.
	for _, name := range names {
		for _, e := range in.Entities[name] {
			if e.Property == "" {
				continue
			}
			if e.Value != nil || (e.Operation != "" && !slices.Contains(requiresValue, e.Operation)) {
				out = append(out, &Assignment{
					Value:      e,
					Property:   e.Property,
					Operation:  e.Operation,
					IsExpected: slices.Contains(in.Expected, e.Property),
				})
			}
		}
	}

	// Map free entities onto the properties that accept them.
	for _, prop := range s.Property.Children {
		isExpected := slices.Contains(in.Expected, prop.Name)
		expectedOnly := prop.ExpectedOnly
		if expectedOnly == nil {
			expectedOnly = s.ExpectedOnly()
		}
		for _, entityName := range prop.Entities {
			matches := in.Entities[entityName]
			if len(matches) == 0 || (!isExpected && slices.Contains(expectedOnly, entityName)) {
				continue
			}
			for _, e := range matches {
				if e.Property == "" {
					out = append(out, &Assignment{
						Value:      e,
						Property:   prop.Name,
						Operation:  e.Operation,
						IsExpected: isExpected,
					})
				}
			}
		}

		// The user named an expected property without giving a value.
		if isExpected {
			for _, name := range names {
				for _, e := range in.Entities[name] {
					if e.Property == prop.Name && e.Value == nil && e.Operation == "" {
						out = append(out, &Assignment{Value: e, Property: prop.Name, IsExpected: true})
					}
				}
			}
		}
	}

	dialogDefaults := s.DefaultOperationTable()
	for _, a := range out {
		if a.Operation != "" {
			continue
		}
		if in.LastEvent == EventChooseEntity && in.Next != nil &&
			in.Next.Event == EventChooseEntity && a.Property == in.Next.Property {
			a.Operation = EventChooseEntity
			a.IsExpected = true
			continue
		}
		a.Operation = DefaultOperationFor(a, in.AskDefaults, dialogDefaults)
	}

	// Answers to a pending "which property did you mean" question.
	if in.LastEvent == EventChooseProperty && in.Next != nil {
		choices := in.Next.All()
		for _, name := range names {
			for _, e := range in.Entities[name] {
				if e.Value != nil || e.Property == "" {
					continue
				}
				matched := 0
				for _, c := range choices {
					if c.Property == e.Property {
						matched++
					}
				}
				if matched == 1 {
					out = append(out, &Assignment{Value: e, Operation: EventChooseProperty, IsExpected: true})
				}
			}
		}
	}

	// Pure operations.
	for _, name := range names {
		for _, e := range in.Entities[name] {
			if e.Operation != "" && e.Property == "" && e.Value == nil {
				out = append(out, &Assignment{Value: e, Operation: e.Operation})
			}
		}
	}

	for _, a := range out {
		if a.Property == "" {
			a.ExpectedProperties = slices.Clone(in.Expected)
		}
	}
	return out
}

// RemoveOverlappingPerProperty keeps, per property, the preferred entity
// types and drops competitors that overlap a kept candidate without sharing
// its root. Property-less candidates and leftovers are kept as they are.
func RemoveOverlappingPerProperty(candidates []*Assignment, s *schema.DialogSchema) []*Assignment {
	var order []string
	groups := make(map[string][]*Assignment)
	for _, c := range candidates {
		if _, ok := groups[c.Property]; !ok {
			order = append(order, c.Property)
		}
		groups[c.Property] = append(groups[c.Property], c)
	}

	out := make([]*Assignment, 0, len(candidates))
	for _, property := range order {
		choices := groups[property]
		if property == "" {
			out = append(out, choices...)
			continue
		}
		for _, preferred := range s.EntityPreferences(property) {
			for {
				idx := slices.IndexFunc(choices, func(c *Assignment) bool { return c.Value.Name == preferred })
				if idx < 0 {
					break
				}
				picked := choices[idx]
				out = append(out, picked)
				choices = slices.DeleteFunc(slices.Clone(choices), func(c *Assignment) bool {
					return c == picked || (!c.Value.SharesRoot(picked.Value) && c.Value.Overlaps(picked.Value))
				})
			}
		}
		out = append(out, choices...)
	}
	return out
}
