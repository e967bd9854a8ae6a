package entity

import (
	"cmp"
	"slices"

	"github.com/voicetyped/adaptive/pkg/schema"
)

var eventPreference = []string{EventAssignEntity, EventChooseProperty, EventChooseEntity}

// Comparer orders the assignment queue: silent assignments before property
// choices before entity choices, then unexpected before expected, then
// older recognitions first, then by the schema's operation order.
type Comparer struct {
	operations []string
}

// NewComparer creates a comparer using the given operation preference order.
func NewComparer(operations []string) Comparer {
	return Comparer{operations: operations}
}

// Compare returns a negative number when x sorts before y.
func (c Comparer) Compare(x, y *Assignment) int {
	if d := cmp.Compare(slices.Index(eventPreference, x.Event), slices.Index(eventPreference, y.Event)); d != 0 {
		return d
	}
	if x.IsExpected != y.IsExpected {
		if !x.IsExpected {
			return -1
		}
		return 1
	}
	if d := cmp.Compare(recognizedAt(x), recognizedAt(y)); d != 0 {
		return d
	}
	return cmp.Compare(slices.Index(c.operations, x.Operation), slices.Index(c.operations, y.Operation))
}

// Sort stable-sorts assignments in place.
func (c Comparer) Sort(list []*Assignment) {
	slices.SortStableFunc(list, c.Compare)
}

func recognizedAt(a *Assignment) int {
	if a.Value == nil {
		return 0
	}
	return a.Value.WhenRecognized
}

// Merge folds newer into queue one assignment at a time and re-sorts the
// queue. A scalar property keeps only its most recent valued assignment.
func Merge(newer, queue *Assignments, s *schema.DialogSchema, c Comparer) {
	list := queue.Assignments
	for _, a := range newer.Assignments {
		add := true
		kept := make([]*Assignment, 0, len(list)+1)
		for _, old := range list {
			keep := true
			if add {
				switch replaces(a, old, s) {
				case -1:
					keep = false
				case 1:
					add = false
				}
			}
			if keep {
				kept = append(kept, old)
			}
		}
		if add {
			kept = append(kept, a)
		}
		list = kept
	}
	c.Sort(list)
	queue.Assignments = list
}

// replaces returns -1 when a supersedes b, 1 when b supersedes a, 0 when
// they do not compete.
func replaces(a, b *Assignment, s *schema.DialogSchema) int {
	for _, aAlt := range a.All() {
		for _, bAlt := range b.All() {
			if aAlt.Property == "" || aAlt.Property != bAlt.Property || s.IsArray(aAlt.Property) {
				continue
			}
			if aAlt.Value == nil || bAlt.Value == nil || aAlt.Value.Value == nil || bAlt.Value.Value == nil {
				continue
			}
			switch {
			case aAlt.Value.WhenRecognized > bAlt.Value.WhenRecognized:
				return -1
			case aAlt.Value.WhenRecognized < bAlt.Value.WhenRecognized:
				return 1
			case aAlt.Value.Start < bAlt.Value.Start:
				return -1
			case aAlt.Value.Start > bAlt.Value.Start:
				return 1
			}
		}
	}
	return 0
}
