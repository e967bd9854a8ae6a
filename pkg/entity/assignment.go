package entity

// Assignment is a candidate or committed binding of an entity to a property.
//
// Alternatives holds the competing interpretations of the same span as a
// flat list owned by this assignment. Members never carry their own
// alternatives, so the structure cannot form a cycle.
type Assignment struct {
	Event              string        `json:"event,omitempty"`
	Property           string        `json:"property,omitempty"`
	Operation          string        `json:"operation,omitempty"`
	Value              *Info         `json:"value"`
	IsExpected         bool          `json:"isExpected"`
	RaisedCount        int           `json:"raisedCount"`
	ExpectedProperties []string      `json:"expectedProperties,omitempty"`
	Alternatives       []*Assignment `json:"alternatives,omitempty"`
}

// All returns the assignment followed by its alternatives.
func (a *Assignment) All() []*Assignment {
	out := make([]*Assignment, 0, len(a.Alternatives)+1)
	out = append(out, a)
	return append(out, a.Alternatives...)
}

// HasAlternatives reports whether competing interpretations exist.
func (a *Assignment) HasAlternatives() bool {
	return len(a.Alternatives) > 0
}

// SetAlternatives replaces the alternatives, skipping a itself and duplicates.
func (a *Assignment) SetAlternatives(alts []*Assignment) {
	a.Alternatives = nil
	seen := make(map[*Assignment]bool, len(alts))
	for _, alt := range alts {
		if alt == a || seen[alt] {
			continue
		}
		seen[alt] = true
		alt.Alternatives = nil
		a.Alternatives = append(a.Alternatives, alt)
	}
}

// Assignments is the ordered queue of pending assignments.
type Assignments struct {
	Assignments []*Assignment `json:"assignments"`
}

// Len returns the queue length.
func (q *Assignments) Len() int {
	if q == nil {
		return 0
	}
	return len(q.Assignments)
}

// Next returns the head of the queue or nil.
func (q *Assignments) Next() *Assignment {
	if q.Len() == 0 {
		return nil
	}
	return q.Assignments[0]
}

// Dequeue removes and returns the head of the queue.
func (q *Assignments) Dequeue() *Assignment {
	if q.Len() == 0 {
		return nil
	}
	head := q.Assignments[0]
	q.Assignments = q.Assignments[1:]
	return head
}

// Add commits a to q, deciding its event. An assignment with neither a
// property nor an operation has nothing to do and is dropped.
func Add(a *Assignment, q *Assignments) {
	if a.Property == "" && a.Operation == "" {
		return
	}
	switch {
	case a.HasAlternatives():
		a.Event = EventChooseProperty
	default:
		a.Event = EventAssignEntity
		if values, ok := a.Value.Value.([]any); ok {
			switch {
			case len(values) > 1:
				a.Event = EventChooseEntity
			case len(values) == 1:
				a.Value.Value = values[0]
			}
		}
	}
	q.Assignments = append(q.Assignments, a)
}
