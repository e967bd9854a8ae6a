package entity

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/voicetyped/adaptive/pkg/schema"
)

const travelSchema = `
type: object
properties:
  destination:
    type: string
    $entities: [city]
`

const orderSchema = `
type: object
$operations: [add, remove, clear]
properties:
  size:
    type: string
    $entities: [size, number]
  quantity:
    type: number
    $entities: [number]
  toppings:
    type: array
    items:
      type: string
    $entities: [topping]
`

func mustSchema(t *testing.T, doc string) *schema.DialogSchema {
	t.Helper()
	s, err := schema.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("schema.Parse: %v", err)
	}
	return s
}

func TestBookFlightToParis(t *testing.T) {
	s := mustSchema(t, travelSchema)
	text := "book a flight to Paris"
	paris := &Info{Name: "city", Value: "Paris", Start: 17, End: 22, Text: "Paris", WhenRecognized: 1}
	paris.Root = Span{Name: "city", Start: 17, End: 22}
	entities := map[string][]*Info{
		"city":        {paris},
		UtteranceName: {Utterance(text, 1)},
	}

	cands := Candidates(CandidateInput{Entities: entities, Schema: s})
	if len(cands) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(cands))
	}
	if cands[0].Property != "destination" || cands[0].Operation != schema.DefaultOperation || cands[0].IsExpected {
		t.Errorf("candidate = %+v, want unexpected destination/set", cands[0])
	}

	queue := &Assignments{}
	res := AssignEntities(AssignInput{Entities: entities, Schema: s, Queue: queue})

	if queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", queue.Len())
	}
	head := queue.Next()
	if head.Event != EventAssignEntity || head.Property != "destination" || head.Value.Value != "Paris" {
		t.Errorf("head = %+v, want AssignEntity destination=Paris", head)
	}
	if len(res.Recognized) != 1 || res.Recognized[0] != paris {
		t.Errorf("recognized = %v, want [Paris]", res.Recognized)
	}
	if diff := cmp.Diff([]string{"book a flight to"}, SplitUtterance(text, res.Recognized)); diff != "" {
		t.Errorf("unrecognized text mismatch (-want +got):\n%s", diff)
	}
}

func TestChooseEntityResolvesPendingChoice(t *testing.T) {
	s := mustSchema(t, orderSchema)
	offered := &Info{Name: "size", Value: []any{"small", "medium"}, Start: 0, End: 5, WhenRecognized: 1}
	queue := &Assignments{}
	Add(&Assignment{Property: "size", Operation: "set", Value: offered}, queue)
	if got := queue.Next().Event; got != EventChooseEntity {
		t.Fatalf("seeded event = %q, want %q", got, EventChooseEntity)
	}

	answer := &Info{Name: "size", Value: []any{"medium", "large"}, Start: 0, End: 6, WhenRecognized: 2}
	answer.Root = Span{Name: "size", Start: 0, End: 6}
	AssignEntities(AssignInput{
		Entities:  map[string][]*Info{"size": {answer}},
		LastEvent: EventChooseEntity,
		Schema:    s,
		Queue:     queue,
	})

	if queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", queue.Len())
	}
	head := queue.Next()
	if head.Event != EventAssignEntity {
		t.Errorf("event = %q, want %q", head.Event, EventAssignEntity)
	}
	if head.Operation != "set" {
		t.Errorf("operation = %q, want set", head.Operation)
	}
	if head.Value.Value != "medium" {
		t.Errorf("value = %v, want medium", head.Value.Value)
	}
}

func TestAmbiguousEntityRaisesChooseProperty(t *testing.T) {
	s := mustSchema(t, orderSchema)
	two := &Info{Name: "number", Value: 2.0, Start: 0, End: 1, Text: "2", WhenRecognized: 1}
	two.Root = Span{Name: "number", Start: 0, End: 1}

	queue := &Assignments{}
	AssignEntities(AssignInput{
		Entities: map[string][]*Info{"number": {two}},
		Schema:   s,
		Queue:    queue,
	})

	if queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", queue.Len())
	}
	head := queue.Next()
	if head.Event != EventChooseProperty {
		t.Fatalf("event = %q, want %q", head.Event, EventChooseProperty)
	}
	var props []string
	for _, a := range head.All() {
		props = append(props, a.Property)
	}
	if diff := cmp.Diff([]string{"size", "quantity"}, props); diff != "" {
		t.Errorf("choices mismatch (-want +got):\n%s", diff)
	}

	// The user answers with the property name.
	mention := &Info{Name: "sizeProperty", Property: "size", Start: 0, End: 4, WhenRecognized: 2}
	mention.Root = Span{Name: "sizeProperty", Start: 0, End: 4}
	res := AssignEntities(AssignInput{
		Entities:  map[string][]*Info{"sizeProperty": {mention}},
		LastEvent: EventChooseProperty,
		Schema:    s,
		Queue:     queue,
	})

	if diff := cmp.Diff([]string{"size"}, res.Expected); diff != "" {
		t.Errorf("expected properties mismatch (-want +got):\n%s", diff)
	}
	if queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", queue.Len())
	}
	head = queue.Next()
	if head.Event != EventAssignEntity || head.Property != "size" || head.Value.Value != 2.0 {
		t.Errorf("head = %+v, want AssignEntity size=2", head)
	}
	if !head.IsExpected {
		t.Error("promoted choice should be expected")
	}
}

func TestExpectedOnlyEntitiesNeedAnAsk(t *testing.T) {
	doc := `
type: object
$expectedOnly: [utterance]
properties:
  name:
    type: string
    $entities: [utterance]
`
	s := mustSchema(t, doc)
	text := "Ada Lovelace"
	entities := map[string][]*Info{UtteranceName: {Utterance(text, 1)}}

	if got := Candidates(CandidateInput{Entities: entities, Schema: s}); len(got) != 0 {
		t.Errorf("unexpected candidates = %d, want 0", len(got))
	}
	got := Candidates(CandidateInput{Entities: entities, Expected: []string{"name"}, Schema: s})
	if len(got) != 1 || got[0].Property != "name" || !got[0].IsExpected {
		t.Fatalf("expected candidates = %+v, want one expected name candidate", got)
	}
}

func TestPureOperationCandidate(t *testing.T) {
	s := mustSchema(t, orderSchema)
	clr := &Info{Name: "clear", Operation: "clear", Start: 0, End: 5}
	got := Candidates(CandidateInput{
		Entities: map[string][]*Info{"clear": {clr}},
		Expected: []string{"size"},
		Schema:   s,
	})
	if len(got) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(got))
	}
	if got[0].Property != "" || got[0].Operation != "clear" || got[0].IsExpected {
		t.Errorf("candidate = %+v, want unexpected clear without property", got[0])
	}
	if diff := cmp.Diff([]string{"size"}, got[0].ExpectedProperties); diff != "" {
		t.Errorf("expected properties snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveOverlappingPerProperty(t *testing.T) {
	s := mustSchema(t, orderSchema)
	sizeWord := &Info{Name: "size", Value: "large", Start: 0, End: 5, Root: Span{Name: "size", End: 5}}
	number := &Info{Name: "number", Value: 5.0, Start: 3, End: 4, Root: Span{Name: "number", Start: 3, End: 4}}
	shared := &Info{Name: "number", Value: 1.0, Start: 0, End: 1, Root: Span{Name: "size", End: 5}}
	far := &Info{Name: "number", Value: 9.0, Start: 10, End: 11, Root: Span{Name: "number", Start: 10, End: 11}}

	in := []*Assignment{
		{Property: "size", Value: number},
		{Property: "size", Value: sizeWord},
		{Property: "size", Value: shared},
		{Property: "size", Value: far},
	}
	got := RemoveOverlappingPerProperty(in, s)

	var values []any
	for _, a := range got {
		values = append(values, a.Value.Value)
	}
	// size wins; the overlapping number from another recognition goes, the
	// one sharing its root and the disjoint one stay.
	if diff := cmp.Diff([]any{"large", 1.0, 9.0}, values); diff != "" {
		t.Errorf("kept values mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultOperationFor(t *testing.T) {
	a := &Assignment{Value: &Info{Name: "topping", Role: "extra"}}
	tests := []struct {
		name   string
		ask    map[string]string
		dialog map[string]string
		want   string
	}{
		{name: "fallback", want: "set"},
		{name: "dialog wildcard", dialog: map[string]string{"": "add"}, want: "add"},
		{name: "dialog name", dialog: map[string]string{"": "add", "topping": "remove"}, want: "remove"},
		{name: "role first", dialog: map[string]string{"topping": "remove", "extra": "add"}, want: "add"},
		{name: "ask wins", ask: map[string]string{"": "clear"}, dialog: map[string]string{"topping": "remove"}, want: "clear"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultOperationFor(a, tt.ask, tt.dialog); got != tt.want {
				t.Errorf("DefaultOperationFor = %q, want %q", got, tt.want)
			}
		})
	}
}
