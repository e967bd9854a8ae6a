package entity

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	sandwichOperations = []string{"add", "remove", "clear"}
	sandwichProperties = []string{"bread", "size", "toppings", "quantity"}
)

func TestNormalizeKeepsLongestOccurrence(t *testing.T) {
	text := "fly to New York City"
	raw := `{
		"city": ["New York", "New York City", "York City"],
		"$instance": {"city": [
			{"startIndex": 7, "endIndex": 15, "text": "New York"},
			{"startIndex": 7, "endIndex": 20, "text": "New York City"},
			{"startIndex": 11, "endIndex": 20, "text": "York City"}
		]}
	}`

	got := NormalizeJSON(text, []byte(raw), nil, nil, 3)
	cities := got["city"]
	if len(cities) != 1 {
		t.Fatalf("len(city) = %d, want 1", len(cities))
	}
	c := cities[0]
	if c.Value != "New York City" {
		t.Errorf("Value = %v, want New York City", c.Value)
	}
	if c.Start != 7 || c.End != 20 {
		t.Errorf("span = %d-%d, want 7-20", c.Start, c.End)
	}
	if c.WhenRecognized != 3 {
		t.Errorf("WhenRecognized = %d, want 3", c.WhenRecognized)
	}
	if want := 13.0 / 20.0; c.Coverage != want {
		t.Errorf("Coverage = %v, want %v", c.Coverage, want)
	}
	if c.Priority != 1 {
		t.Errorf("Priority = %d, want 1", c.Priority)
	}
}

func TestRemoveCoveredIsIdempotent(t *testing.T) {
	list := []*Info{
		{Name: "bread", Start: 6, End: 11},
		{Name: "bread", Start: 0, End: 11},
		{Name: "bread", Start: 20, End: 25},
		{Name: "bread", Start: 20, End: 25},
	}
	once := RemoveCovered(list)
	twice := RemoveCovered(once)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second pass changed result (-once +twice):\n%s", diff)
	}
	if len(once) != 3 {
		t.Errorf("len = %d, want 3", len(once))
	}
}

func TestNormalizeComposites(t *testing.T) {
	text := "add cheese and change bread to wheat"
	raw := `{
		"add": [{
			"topping": ["cheese"],
			"$instance": {"topping": [{"startIndex": 4, "endIndex": 10, "text": "cheese"}]}
		}],
		"breadProperty": [{
			"bread": ["wheat"],
			"$instance": {"bread": [{"startIndex": 31, "endIndex": 36, "text": "wheat", "role": "new"}]}
		}],
		"clear": ["clear"],
		"$instance": {
			"add": [{"startIndex": 0, "endIndex": 10, "text": "add cheese"}],
			"breadProperty": [{"startIndex": 22, "endIndex": 36, "text": "bread to wheat"}],
			"clear": [{"startIndex": 40, "endIndex": 40}]
		}
	}`

	got := NormalizeJSON(text, []byte(raw), sandwichOperations, sandwichProperties, 1)

	topping := got["topping"]
	if len(topping) != 1 {
		t.Fatalf("len(topping) = %d, want 1", len(topping))
	}
	if topping[0].Operation != "add" || topping[0].Property != "" || topping[0].Value != "cheese" {
		t.Errorf("topping = %+v, want add/cheese with no property", topping[0])
	}
	if want := (Span{Name: "add", Start: 0, End: 10}); topping[0].Root != want {
		t.Errorf("topping root = %+v, want %+v", topping[0].Root, want)
	}

	bread := got["bread"]
	if len(bread) != 1 {
		t.Fatalf("len(bread) = %d, want 1", len(bread))
	}
	if bread[0].Property != "bread" || bread[0].Value != "wheat" || bread[0].Role != "new" {
		t.Errorf("bread = %+v, want property bread value wheat role new", bread[0])
	}
	if bread[0].Priority != 0 {
		t.Errorf("bread priority = %d, want 0 for a role", bread[0].Priority)
	}

	cleared := got["clear"]
	if len(cleared) != 1 {
		t.Fatalf("len(clear) = %d, want 1", len(cleared))
	}
	if cleared[0].Operation != "clear" || cleared[0].Value != nil {
		t.Errorf("clear = %+v, want a pure operation", cleared[0])
	}
}

func TestNormalizePropertyMention(t *testing.T) {
	raw := `{
		"sizeProperty": ["size"],
		"$instance": {"sizeProperty": [{"startIndex": 0, "endIndex": 4, "text": "size"}]}
	}`
	got := NormalizeJSON("size", []byte(raw), sandwichOperations, sandwichProperties, 1)
	mention := got["sizeProperty"]
	if len(mention) != 1 {
		t.Fatalf("len(sizeProperty) = %d, want 1", len(mention))
	}
	if mention[0].Property != "size" || mention[0].Value != nil {
		t.Errorf("mention = %+v, want valueless size mention", mention[0])
	}
}

func TestNormalizePlainPropertyName(t *testing.T) {
	leaf := `{
		"size": ["large"],
		"$instance": {"size": [{"startIndex": 0, "endIndex": 5, "text": "large"}]}
	}`
	got := NormalizeJSON("large", []byte(leaf), sandwichOperations, sandwichProperties, 1)
	if len(got["size"]) != 1 {
		t.Fatalf("len(size) = %d, want 1", len(got["size"]))
	}
	if s := got["size"][0]; s.Property != "" || s.Value != "large" {
		t.Errorf("size = %+v, want leaf entity with value large", s)
	}

	nested := `{
		"size": [{
			"number": [2],
			"$instance": {"number": [{"startIndex": 5, "endIndex": 6, "text": "2"}]}
		}],
		"$instance": {"size": [{"startIndex": 0, "endIndex": 6, "text": "size 2"}]}
	}`
	got = NormalizeJSON("size 2", []byte(nested), sandwichOperations, sandwichProperties, 1)
	if len(got["number"]) != 1 {
		t.Fatalf("len(number) = %d, want 1", len(got["number"]))
	}
	if n := got["number"][0]; n.Property != "size" || n.Value != 2.0 {
		t.Errorf("number = %+v, want value 2 for property size", n)
	}
}

func TestNormalizeSkipsMissingInstance(t *testing.T) {
	raw := `{"city": ["Paris"]}`
	got := NormalizeJSON("Paris", []byte(raw), nil, nil, 1)
	if len(got) != 0 {
		t.Errorf("got %d entity names, want 0", len(got))
	}
}

func TestNormalizeEmptyText(t *testing.T) {
	raw := `{"city": ["Paris"], "$instance": {"city": [{"startIndex": 0, "endIndex": 5}]}}`
	got := NormalizeJSON("", []byte(raw), nil, nil, 1)
	if c := got["city"][0].Coverage; c != 0 {
		t.Errorf("Coverage = %v, want 0", c)
	}
}
