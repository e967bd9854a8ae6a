package recognizer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/gjson"

	"github.com/voicetyped/adaptive/pkg/hooks"
)

const orderDefinition = `
intents:
  - name: order
    patterns: ["\\border\\b", "i want"]
  - name: cancel
    keywords: ["cancel", "never mind"]
entities:
  - name: number
    pattern: "\\b(\\d+)\\b"
    type: number
  - name: bread
    values:
      wheat: [whole wheat, brown]
      rye: []
      white: [plain]
  - name: size
    values:
      small: [little, regular]
      medium: [regular]
`

func writeDefinition(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "order.yaml")
	if err := os.WriteFile(path, []byte(orderDefinition), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	return path
}

func newOrderRecognizer(t *testing.T) *Regex {
	t.Helper()
	def, err := LoadDefinition(writeDefinition(t))
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	r, err := NewRegex(def)
	if err != nil {
		t.Fatalf("NewRegex: %v", err)
	}
	return r
}

func TestRegexIntentsAndEntities(t *testing.T) {
	r := newOrderRecognizer(t)
	text := "I want 2 sandwiches on Whole Wheat"

	res, err := r.Recognize(t.Context(), Request{Text: text})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if top, _ := res.TopIntent(); top != "order" {
		t.Errorf("top intent = %q, want order", top)
	}

	ents := gjson.ParseBytes(res.Entities)
	if got := ents.Get("number.0").Float(); got != 2 {
		t.Errorf("number = %v, want 2", got)
	}
	if got := ents.Get("$instance.number.0.startIndex").Int(); got != 7 {
		t.Errorf("number start = %d, want 7", got)
	}
	if got := ents.Get("bread.0").String(); got != "wheat" {
		t.Errorf("bread = %q, want wheat", got)
	}
	// "wheat" and "whole wheat" both match; normalization keeps the longer.
	if n := ents.Get("$instance.bread.#").Int(); n != 2 {
		t.Fatalf("bread occurrences = %d, want 2", n)
	}
	inst := ents.Get("$instance.bread.1")
	if got := text[inst.Get("startIndex").Int():inst.Get("endIndex").Int()]; got != "Whole Wheat" {
		t.Errorf("bread span = %q, want %q", got, "Whole Wheat")
	}
}

func TestRegexAmbiguousListValue(t *testing.T) {
	r := newOrderRecognizer(t)
	res, err := r.Recognize(t.Context(), Request{Text: "a regular one"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	var got []string
	for _, v := range gjson.GetBytes(res.Entities, "size.0").Array() {
		got = append(got, v.String())
	}
	if diff := cmp.Diff([]string{"medium", "small"}, got); diff != "" {
		t.Errorf("size values mismatch (-want +got):\n%s", diff)
	}
}

func TestRegexFoldsDiacritics(t *testing.T) {
	r := newOrderRecognizer(t)
	res, err := r.Recognize(t.Context(), Request{Text: "CANCÉL please"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if top, _ := res.TopIntent(); top != "cancel" {
		t.Errorf("top intent = %q, want cancel", top)
	}
}

func TestRegexNoneIntent(t *testing.T) {
	r := newOrderRecognizer(t)
	res, err := r.Recognize(t.Context(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	top, score := res.TopIntent()
	if top != NoneIntent || score != 1 {
		t.Errorf("TopIntent = %q/%v, want None/1", top, score)
	}
	if len(res.Entities) != 0 {
		t.Errorf("entities = %s, want none", res.Entities)
	}
}

func TestTopIntentTieBreak(t *testing.T) {
	res := &Result{Intents: map[string]IntentScore{"b": {Score: 0.7}, "a": {Score: 0.7}, "c": {Score: 0.2}}}
	if top, _ := res.TopIntent(); top != "a" {
		t.Errorf("top = %q, want a", top)
	}
	var empty *Result
	if top, score := empty.TopIntent(); top != NoneIntent || score != 0 {
		t.Errorf("nil result TopIntent = %q/%v, want None/0", top, score)
	}
}

func TestFromCardValue(t *testing.T) {
	res := FromCardValue("", map[string]any{"intent": "confirm", "size": "large"})
	if res == nil {
		t.Fatal("FromCardValue returned nil")
	}
	if top, score := res.TopIntent(); top != "confirm" || score != 1 {
		t.Errorf("TopIntent = %q/%v, want confirm/1", top, score)
	}
	if got := res.EntitiesMap()["size"]; !cmp.Equal(got, []any{"large"}) {
		t.Errorf("size = %v, want [large]", got)
	}

	if FromCardValue("", map[string]any{"size": "large"}) != nil {
		t.Error("card without intent should not be recognized")
	}
	if FromCardValue("", "text") != nil {
		t.Error("non-map value should not be recognized")
	}
}

func TestRegistryCachesInstances(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, nil)

	if diff := cmp.Diff([]string{"http", "none", "regex"}, r.List()); diff != "" {
		t.Errorf("backends mismatch (-want +got):\n%s", diff)
	}

	cfg := map[string]string{"file": writeDefinition(t)}
	first, err := r.Get("regex", cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := r.Get("regex", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("Get should return the cached instance")
	}

	if _, err := r.Get("luis", nil); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := r.Create("regex", nil); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := r.Create("http", map[string]string{"url": "http://example.com"}); err == nil {
		t.Error("expected error without hook executor")
	}
}

func TestHTTPRecognizer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(Result{
			Intents:  map[string]IntentScore{"book": {Score: 0.9}},
			Entities: json.RawMessage(`{"city":["Paris"],"$instance":{"city":[{"startIndex":17,"endIndex":22}]}}`),
		})
	}))
	defer ts.Close()

	reg := NewRegistry()
	RegisterBuiltins(reg, hooks.NewExecutor(nil, hooks.AllowPrivateIPs()))
	rec, err := reg.Get("http", map[string]string{"url": ts.URL, "timeout_sec": "2"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	res, err := rec.Recognize(t.Context(), Request{Text: "book a flight to Paris"})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "book a flight to Paris" {
		t.Errorf("text = %q, want the request text", res.Text)
	}
	if top, _ := res.TopIntent(); top != "book" {
		t.Errorf("top = %q, want book", top)
	}
	if got := gjson.GetBytes(res.Entities, "city.0").String(); got != "Paris" {
		t.Errorf("city = %q, want Paris", got)
	}
}
