package dialog

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/voicetyped/adaptive/pkg/memory"
)

func testState() *memory.State {
	turn := map[string]any{
		"recognized": map[string]any{"intent": "order", "score": 0.8},
	}
	dialog := map[string]any{"size": "large", "count": 2, "confirmed": false}
	st := memory.New()
	st.SetScope(memory.ScopeTurn, func() map[string]any { return turn })
	st.SetScope(memory.ScopeDialog, func() map[string]any { return dialog })
	return st
}

func TestEval(t *testing.T) {
	tmpl := NewTemplates()
	tests := []struct {
		condition string
		want      bool
	}{
		{"", true},
		{`{{eq .turn.recognized.intent "order"}}`, true},
		{`{{eq .turn.recognized.intent "cancel"}}`, false},
		{`{{.dialog.confirmed}}`, false},
		{`{{.dialog.missing}}`, false},
		{`{{.Has "$size"}}`, true},
		{`{{.Has "$color"}}`, false},
		{`{{if gt .dialog.count 1}}many{{end}}`, true},
		{`{{if gt .dialog.count 5}}many{{end}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			got, err := tmpl.Eval(tt.condition, testState())
			if err != nil {
				t.Fatalf("Eval: %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}

func TestEvalParseError(t *testing.T) {
	if _, err := NewTemplates().Eval("{{if}}", testState()); err == nil {
		t.Error("Eval of malformed template returned no error")
	}
}

func TestRender(t *testing.T) {
	tmpl := NewTemplates()
	tests := []struct {
		text string
		want string
	}{
		{"plain text", "plain text"},
		{"A {{.dialog.size}} one.", "A large one."},
		{`{{.Get "$size"}} x{{.dialog.count}}`, "large x2"},
	}
	for _, tt := range tests {
		got, err := tmpl.Render(tt.text, testState())
		if err != nil {
			t.Fatalf("Render(%q): %v", tt.text, err)
		}
		if got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestRenderOutputLimit(t *testing.T) {
	st := memory.New()
	big := map[string]any{"blob": strings.Repeat("x", maxTemplateOutput)}
	st.SetScope(memory.ScopeDialog, func() map[string]any { return big })

	if _, err := NewTemplates().Render("{{.dialog.blob}}{{.dialog.blob}}", st); err == nil {
		t.Error("Render past the output limit returned no error")
	}
}

func TestReferences(t *testing.T) {
	refs, err := NewTemplates().References(`{{if eq .turn.recognized.intent "order"}}{{.Get "$size"}}{{.dialog.count}}{{end}}`)
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	want := []string{"turn.recognized.intent", "dialog.size", "dialog.count"}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("References mismatch (-want +got):\n%s", diff)
	}
}
