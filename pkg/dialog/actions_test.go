package dialog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/voicetyped/adaptive/pkg/hooks"
	"github.com/voicetyped/adaptive/pkg/recognizer"
	"github.com/voicetyped/adaptive/pkg/storage"
)

func TestIfCondition(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want string
	}{
		{"then", 3, "big"},
		{"else", 1, "small"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewAdaptiveDialog("main", WithTriggers(OnBeginDialog(
				Set("dialog.n", tt.n),
				If(`{{gt .dialog.n 2}}`, Send("big")).Else(Send("small")),
			)))
			m := NewManager(storage.NewMemoryStore(0), root)
			turn(t, m, "c1", "hi", StatusComplete, tt.want)
		})
	}
}

func TestEditActionsAppend(t *testing.T) {
	root := NewAdaptiveDialog("main", WithTriggers(OnBeginDialog(
		Edit(AppendActions, Send("last")),
		Send("first"),
	)))
	m := NewManager(storage.NewMemoryStore(0), root)
	turn(t, m, "c1", "hi", StatusComplete, "first", "last")
}

func TestEmitEventAction(t *testing.T) {
	root := NewAdaptiveDialog("main", WithTriggers(
		OnBeginDialog(
			&EmitEvent{Name: "custom", HandledProperty: "dialog.handled"},
			Send("handled={{.dialog.handled}}"),
		),
		OnEvent("custom", Send("got custom")),
	))
	m := NewManager(storage.NewMemoryStore(0), root)
	turn(t, m, "c1", "hi", StatusComplete, "got custom", "handled=true")
}

func TestCancelAllDialogsAction(t *testing.T) {
	child := NewAdaptiveDialog("child", WithTriggers(OnBeginDialog(Cancel(), Send("unreachable"))))
	root := NewAdaptiveDialog("main",
		WithDialogs(child),
		WithTriggers(OnBeginDialog(Call("child", ""), Send("unreachable"))),
	)
	m := NewManager(storage.NewMemoryStore(0), root)
	turn(t, m, "c1", "hi", StatusCancelled)

	snap, err := m.Conversation(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(snap.DialogState.Stack) != 0 {
		t.Errorf("stack = %+v, want empty", snap.DialogState.Stack)
	}
}

func TestEndDialogAction(t *testing.T) {
	child := NewAdaptiveDialog("child", WithTriggers(OnBeginDialog(
		Set("dialog.answer", 42),
		End("dialog.answer"),
		Send("unreachable"),
	)))
	root := NewAdaptiveDialog("main",
		WithDialogs(child),
		WithTriggers(OnBeginDialog(Call("child", "dialog.got"), Send("got {{.dialog.got}}"))),
	)
	m := NewManager(storage.NewMemoryStore(0), root)
	turn(t, m, "c1", "hi", StatusComplete, "got 42")
}

func TestAskCountsRetries(t *testing.T) {
	root := NewAdaptiveDialog("main",
		WithAutoEndDialog(false),
		WithTriggers(OnUnknownIntent(AskFor("Which size?", "size"))),
	)
	m := NewManager(storage.NewMemoryStore(0), root)

	turn(t, m, "c1", "hmm", StatusWaiting, "Which size?")
	turn(t, m, "c1", "what", StatusWaiting, "Which size?")

	snap, err := m.Conversation(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	state := snap.DialogState.Stack[0].State
	if state["retries"] != 1.0 {
		t.Errorf("retries = %v, want 1", state["retries"])
	}
	if diff := cmp.Diff([]any{"size"}, state["expectedProperties"]); diff != "" {
		t.Errorf("expectedProperties mismatch (-want +got):\n%s", diff)
	}
}

func TestTextInputFallsBackToDefault(t *testing.T) {
	root := NewAdaptiveDialog("main",
		WithRecognizer(intents(map[string]*recognizer.Result{"help": intent("help")})),
		WithTriggers(
			OnBeginDialog(
				&TextInput{Prompt: "Age?", Property: "dialog.age", MaxTurnCount: 2, DefaultValue: "unknown"},
				Send("Age {{.dialog.age}}"),
			),
			OnIntent("help", Send("Just a number.")),
		),
	)
	m := NewManager(storage.NewMemoryStore(0), root)

	turn(t, m, "c1", "hi", StatusWaiting, "Age?")
	turn(t, m, "c1", "help", StatusWaiting, "Just a number.", "Age?")
	turn(t, m, "c1", "help", StatusComplete, "Just a number.", "Age unknown")
}

func TestTextInputSkipsKnownValue(t *testing.T) {
	root := NewAdaptiveDialog("main", WithTriggers(OnBeginDialog(
		Set("dialog.name", "Ada"),
		Input("Name?", "dialog.name"),
		Send("Hello {{.dialog.name}}"),
	)))
	m := NewManager(storage.NewMemoryStore(0), root)
	turn(t, m, "c1", "hi", StatusComplete, "Hello Ada")
}

func TestCallHook(t *testing.T) {
	var got hooks.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(hooks.Response{
			Variables: map[string]any{"tier": "gold"},
			Data:      map[string]any{"ok": true},
			Actions: []hooks.Action{
				{Type: "send_activity", Params: map[string]string{"text": "Tier {{.dialog.tier}}"}},
			},
		})
	}))
	defer srv.Close()

	exec := hooks.NewExecutor(nil, hooks.AllowPrivateIPs(), hooks.WithHTTPClient(srv.Client()))
	root := NewAdaptiveDialog("main", WithTriggers(OnBeginDialog(
		Set("dialog.account", "acme"),
		Hook(hooks.Config{URL: srv.URL, AuthType: "none", TimeoutSec: 2}),
		Send("ok={{.turn.lastResult.ok}}"),
	)))
	m := NewManager(storage.NewMemoryStore(0), root, WithHookExecutor(exec))

	turn(t, m, "c1", "hi", StatusComplete, "Tier gold", "ok=true")

	if got.ConversationID != "c1" || got.DialogID != "main" {
		t.Errorf("hook request = %+v, want conversation c1 and dialog main", got)
	}
	if got.Variables["account"] != "acme" {
		t.Errorf("hook variables = %v, want account acme", got.Variables)
	}
	for k := range got.Variables {
		if k[0] == '_' {
			t.Errorf("internal variable %q sent to hook", k)
		}
	}
}

func TestCallHookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := hooks.NewExecutor(nil, hooks.AllowPrivateIPs(), hooks.WithHTTPClient(srv.Client()))
	root := NewAdaptiveDialog("main", WithTriggers(OnBeginDialog(
		Hook(hooks.Config{URL: srv.URL}),
		If(`{{.turn.lastResult.error}}`, Send("hook failed")),
	)))
	m := NewManager(storage.NewMemoryStore(0), root, WithHookExecutor(exec))

	turn(t, m, "c1", "hi", StatusComplete, "hook failed")
}
