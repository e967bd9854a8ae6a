package dialog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/voicetyped/adaptive/pkg/events"
	"github.com/voicetyped/adaptive/pkg/recognizer"
	"github.com/voicetyped/adaptive/pkg/schema"
	"github.com/voicetyped/adaptive/pkg/storage"
)

func say(text string) *Activity {
	return &Activity{Type: ActivityMessage, Text: text, From: "u1"}
}

func texts(out *TurnOutcome) []string {
	var got []string
	for _, a := range out.Responses {
		got = append(got, a.Text)
	}
	return got
}

// turn runs one OnTurn and checks status and responses.
func turn(t *testing.T, m *Manager, conv, text string, wantStatus TurnStatus, wantTexts ...string) *TurnOutcome {
	t.Helper()
	out, err := m.OnTurn(t.Context(), conv, say(text))
	if err != nil {
		t.Fatalf("OnTurn(%q): %v", text, err)
	}
	if out.Status != wantStatus {
		t.Errorf("OnTurn(%q) status = %q, want %q", text, out.Status, wantStatus)
	}
	if diff := cmp.Diff(wantTexts, texts(out)); diff != "" {
		t.Errorf("OnTurn(%q) responses mismatch (-want +got):\n%s", text, diff)
	}
	return out
}

func TestGreetingAndUnknownIntent(t *testing.T) {
	root := NewAdaptiveDialog("main",
		WithRecognizer(intents(map[string]*recognizer.Result{"hello": intent("greet")})),
		WithAutoEndDialog(false),
		WithTriggers(
			OnIntent("greet", Send("Hi there.")),
			OnUnknownIntent(Send("Sorry, I didn't get that.")),
		),
	)
	m := NewManager(storage.NewMemoryStore(0), root)

	turn(t, m, "c1", "hello", StatusWaiting, "Hi there.")
	turn(t, m, "c1", "what?", StatusWaiting, "Sorry, I didn't get that.")

	snap, err := m.Conversation(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if snap.ActiveDialog != "main" {
		t.Errorf("ActiveDialog = %q, want %q", snap.ActiveDialog, "main")
	}
}

func TestEmittedRecognizedIntent(t *testing.T) {
	root := NewAdaptiveDialog("main",
		WithAutoEndDialog(false),
		WithTriggers(
			OnUnknownIntent(Emit(EventRecognizedIntent, map[string]any{
				"intent":   "book",
				"score":    0.9,
				"entities": map[string]any{},
			})),
			OnIntent("book", Send("booked")),
		),
	)
	m := NewManager(storage.NewMemoryStore(0), root)

	turn(t, m, "c1", "x", StatusWaiting, "booked")
}

func TestPromoteRecognizedPicksTopIntent(t *testing.T) {
	st := testState()
	err := promoteRecognized(st, map[string]any{
		"intents": map[string]any{
			"a": map[string]any{"score": 0.2},
			"b": map[string]any{"score": 0.7},
		},
	})
	if err != nil {
		t.Fatalf("promoteRecognized: %v", err)
	}
	if got := st.String(pathTopIntent, ""); got != "b" {
		t.Errorf("topIntent = %q, want %q", got, "b")
	}
	if got := st.String(pathRecognized+".intent", ""); got != "b" {
		t.Errorf("recognized.intent = %q, want %q", got, "b")
	}
	if got := st.Map(pathRecognized + ".entities"); got == nil {
		t.Error("recognized.entities missing")
	}

	if err := promoteRecognized(st, "not an object"); err != nil {
		t.Fatalf("promoteRecognized(string): %v", err)
	}
	if got := st.String(pathTopIntent, ""); got != "b" {
		t.Errorf("topIntent after non-object payload = %q, want %q", got, "b")
	}
}

func TestEndSequenceSkipsToEndOfActions(t *testing.T) {
	root := NewAdaptiveDialog("main",
		WithAutoEndDialog(false),
		WithTriggers(
			OnUnknownIntent(Edit(EndSequence), Send("never")),
			OnEndOfActions(Send("eoa")).Once(),
		),
	)
	m := NewManager(storage.NewMemoryStore(0), root)

	turn(t, m, "c1", "x", StatusWaiting, "eoa")
}

func TestInterruptionRepromptsInput(t *testing.T) {
	profile := NewAdaptiveDialog("profile",
		WithResultProperty("user.name"),
		WithTriggers(OnBeginDialog(Input("What is your name?", "user.name"))),
	)
	root := NewAdaptiveDialog("main",
		WithRecognizer(intents(map[string]*recognizer.Result{"help": intent("help")})),
		WithDialogs(profile),
		WithTriggers(
			OnBeginDialog(
				Call("profile", "conversation.name"),
				Send("Nice to meet you, {{.conversation.name}}."),
			),
			OnIntent("help", Send("I can remember your name.")),
		),
	)
	store := storage.NewMemoryStore(0)
	m := NewManager(store, root)

	turn(t, m, "c1", "hi", StatusWaiting, "What is your name?")
	turn(t, m, "c1", "help", StatusWaiting, "I can remember your name.", "What is your name?")
	turn(t, m, "c1", "Ada", StatusComplete, "Nice to meet you, Ada.")

	raw, err := store.Load(t.Context(), storage.UserKey("u1"))
	if err != nil {
		t.Fatalf("Load user: %v", err)
	}
	var user map[string]any
	if err := json.Unmarshal(raw, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user["name"] != "Ada" {
		t.Errorf("user.name = %v, want Ada", user["name"])
	}

	snap, err := m.Conversation(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if snap.ActiveDialog != "" {
		t.Errorf("ActiveDialog = %q, want none", snap.ActiveDialog)
	}
	if snap.Conversation["name"] != "Ada" {
		t.Errorf("conversation.name = %v, want Ada", snap.Conversation["name"])
	}
}

const travelSchema = `
type: object
properties:
  destination:
    type: string
    $entities: [city]
`

func TestEntityAssignment(t *testing.T) {
	s, err := schema.Parse([]byte(travelSchema))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	book := intent("book")
	book.Entities = json.RawMessage(`{"city":["Paris"],"$instance":{"city":[{"startIndex":17,"endIndex":22,"text":"Paris","score":0.9}]}}`)

	root := NewAdaptiveDialog("travel",
		WithSchema(s),
		WithRecognizer(intents(map[string]*recognizer.Result{"book a flight to Paris": book})),
		WithResultProperty("dialog.destination"),
		WithTriggers(
			OnIntent("book", Send("Let's book a flight.")),
			OnAssignEntity("destination", "city",
				Set("dialog.destination", `{{index .turn.recognized.entities.city 0}}`),
				Send("Flying to {{.dialog.destination}}."),
				&SetProperty{Property: "conversation.leftover", ValueFrom: "turn.unrecognizedText"},
			),
		),
	)
	pub := events.NewPublisher(nil, "test", "")
	seen := pub.Subscribe("test", 128)
	m := NewManager(storage.NewMemoryStore(0), root, WithPublisher(pub))

	out := turn(t, m, "c1", "book a flight to Paris", StatusComplete, "Let's book a flight.", "Flying to Paris.")
	if out.Result != "Paris" {
		t.Errorf("Result = %v, want Paris", out.Result)
	}

	snap, err := m.Conversation(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if diff := cmp.Diff([]any{"book a flight to"}, snap.Conversation["leftover"]); diff != "" {
		t.Errorf("leftover mismatch (-want +got):\n%s", diff)
	}

	pub.Unsubscribe("test")
	got := map[events.EventType]int{}
	for env := range seen {
		got[env.Type]++
	}
	for _, want := range []events.EventType{
		events.TurnStarted, events.DialogStarted, events.AssignmentQueued,
		events.AssignmentRaised, events.TriggerFired, events.ActivitySent,
		events.DialogEnded, events.TurnCompleted,
	} {
		if got[want] == 0 {
			t.Errorf("no %s event published", want)
		}
	}
}

const sizeSchema = `
type: object
properties:
  size:
    type: string
    $entities: [size]
`

func TestChooseEntity(t *testing.T) {
	s, err := schema.Parse([]byte(sizeSchema))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ambiguous := intent(recognizer.NoneIntent)
	ambiguous.Entities = json.RawMessage(`{"size":[["medium","small"]],"$instance":{"size":[{"startIndex":2,"endIndex":9,"text":"regular"}]}}`)
	answer := intent(recognizer.NoneIntent)
	answer.Entities = json.RawMessage(`{"size":[["medium"]],"$instance":{"size":[{"startIndex":0,"endIndex":6,"text":"medium"}]}}`)

	root := NewAdaptiveDialog("order",
		WithSchema(s),
		WithRecognizer(intents(map[string]*recognizer.Result{"a regular": ambiguous, "medium": answer})),
		WithResultProperty("dialog.size"),
		WithTriggers(
			OnChooseEntity("size", AskFor("Small or medium?", "size")),
			OnAssignEntity("size", "size",
				Set("dialog.size", `{{index .turn.recognized.entities.size 0}}`),
				Send("A {{.dialog.size}} one."),
			),
		),
	)
	m := NewManager(storage.NewMemoryStore(0), root)

	turn(t, m, "c1", "a regular", StatusWaiting, "Small or medium?")
	out := turn(t, m, "c1", "medium", StatusComplete, "A medium one.")
	if out.Result != "medium" {
		t.Errorf("Result = %v, want medium", out.Result)
	}
}

func TestBeginDialogReplacesStack(t *testing.T) {
	root := NewAdaptiveDialog("main",
		WithAutoEndDialog(false),
		WithTriggers(OnBeginDialog(Send("main started"))),
	)
	other := NewAdaptiveDialog("other",
		WithAutoEndDialog(false),
		WithTriggers(OnBeginDialog(Send("other started {{.dialog.source}}"))),
	)
	m := NewManager(storage.NewMemoryStore(0), root, WithDialog(other))

	turn(t, m, "c1", "hi", StatusWaiting, "main started")

	out, err := m.BeginDialog(t.Context(), "c1", "other", nil, map[string]any{"source": "api"})
	if err != nil {
		t.Fatalf("BeginDialog: %v", err)
	}
	if diff := cmp.Diff([]string{"other started api"}, texts(out)); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
	snap, err := m.Conversation(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if snap.ActiveDialog != "other" || len(snap.DialogState.Stack) != 1 {
		t.Errorf("stack = %+v, want only other", snap.DialogState.Stack)
	}

	if _, err := m.BeginDialog(t.Context(), "c1", "missing", nil, nil); !errors.Is(err, ErrDialogNotFound) {
		t.Errorf("BeginDialog(missing) error = %v, want ErrDialogNotFound", err)
	}
}

func TestEndConversation(t *testing.T) {
	root := NewAdaptiveDialog("main", WithAutoEndDialog(false))
	pub := events.NewPublisher(nil, "test", "")
	seen := pub.Subscribe("test", 16)
	m := NewManager(storage.NewMemoryStore(0), root, WithPublisher(pub))

	turn(t, m, "c1", "hi", StatusWaiting)
	if err := m.EndConversation(t.Context(), "c1", "user left"); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	if _, err := m.Conversation(t.Context(), "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Conversation after end error = %v, want ErrNotFound", err)
	}
	if err := m.EndConversation(t.Context(), "c1", "again"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second EndConversation error = %v, want ErrNotFound", err)
	}

	pub.Unsubscribe("test")
	ended := false
	for env := range seen {
		if env.Type == events.ConversationEnded {
			ended = true
		}
	}
	if !ended {
		t.Error("no conversation.ended event published")
	}
}

func TestSweep(t *testing.T) {
	root := NewAdaptiveDialog("main", WithAutoEndDialog(false))
	m := NewManager(storage.NewMemoryStore(0), root)

	turn(t, m, "c1", "hi", StatusWaiting)
	turn(t, m, "c2", "hi", StatusWaiting)
	time.Sleep(5 * time.Millisecond)

	n, err := m.Sweep(t.Context(), time.Millisecond)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("Sweep removed %d conversations, want 2", n)
	}
	if _, err := m.Conversation(t.Context(), "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Conversation after sweep error = %v, want ErrNotFound", err)
	}
}

func TestRepromptWithoutDialog(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(0), NewAdaptiveDialog("main"))
	out, err := m.Reprompt(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Reprompt: %v", err)
	}
	if out.Status != StatusEmpty {
		t.Errorf("status = %q, want %q", out.Status, StatusEmpty)
	}
}

func TestRepromptInput(t *testing.T) {
	root := NewAdaptiveDialog("main", WithTriggers(OnBeginDialog(Input("Name?", "dialog.name"))))
	m := NewManager(storage.NewMemoryStore(0), root)

	turn(t, m, "c1", "hi", StatusWaiting, "Name?")
	out, err := m.Reprompt(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Reprompt: %v", err)
	}
	if diff := cmp.Diff([]string{"Name?"}, texts(out)); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingConversationID(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(0), NewAdaptiveDialog("main"))
	if _, err := m.OnTurn(t.Context(), "", say("hi")); err == nil {
		t.Error("OnTurn without conversation id returned no error")
	}
}

func TestConcurrentConversations(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := NewAdaptiveDialog("counter",
		WithAutoEndDialog(false),
		WithTriggers(OnUnknownIntent(
			Set("conversation.count", "{{with .conversation.count}}{{.}}{{end}}x"),
			Send("ok"),
		)),
	)
	m := NewManager(storage.NewMemoryStore(0), root)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 4 {
		conv := fmt.Sprintf("c%d", i)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.OnTurn(t.Context(), conv, say("tick")); err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("OnTurn: %v", err)
	}

	for i := range 4 {
		snap, err := m.Conversation(t.Context(), fmt.Sprintf("c%d", i))
		if err != nil {
			t.Fatalf("Conversation: %v", err)
		}
		if got, _ := snap.Conversation["count"].(string); len(got) != 10 {
			t.Errorf("c%d count = %q, want 10 marks", i, got)
		}
	}
}
