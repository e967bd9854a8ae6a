package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/rs/xid"

	"github.com/voicetyped/adaptive/pkg/events"
	"github.com/voicetyped/adaptive/pkg/memory"
	"github.com/voicetyped/adaptive/pkg/recognizer"
	"github.com/voicetyped/adaptive/pkg/schema"
)

// Memory paths the adaptive dialog reads and writes.
const (
	adaptiveKey = "_adaptive"

	pathActivity           = "turn.activity"
	pathActivityProcessed  = "turn.activityProcessed"
	pathDialogEvent        = "turn.dialogEvent"
	pathInterrupted        = "turn.interrupted"
	pathRecognized         = "turn.recognized"
	pathTopIntent          = "turn.topIntent"
	pathTopScore           = "turn.topScore"
	pathRecognizedEntities = "turn.recognizedEntities"
	pathUnrecognizedText   = "turn.unrecognizedText"
	pathLastIntent         = "dialog.lastIntent"
	pathLastEvent          = "dialog.lastEvent"
	pathExpected           = "dialog.expectedProperties"
	pathDefaultOperation   = "dialog.defaultOperation"
	pathRetries            = "dialog.retries"
	pathAssignments        = "dialog._assignments"

	// DefaultResultProperty is where an ending dialog reads its result.
	DefaultResultProperty = "dialog.result"
)

// AdaptiveDialog runs actions chosen by triggers in response to events.
// It recognizes utterances, turns entities into property assignments
// against its schema, and drains those assignments as events once its
// actions run out.
type AdaptiveDialog struct {
	Base

	Recognizer            recognizer.Recognizer
	Schema                *schema.DialogSchema
	Triggers              []*Trigger
	Selector              Selector
	AutoEndDialog         bool
	DefaultResultProperty string

	extra        []Dialog
	changeKey    string
	schemaSource func() *schema.DialogSchema

	once    sync.Once
	dialogs *DialogSet
}

// Option configures an AdaptiveDialog.
type Option func(*AdaptiveDialog)

// WithRecognizer sets the recognizer used for message activities.
func WithRecognizer(r recognizer.Recognizer) Option {
	return func(d *AdaptiveDialog) { d.Recognizer = r }
}

// WithSchema sets the property schema entities are assigned against.
func WithSchema(s *schema.DialogSchema) Option {
	return func(d *AdaptiveDialog) { d.Schema = s }
}

// WithSchemaFrom resolves the schema by name from l on every turn, so a
// hot reload takes effect without rebuilding the dialog.
func WithSchemaFrom(l *schema.Loader, name string) Option {
	return func(d *AdaptiveDialog) {
		d.schemaSource = func() *schema.DialogSchema {
			s, _ := l.Get(name)
			return s
		}
	}
}

// WithTriggers adds triggers.
func WithTriggers(triggers ...*Trigger) Option {
	return func(d *AdaptiveDialog) { d.Triggers = append(d.Triggers, triggers...) }
}

// WithSelector sets the trigger selector.
func WithSelector(s Selector) Option {
	return func(d *AdaptiveDialog) { d.Selector = s }
}

// WithAutoEndDialog sets whether the dialog ends once nothing is left to do.
func WithAutoEndDialog(v bool) Option {
	return func(d *AdaptiveDialog) { d.AutoEndDialog = v }
}

// WithResultProperty sets the memory path of the dialog result.
func WithResultProperty(path string) Option {
	return func(d *AdaptiveDialog) { d.DefaultResultProperty = path }
}

// WithDialogs registers dialogs that actions can begin by id.
func WithDialogs(ds ...Dialog) Option {
	return func(d *AdaptiveDialog) { d.extra = append(d.extra, ds...) }
}

// WithTags tags the dialog for InsertActionsBeforeTags.
func WithTags(tags ...string) Option {
	return func(d *AdaptiveDialog) { d.Tags = append(d.Tags, tags...) }
}

// NewAdaptiveDialog creates an adaptive dialog.
func NewAdaptiveDialog(id string, opts ...Option) *AdaptiveDialog {
	d := &AdaptiveDialog{
		Base:                  Base{DialogID: id},
		Selector:              MostSpecificSelector{},
		AutoEndDialog:         true,
		DefaultResultProperty: DefaultResultProperty,
		changeKey:             xid.New().String(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (ad *AdaptiveDialog) schema() *schema.DialogSchema {
	if ad.schemaSource != nil {
		if s := ad.schemaSource(); s != nil {
			return s
		}
	}
	return ad.Schema
}

func (ad *AdaptiveDialog) children() []Dialog {
	var out []Dialog
	for _, t := range ad.Triggers {
		out = append(out, t.Actions...)
	}
	return out
}

// install assigns ids and priorities and registers every action reachable
// from the triggers. It runs once.
func (ad *AdaptiveDialog) install(tmpl *Templates) {
	ad.once.Do(func() {
		if ad.changeKey == "" {
			ad.changeKey = xid.New().String()
		}
		if ad.Selector == nil {
			ad.Selector = MostSpecificSelector{}
		}
		ad.dialogs = NewDialogSet(ad.extra...)

		var (
			n        int
			register func(ds []Dialog)
		)
		register = func(ds []Dialog) {
			for _, d := range ds {
				if b, ok := d.(hasBase); ok && b.base().DialogID == "" {
					n++
					b.base().DialogID = fmt.Sprintf("%s/%s#%d", ad.ID(), kindOf(d), n)
				}
				if ad.dialogs.Find(d.ID()) == nil {
					ad.dialogs.Add(d)
				}
				if c, ok := d.(hasChildren); ok {
					register(c.children())
				}
			}
		}

		plain, sends, inputs := 0, 1000, 2000
		for i, t := range ad.Triggers {
			register(t.Actions)
			var p int
			switch {
			case containsAction(t.Actions, isInputAction):
				p = inputs
				inputs++
			case containsAction(t.Actions, sendsActivity):
				p = sends
				sends++
			default:
				p = plain
				plain++
			}
			t.install(i, p, tmpl)
		}
	})
}

type inputAction interface{ isInput() }

type activitySender interface{ sendsActivity() }

func isInputAction(d Dialog) bool {
	_, ok := d.(inputAction)
	return ok
}

func sendsActivity(d Dialog) bool {
	_, ok := d.(activitySender)
	return ok
}

func containsAction(ds []Dialog, pred func(Dialog) bool) bool {
	for _, d := range ds {
		if pred(d) {
			return true
		}
		if c, ok := d.(hasChildren); ok && containsAction(c.children(), pred) {
			return true
		}
	}
	return false
}

// state returns the adaptive state of inst, decoding it after a reload and
// storing the decoded handle back so later lookups share it.
func (ad *AdaptiveDialog) state(inst *DialogInstance) *AdaptiveDialogState {
	if st, ok := inst.State[adaptiveKey].(*AdaptiveDialogState); ok {
		return st
	}
	st, ok := memory.As[*AdaptiveDialogState](inst.State[adaptiveKey])
	if !ok || st == nil {
		st = &AdaptiveDialogState{}
	}
	if st.Actions == nil {
		st.Actions = &ActionList{}
	}
	inst.State[adaptiveKey] = st
	return st
}

func (ad *AdaptiveDialog) toActionContext(dc *DialogContext) *ActionContext {
	return &ActionContext{
		DialogContext: dc,
		Actions:       ad.state(dc.ActiveDialog()).Actions,
		dialog:        ad,
	}
}

// CreateChildContext implements Container. The child context runs the
// head action on its own stack.
func (ad *AdaptiveDialog) CreateChildContext(dc *DialogContext) *DialogContext {
	inst := dc.ActiveDialog()
	if inst == nil {
		return nil
	}
	head := ad.state(inst).Actions.Head()
	if head == nil {
		return nil
	}
	ad.install(dc.Turn.tmpl())
	return NewDialogContext(ad.dialogs, dc.Turn, &head.Stack, dc)
}

// BeginDialog implements Dialog.
func (ad *AdaptiveDialog) BeginDialog(ctx context.Context, dc *DialogContext, options any) (TurnResult, error) {
	ad.install(dc.Turn.tmpl())
	inst := dc.ActiveDialog()
	inst.State[adaptiveKey] = &AdaptiveDialogState{Options: options, Actions: &ActionList{}}

	ac := ad.toActionContext(dc)
	if opts, ok := options.(map[string]any); ok {
		for k, v := range opts {
			if err := ac.State.Set("dialog."+k, v); err != nil {
				return TurnResult{}, err
			}
		}
	}
	for _, t := range ad.Triggers {
		if t.RunOnce {
			ac.State.Track(t.Watch...)
		}
	}
	dc.Turn.notify(ctx, events.DialogStarted, events.DialogData{DialogID: ad.ID()})

	if _, err := dispatch(ctx, ad, dc, &Event{Name: EventBeginDialog, Value: options}); err != nil {
		return TurnResult{}, err
	}
	return ad.continueActions(ctx, dc)
}

// ContinueDialog implements Dialog.
func (ad *AdaptiveDialog) ContinueDialog(ctx context.Context, dc *DialogContext) (TurnResult, error) {
	ad.install(dc.Turn.tmpl())
	return ad.continueActions(ctx, dc)
}

// ResumeDialog implements Dialog.
func (ad *AdaptiveDialog) ResumeDialog(ctx context.Context, dc *DialogContext, _ Reason, _ any) (TurnResult, error) {
	ad.install(dc.Turn.tmpl())
	return ad.continueActions(ctx, dc)
}

// RepromptDialog implements Dialog by reprompting the running action.
func (ad *AdaptiveDialog) RepromptDialog(ctx context.Context, dc *DialogContext) error {
	if child := ad.CreateChildContext(dc); child != nil && child.ActiveDialog() != nil {
		return child.RepromptDialog(ctx)
	}
	return nil
}

// EndDialog implements Dialog. A cancelled dialog also ends whatever its
// running action had started.
func (ad *AdaptiveDialog) EndDialog(ctx context.Context, tc *TurnContext, inst *DialogInstance, reason Reason) error {
	st := ad.state(inst)
	if reason == ReasonCancelCalled {
		if head := st.Actions.Head(); head != nil {
			for _, child := range head.Stack {
				if d := ad.dialogs.Find(child.ID); d != nil {
					if err := d.EndDialog(ctx, tc, child, reason); err != nil {
						return err
					}
				}
			}
		}
	}
	st.Actions.Clear()
	tc.notify(ctx, events.DialogEnded, events.DialogData{DialogID: ad.ID(), Reason: string(reason)})
	return nil
}

func fingerprint(dc *DialogContext) string {
	inst := dc.ActiveDialog()
	if inst == nil {
		return ""
	}
	return strconv.Itoa(len(dc.Stack())) + ":" + inst.ID
}

// continueActions runs pending actions until one waits for input, the
// dialog leaves the stack, or nothing is left.
func (ad *AdaptiveDialog) continueActions(ctx context.Context, dc *DialogContext) (TurnResult, error) {
	ac := ad.toActionContext(dc)
	if _, err := ac.ApplyChanges(ctx); err != nil {
		return TurnResult{}, err
	}

	id := fingerprint(dc)
	child := ad.CreateChildContext(dc)
	for step := 0; child != nil; step++ {
		if step > 0 && child.ActiveDialog() != nil {
			if err := ac.State.Set(pathInterrupted, true); err != nil {
				return TurnResult{}, err
			}
		}

		result, err := child.ContinueDialog(ctx)
		if err != nil {
			return TurnResult{}, err
		}
		if result.Status == StatusEmpty && fingerprint(dc) == id {
			head := ac.Actions.Head()
			if head == nil {
				break
			}
			if result, err = child.BeginDialog(ctx, head.DialogID, head.Options); err != nil {
				return TurnResult{}, err
			}
		}

		if result.Status == StatusWaiting || fingerprint(dc) != id {
			return result, nil
		}

		ac.Actions.PopHead()

		if result.Status == StatusCompleteAndWait {
			result.Status = StatusWaiting
			return result, nil
		}

		if pending, root := ac.pendingAncestorChanges(); pending {
			return root.ContinueDialog(ctx)
		}

		if _, err := ac.ApplyChanges(ctx); err != nil {
			return TurnResult{}, err
		}
		child = ad.CreateChildContext(dc)
	}
	return ad.onEndOfActions(ctx, dc)
}

func (ad *AdaptiveDialog) onEndOfActions(ctx context.Context, dc *DialogContext) (TurnResult, error) {
	if dc.ActiveDialog() == nil {
		return TurnResult{Status: StatusCancelled}, nil
	}
	handled, err := dispatch(ctx, ad, dc, &Event{Name: EventEndOfActions})
	if err != nil {
		return TurnResult{}, err
	}
	if handled {
		return ad.continueActions(ctx, dc)
	}
	if ad.AutoEndDialog {
		result, _ := dc.State.TryGet(ad.DefaultResultProperty)
		return dc.EndDialog(ctx, result)
	}
	return EndOfTurn, nil
}

// ProcessEvent implements EventProcessor. Triggers get the first chance at
// every event; the built-in handling below only runs for events no trigger
// took.
func (ad *AdaptiveDialog) ProcessEvent(ctx context.Context, dc *DialogContext, evt *Event, preBubble bool) (bool, error) {
	ad.install(dc.Turn.tmpl())
	ac := ad.toActionContext(dc)

	if err := ac.State.Set(pathDialogEvent, evt.memory()); err != nil {
		return false, err
	}
	if evt.Name == EventActivityReceived {
		if err := ac.State.Set(pathActivity, dc.Turn.Activity.memory()); err != nil {
			return false, err
		}
	}
	counter := ac.State.Int(memory.EventCounterPath, 0) + 1
	if err := ac.State.Set(memory.EventCounterPath, counter); err != nil {
		return false, err
	}
	if evt.Name == EventRecognizedIntent {
		if err := promoteRecognized(ac.State, evt.Value); err != nil {
			return false, err
		}
	}

	handled, err := ad.queueFirstMatch(ctx, ac, evt)
	if err != nil || handled {
		return handled, err
	}

	activity := dc.Turn.Activity
	if preBubble {
		switch evt.Name {
		case EventBeginDialog:
			if !ac.State.Bool(pathActivityProcessed, false) {
				handled, err = ad.ProcessEvent(ctx, dc, &Event{Name: EventActivityReceived, Value: activity}, true)
			}
		case EventActivityReceived:
			if activity.IsMessage() {
				if _, err = ad.ProcessEvent(ctx, dc, &Event{Name: EventRecognizeUtterance, Value: activity}, true); err != nil {
					return false, err
				}
				if err = ad.processEntities(ctx, ac); err != nil {
					return false, err
				}
				recognized := ac.State.Get(pathRecognized)
				handled, err = ad.ProcessEvent(ctx, dc, &Event{Name: EventRecognizedIntent, Value: recognized}, true)
			}
			if err == nil && handled {
				err = ac.State.Set(pathInterrupted, true)
			}
		case EventRecognizeUtterance:
			if activity.IsMessage() {
				if err = ad.recognize(ctx, ac); err == nil {
					handled = true
				}
			}
		case EventRepromptDialog:
			if err = ad.RepromptDialog(ctx, dc); err == nil {
				handled = true
			}
		case EventEndOfActions:
			handled, err = ad.processQueues(ctx, ac, false)
		}
		return handled, err
	}

	switch evt.Name {
	case EventBeginDialog:
		if !ac.State.Bool(pathActivityProcessed, false) {
			handled, err = ad.ProcessEvent(ctx, dc, &Event{Name: EventActivityReceived, Value: activity}, false)
		}
	case EventActivityReceived:
		if activity.IsMessage() && ac.Actions.Len() == 0 {
			handled, err = ad.ProcessEvent(ctx, dc, &Event{Name: EventUnknownIntent}, false)
		}
		if err == nil && handled {
			err = ac.State.Set(pathInterrupted, true)
		}
	}
	return handled, err
}

// queueFirstMatch runs the selected trigger and queues its first change.
func (ad *AdaptiveDialog) queueFirstMatch(ctx context.Context, ac *ActionContext, evt *Event) (bool, error) {
	var candidates []*Trigger
	for _, t := range ad.Triggers {
		if t.Matches(ctx, ac, evt) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return false, nil
	}
	selection, err := ad.Selector.Select(ctx, ac, candidates)
	if err != nil || len(selection) == 0 {
		return false, err
	}
	chosen := selection[0]
	for _, t := range selection[1:] {
		if t.EffectivePriority() < chosen.EffectivePriority() {
			chosen = t
		}
	}
	changes, err := chosen.Execute(ctx, ac, evt)
	if err != nil || len(changes) == 0 {
		return false, err
	}
	ac.QueueChanges(changes[0])
	return true, nil
}

// recognize runs the recognizer and stores the result in turn memory with
// only its top intent.
func (ad *AdaptiveDialog) recognize(ctx context.Context, ac *ActionContext) error {
	activity := ac.Turn.Activity
	var (
		res *recognizer.Result
		err error
	)
	if activity.Text == "" {
		res = recognizer.FromCardValue(activity.Text, activity.Value)
	}
	if res == nil && ad.Recognizer != nil {
		res, err = ad.Recognizer.Recognize(ctx, recognizer.Request{
			Text:   activity.Text,
			Locale: activity.Locale,
			Value:  activity.Value,
		})
		if err != nil {
			return fmt.Errorf("recognize: %w", err)
		}
	}
	if res == nil {
		res = recognizer.None(activity.Text)
	}

	intent, score := res.TopIntent()
	entities := res.EntitiesMap()
	if entities == nil {
		entities = map[string]any{}
	}
	return setRecognized(ac.State, map[string]any{
		"text":        res.Text,
		"alteredText": res.AlteredText,
		"intent":      intent,
		"score":       score,
		"intents":     map[string]any{intent: map[string]any{"score": score}},
		"entities":    entities,
	}, intent, score)
}

// promoteRecognized writes a copy of the payload of a recognizedIntent event
// to turn memory, whoever raised it. Payloads that are not objects leave
// memory untouched.
func promoteRecognized(st *memory.State, v any) error {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	intent, _ := rec["intent"].(string)
	score, hasScore := toFloat(rec["score"])
	if intent == "" {
		intent, score = topIntentOf(rec["intents"])
	} else if !hasScore {
		intents, _ := rec["intents"].(map[string]any)
		if s, ok := intents[intent].(map[string]any); ok {
			score, _ = toFloat(s["score"])
		}
	}
	if intent == "" {
		intent = recognizer.NoneIntent
	}
	entities, _ := rec["entities"].(map[string]any)
	if entities == nil {
		entities = map[string]any{}
	}
	rec = maps.Clone(rec)
	rec["entities"] = maps.Clone(entities)
	return setRecognized(st, rec, intent, score)
}

func setRecognized(st *memory.State, recognized map[string]any, intent string, score float64) error {
	if recognized["intent"] != intent {
		recognized = maps.Clone(recognized)
		recognized["intent"] = intent
		recognized["score"] = score
	}
	for _, kv := range []struct {
		path  string
		value any
	}{
		{pathRecognized, recognized},
		{pathTopIntent, intent},
		{pathTopScore, score},
		{pathLastIntent, intent},
	} {
		if err := st.Set(kv.path, kv.value); err != nil {
			return err
		}
	}
	return nil
}

// topIntentOf picks the highest scoring entry of an intents object. Ties go
// to the alphabetically first name.
func topIntentOf(v any) (string, float64) {
	intents, _ := v.(map[string]any)
	names := slices.Sorted(maps.Keys(intents))
	top, best := "", 0.0
	for _, name := range names {
		var score float64
		if m, ok := intents[name].(map[string]any); ok {
			score, _ = toFloat(m["score"])
		}
		if top == "" || score > best {
			top, best = name, score
		}
	}
	return top, best
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// recognizedEntitiesJSON returns turn.recognized.entities as JSON.
func recognizedEntitiesJSON(st *memory.State) []byte {
	ents := st.Map(pathRecognized + ".entities")
	if len(ents) == 0 {
		return nil
	}
	raw, err := json.Marshal(ents)
	if err != nil {
		return nil
	}
	return raw
}
