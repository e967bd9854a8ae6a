package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/voicetyped/adaptive/pkg/hooks"
	"github.com/voicetyped/adaptive/pkg/memory"
)

// Paths used by input actions.
const (
	pathTurnCount        = "this.turnCount"
	pathLastTriggerEvent = "dialog.lastTriggerEvent"
	pathLastResult       = "turn.lastResult"
)

// valueOf resolves an action value: a memory path when from is set, a
// rendered template for strings, the literal otherwise.
func valueOf(dc *DialogContext, value any, from string) (any, error) {
	if from != "" {
		return dc.State.Get(from), nil
	}
	if s, ok := value.(string); ok {
		return dc.Render(s)
	}
	return value, nil
}

// endParent ends the adaptive dialog that runs the action in dc.
func endParent(ctx context.Context, dc *DialogContext, result any) (TurnResult, error) {
	if dc.Parent == nil {
		return dc.EndDialog(ctx, result)
	}
	res, err := dc.Parent.EndDialog(ctx, result)
	res.ParentEnded = true
	return res, err
}

// SendActivity sends a templated message.
type SendActivity struct {
	Base
	Text string
}

// Send creates a SendActivity action.
func Send(text string) *SendActivity { return &SendActivity{Text: text} }

func (*SendActivity) sendsActivity() {}

// BeginDialog implements Dialog.
func (a *SendActivity) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	text, err := dc.Render(a.Text)
	if err != nil {
		return TurnResult{}, fmt.Errorf("render activity text: %w", err)
	}
	dc.Turn.Send(ctx, &Activity{Type: ActivityMessage, Text: text})
	return dc.EndDialog(ctx, nil)
}

// SetProperty writes a value into memory.
type SetProperty struct {
	Base
	Property  string
	Value     any
	ValueFrom string
}

// Set creates a SetProperty action.
func Set(property string, value any) *SetProperty {
	return &SetProperty{Property: property, Value: value}
}

// BeginDialog implements Dialog.
func (a *SetProperty) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	v, err := valueOf(dc, a.Value, a.ValueFrom)
	if err != nil {
		return TurnResult{}, fmt.Errorf("render %q: %w", a.Property, err)
	}
	if err := dc.State.Set(a.Property, v); err != nil {
		return TurnResult{}, err
	}
	return dc.EndDialog(ctx, nil)
}

// DeleteProperty removes a value from memory.
type DeleteProperty struct {
	Base
	Property string
}

// Delete creates a DeleteProperty action.
func Delete(property string) *DeleteProperty { return &DeleteProperty{Property: property} }

// BeginDialog implements Dialog.
func (a *DeleteProperty) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	if err := dc.State.Remove(a.Property); err != nil {
		return TurnResult{}, err
	}
	return dc.EndDialog(ctx, nil)
}

// EmitEvent raises a custom event on the dialog that runs the action.
type EmitEvent struct {
	Base
	Name            string
	Value           any
	Bubble          bool
	HandledProperty string
}

// Emit creates an EmitEvent action.
func Emit(name string, value any) *EmitEvent { return &EmitEvent{Name: name, Value: value} }

// BeginDialog implements Dialog.
func (a *EmitEvent) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	target := dc
	if dc.Parent != nil {
		target = dc.Parent
	}
	handled, err := target.EmitEvent(ctx, a.Name, a.Value, a.Bubble, false)
	if err != nil {
		return TurnResult{}, err
	}
	if a.HandledProperty != "" {
		if err := dc.State.Set(a.HandledProperty, handled); err != nil {
			return TurnResult{}, err
		}
	}
	return dc.EndDialog(ctx, handled)
}

// EndDialog ends the adaptive dialog running the action with a value.
type EndDialog struct {
	Base
	Value     any
	ValueFrom string
}

// End creates an EndDialog action returning the value at path, or nothing
// for an empty path.
func End(path string) *EndDialog { return &EndDialog{ValueFrom: path} }

// BeginDialog implements Dialog.
func (a *EndDialog) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	v, err := valueOf(dc, a.Value, a.ValueFrom)
	if err != nil {
		return TurnResult{}, err
	}
	return endParent(ctx, dc, v)
}

// CancelAllDialogs cancels the running dialog and its ancestors.
type CancelAllDialogs struct {
	Base
}

// Cancel creates a CancelAllDialogs action.
func Cancel() *CancelAllDialogs { return &CancelAllDialogs{} }

// BeginDialog implements Dialog.
func (a *CancelAllDialogs) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	target := dc
	if dc.Parent != nil {
		target = dc.Parent
	}
	res, err := target.CancelAllDialogs(ctx, true)
	res.ParentEnded = true
	return res, err
}

// BeginDialog starts another dialog and stores its result.
type BeginDialog struct {
	Base
	Dialog         string
	Options        any
	ResultProperty string
}

// Call creates a BeginDialog action.
func Call(dialogID, resultProperty string) *BeginDialog {
	return &BeginDialog{Dialog: dialogID, ResultProperty: resultProperty}
}

// BeginDialog implements Dialog.
func (a *BeginDialog) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	return dc.BeginDialog(ctx, a.Dialog, a.Options)
}

// ResumeDialog implements Dialog.
func (a *BeginDialog) ResumeDialog(ctx context.Context, dc *DialogContext, _ Reason, result any) (TurnResult, error) {
	if a.ResultProperty != "" {
		if err := dc.State.Set(a.ResultProperty, result); err != nil {
			return TurnResult{}, err
		}
	}
	return dc.EndDialog(ctx, result)
}

// Ask prompts for one or more properties and waits. Asking again for the
// same properties from the same event counts as a retry.
type Ask struct {
	Base
	Text               string
	ExpectedProperties []string
	DefaultOperation   map[string]string
}

// AskFor creates an Ask action.
func AskFor(text string, properties ...string) *Ask {
	return &Ask{Text: text, ExpectedProperties: properties}
}

func (*Ask) isInput() {}

// BeginDialog implements Dialog.
func (a *Ask) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	trigger := dc.State.String(pathDialogEvent+".name", "")
	expected := a.ExpectedProperties
	if expected == nil {
		expected = []string{}
	}
	retries := 0
	if dc.State.String(pathLastTriggerEvent, "") == trigger && slices.Equal(dc.State.Strings(pathExpected), expected) {
		retries = dc.State.Int(pathRetries, 0) + 1
	}

	updates := map[string]any{
		pathRetries:          retries,
		pathLastTriggerEvent: trigger,
		pathExpected:         expected,
	}
	for path, v := range updates {
		if err := dc.State.Set(path, v); err != nil {
			return TurnResult{}, err
		}
	}
	if a.DefaultOperation != nil {
		if err := dc.State.Set(pathDefaultOperation, maps.Clone(a.DefaultOperation)); err != nil {
			return TurnResult{}, err
		}
	} else if err := dc.State.Remove(pathDefaultOperation); err != nil {
		return TurnResult{}, err
	}

	text, err := dc.Render(a.Text)
	if err != nil {
		return TurnResult{}, fmt.Errorf("render prompt: %w", err)
	}
	dc.Turn.Send(ctx, &Activity{Type: ActivityMessage, Text: text})
	if _, err := dc.EndDialog(ctx, nil); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Status: StatusCompleteAndWait}, nil
}

// TextInput prompts for free text and stores the reply in Property. A
// reply received while the dialog was interrupted is not consumed; the
// prompt is repeated instead.
type TextInput struct {
	Base
	Prompt       string
	Property     string
	AlwaysPrompt bool
	// MaxTurnCount limits the number of prompts; zero means unlimited.
	MaxTurnCount int
	DefaultValue any
}

// Input creates a TextInput action.
func Input(prompt, property string) *TextInput {
	return &TextInput{Prompt: prompt, Property: property}
}

func (*TextInput) isInput() {}

// BeginDialog implements Dialog.
func (a *TextInput) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	if !a.AlwaysPrompt && a.Property != "" {
		if v, ok := dc.State.TryGet(a.Property); ok && v != nil && v != "" {
			return dc.EndDialog(ctx, v)
		}
	}
	if err := dc.State.Set(pathTurnCount, 1); err != nil {
		return TurnResult{}, err
	}
	if err := a.RepromptDialog(ctx, dc); err != nil {
		return TurnResult{}, err
	}
	return EndOfTurn, nil
}

// ContinueDialog implements Dialog.
func (a *TextInput) ContinueDialog(ctx context.Context, dc *DialogContext) (TurnResult, error) {
	activity := dc.Turn.Activity
	if !activity.IsMessage() {
		return EndOfTurn, nil
	}
	interrupted := dc.State.Bool(pathInterrupted, false)
	turnCount := dc.State.Int(pathTurnCount, 0)

	if text := strings.TrimSpace(activity.Text); !interrupted && text != "" {
		if a.Property != "" {
			if err := dc.State.Set(a.Property, text); err != nil {
				return TurnResult{}, err
			}
		}
		if err := dc.State.Set(pathActivityProcessed, true); err != nil {
			return TurnResult{}, err
		}
		return dc.EndDialog(ctx, text)
	}

	if a.MaxTurnCount == 0 || turnCount < a.MaxTurnCount {
		if err := dc.State.Set(pathTurnCount, turnCount+1); err != nil {
			return TurnResult{}, err
		}
		if err := a.RepromptDialog(ctx, dc); err != nil {
			return TurnResult{}, err
		}
		return EndOfTurn, nil
	}

	if a.DefaultValue != nil && a.Property != "" {
		if err := dc.State.Set(a.Property, a.DefaultValue); err != nil {
			return TurnResult{}, err
		}
	}
	return dc.EndDialog(ctx, a.DefaultValue)
}

// RepromptDialog implements Dialog.
func (a *TextInput) RepromptDialog(ctx context.Context, dc *DialogContext) error {
	text, err := dc.Render(a.Prompt)
	if err != nil {
		return fmt.Errorf("render prompt: %w", err)
	}
	dc.Turn.Send(ctx, &Activity{Type: ActivityMessage, Text: text})
	return nil
}

func actionStates(ds []Dialog) []*ActionState {
	out := make([]*ActionState, 0, len(ds))
	for _, d := range ds {
		out = append(out, &ActionState{DialogID: d.ID()})
	}
	return out
}

// EditActions changes the pending actions of the dialog running it.
type EditActions struct {
	Base
	ChangeType ChangeType
	Actions    []Dialog
	Tags       []string
}

// Edit creates an EditActions action.
func Edit(change ChangeType, actions ...Dialog) *EditActions {
	return &EditActions{ChangeType: change, Actions: actions}
}

func (a *EditActions) children() []Dialog { return a.Actions }

// BeginDialog implements Dialog.
func (a *EditActions) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	ac := dc.enclosingAdaptive()
	if ac == nil {
		return TurnResult{}, fmt.Errorf("%s: no adaptive dialog to edit", a.ID())
	}
	ac.QueueChanges(&ActionChangeList{
		ChangeType: a.ChangeType,
		Actions:    actionStates(a.Actions),
		Tags:       a.Tags,
	})
	return dc.EndDialog(ctx, nil)
}

// IfCondition inserts one of two branches depending on a condition.
type IfCondition struct {
	Base
	Condition   string
	Actions     []Dialog
	ElseActions []Dialog
}

// If creates an IfCondition action.
func If(condition string, actions ...Dialog) *IfCondition {
	return &IfCondition{Condition: condition, Actions: actions}
}

// Else sets the actions run when the condition is false.
func (a *IfCondition) Else(actions ...Dialog) *IfCondition {
	a.ElseActions = actions
	return a
}

func (a *IfCondition) children() []Dialog {
	return append(slices.Clone(a.Actions), a.ElseActions...)
}

// BeginDialog implements Dialog.
func (a *IfCondition) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	ok, err := dc.Evaluate(a.Condition)
	if err != nil {
		slog.DebugContext(ctx, "if condition failed",
			slog.String("action", a.ID()),
			slog.String("error", err.Error()))
	}
	branch := a.ElseActions
	if ok {
		branch = a.Actions
	}
	if len(branch) > 0 {
		ac := dc.enclosingAdaptive()
		if ac == nil {
			return TurnResult{}, fmt.Errorf("%s: no adaptive dialog to run branch", a.ID())
		}
		ac.QueueChanges(&ActionChangeList{ChangeType: InsertActions, Actions: actionStates(branch)})
	}
	return dc.EndDialog(ctx, nil)
}

// CallHook calls an external HTTP hook. Returned variables are written to
// dialog memory and returned data to turn.lastResult. The hook may also
// reply with actions: send_activity, set_property and end_dialog. Hook
// failures do not fail the turn; the error is left in
// turn.lastResult.error.
type CallHook struct {
	Base
	Hook hooks.Config
}

// Hook creates a CallHook action.
func Hook(cfg hooks.Config) *CallHook { return &CallHook{Hook: cfg} }

// BeginDialog implements Dialog.
func (a *CallHook) BeginDialog(ctx context.Context, dc *DialogContext, _ any) (TurnResult, error) {
	if dc.Turn.hooks == nil {
		return TurnResult{}, fmt.Errorf("%s: no hook executor configured", a.ID())
	}

	dialogID := ""
	if dc.Parent != nil {
		if inst := dc.Parent.ActiveDialog(); inst != nil {
			dialogID = inst.ID
		}
	}
	variables := make(map[string]any)
	for k, v := range dc.State.Scope(memory.ScopeDialog) {
		if !strings.HasPrefix(k, "_") {
			variables[k] = v
		}
	}
	req := hooks.Request{
		ConversationID: dc.Turn.ConversationID,
		DialogID:       dialogID,
		Event:          dc.State.String(pathDialogEvent+".name", ""),
		Text:           dc.Turn.Activity.Text,
		Intent:         dc.State.String(pathRecognized+".intent", ""),
		Variables:      variables,
	}

	resp, err := dc.Turn.hooks.Execute(ctx, a.Hook, req)
	if err != nil {
		slog.WarnContext(ctx, "hook call failed",
			slog.String("url", a.Hook.URL),
			slog.String("error", err.Error()))
		if err := dc.State.Set(pathLastResult, map[string]any{"error": err.Error()}); err != nil {
			return TurnResult{}, err
		}
		return dc.EndDialog(ctx, nil)
	}

	for k, v := range resp.Variables {
		if err := dc.State.Set("dialog."+k, v); err != nil {
			return TurnResult{}, err
		}
	}
	data := resp.Data
	if data == nil {
		data = map[string]any{}
	}
	if err := dc.State.Set(pathLastResult, data); err != nil {
		return TurnResult{}, err
	}

	for _, action := range resp.Actions {
		switch action.Type {
		case "send_activity":
			text, err := dc.Render(action.Params["text"])
			if err != nil {
				return TurnResult{}, fmt.Errorf("render hook text: %w", err)
			}
			dc.Turn.Send(ctx, &Activity{Type: ActivityMessage, Text: text})
		case "set_property":
			if err := dc.State.Set(action.Params["property"], action.Params["value"]); err != nil {
				return TurnResult{}, err
			}
		case "end_dialog":
			return endParent(ctx, dc, action.Params["value"])
		default:
			slog.DebugContext(ctx, "ignoring hook action", slog.String("type", action.Type))
		}
	}
	return dc.EndDialog(ctx, data)
}
