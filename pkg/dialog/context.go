package dialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/voicetyped/adaptive/pkg/memory"
)

// ErrDialogNotFound is returned when a dialog id cannot be resolved.
var ErrDialogNotFound = errors.New("dialog not found")

// DialogInstance is one entry of a dialog stack.
type DialogInstance struct {
	ID    string         `json:"id"`
	State map[string]any `json:"state"`
}

// DialogState is a persisted dialog stack. Index 0 is the active dialog.
type DialogState struct {
	Stack []*DialogInstance `json:"stack"`
}

// DialogContext is a view over one dialog stack within a turn. Nested
// contexts are created by containers for their children.
type DialogContext struct {
	Dialogs *DialogSet
	Parent  *DialogContext
	Turn    *TurnContext
	State   *memory.State

	stack *[]*DialogInstance
}

// NewDialogContext creates a context over stack.
func NewDialogContext(dialogs *DialogSet, tc *TurnContext, stack *[]*DialogInstance, parent *DialogContext) *DialogContext {
	dc := &DialogContext{Dialogs: dialogs, Parent: parent, Turn: tc, stack: stack}
	dc.State = dc.newMemory()
	return dc
}

func (dc *DialogContext) newMemory() *memory.State {
	st := memory.New()
	st.SetScope(memory.ScopeTurn, func() map[string]any { return dc.Turn.turn })
	st.SetScope(memory.ScopeConversation, func() map[string]any { return dc.Turn.conversation })
	st.SetScope(memory.ScopeUser, func() map[string]any { return dc.Turn.user })
	st.SetScope(memory.ScopeThis, func() map[string]any {
		if inst := dc.ActiveDialog(); inst != nil {
			return inst.State
		}
		return nil
	})
	st.SetScope(memory.ScopeDialog, dc.dialogScope)
	return st
}

// dialogScope binds "dialog" to the active dialog when it is a container,
// otherwise to the parent's active dialog.
func (dc *DialogContext) dialogScope() map[string]any {
	if inst := dc.ActiveDialog(); inst != nil {
		if _, ok := dc.FindDialog(inst.ID).(Container); ok {
			return inst.State
		}
	}
	if dc.Parent != nil {
		if inst := dc.Parent.ActiveDialog(); inst != nil {
			return inst.State
		}
	}
	if inst := dc.ActiveDialog(); inst != nil {
		return inst.State
	}
	return nil
}

// Stack returns the dialog stack, active dialog first.
func (dc *DialogContext) Stack() []*DialogInstance {
	return *dc.stack
}

// ActiveDialog returns the instance on top of the stack, or nil.
func (dc *DialogContext) ActiveDialog() *DialogInstance {
	if len(*dc.stack) == 0 {
		return nil
	}
	return (*dc.stack)[0]
}

// FindDialog resolves id in this context's set, then in its ancestors'.
func (dc *DialogContext) FindDialog(id string) Dialog {
	for c := dc; c != nil; c = c.Parent {
		if d := c.Dialogs.Find(id); d != nil {
			return d
		}
	}
	return nil
}

// Child returns the context of the active dialog's children, or nil.
func (dc *DialogContext) Child() *DialogContext {
	inst := dc.ActiveDialog()
	if inst == nil {
		return nil
	}
	if c, ok := dc.FindDialog(inst.ID).(Container); ok {
		return c.CreateChildContext(dc)
	}
	return nil
}

// BeginDialog pushes the dialog with id and starts it.
func (dc *DialogContext) BeginDialog(ctx context.Context, id string, options any) (TurnResult, error) {
	d := dc.FindDialog(id)
	if d == nil {
		return TurnResult{}, fmt.Errorf("begin %q: %w", id, ErrDialogNotFound)
	}
	inst := &DialogInstance{ID: id, State: map[string]any{}}
	*dc.stack = append([]*DialogInstance{inst}, *dc.stack...)
	return d.BeginDialog(ctx, dc, options)
}

// ContinueDialog continues the active dialog. The first call of a turn
// raises activityReceived from the innermost active dialog so interruptions
// are queued before anything runs.
func (dc *DialogContext) ContinueDialog(ctx context.Context) (TurnResult, error) {
	if !dc.Turn.activityEmitted {
		dc.Turn.activityEmitted = true
		if _, err := dc.EmitEvent(ctx, EventActivityReceived, dc.Turn.Activity, true, true); err != nil {
			return TurnResult{}, err
		}
	}
	inst := dc.ActiveDialog()
	if inst == nil {
		return TurnResult{Status: StatusEmpty}, nil
	}
	d := dc.FindDialog(inst.ID)
	if d == nil {
		return TurnResult{}, fmt.Errorf("continue %q: %w", inst.ID, ErrDialogNotFound)
	}
	return d.ContinueDialog(ctx, dc)
}

// EndDialog pops the active dialog and resumes the one below it with
// result. With nothing left to resume the result is Complete.
func (dc *DialogContext) EndDialog(ctx context.Context, result any) (TurnResult, error) {
	if err := dc.endActiveDialog(ctx, ReasonEndCalled); err != nil {
		return TurnResult{}, err
	}
	if inst := dc.ActiveDialog(); inst != nil {
		d := dc.FindDialog(inst.ID)
		if d == nil {
			return TurnResult{}, fmt.Errorf("resume %q: %w", inst.ID, ErrDialogNotFound)
		}
		return d.ResumeDialog(ctx, dc, ReasonEndCalled, result)
	}
	return TurnResult{Status: StatusComplete, Result: result}, nil
}

func (dc *DialogContext) endActiveDialog(ctx context.Context, reason Reason) error {
	inst := dc.ActiveDialog()
	if inst == nil {
		return nil
	}
	if d := dc.FindDialog(inst.ID); d != nil {
		if err := d.EndDialog(ctx, dc.Turn, inst, reason); err != nil {
			return fmt.Errorf("end %q: %w", inst.ID, err)
		}
	}
	*dc.stack = (*dc.stack)[1:]
	return nil
}

// CancelAllDialogs ends every dialog on this stack and, when cancelParents
// is set, on the ancestors' stacks too. A dialog above the first cancelled
// one may stop the cancellation by handling the cancelDialog event.
func (dc *DialogContext) CancelAllDialogs(ctx context.Context, cancelParents bool) (TurnResult, error) {
	if len(*dc.stack) == 0 && dc.Parent == nil {
		return TurnResult{Status: StatusEmpty}, nil
	}
	notify := false
	for c := dc; c != nil; {
		if len(*c.stack) > 0 {
			if notify {
				handled, err := c.EmitEvent(ctx, EventCancelDialog, nil, false, false)
				if err != nil {
					return TurnResult{}, err
				}
				if handled {
					break
				}
			}
			if err := c.endActiveDialog(ctx, ReasonCancelCalled); err != nil {
				return TurnResult{}, err
			}
		} else if cancelParents {
			c = c.Parent
		} else {
			c = nil
		}
		notify = true
	}
	return TurnResult{Status: StatusCancelled}, nil
}

// RepromptDialog asks the active dialog to prompt again unless a
// repromptDialog handler takes care of it.
func (dc *DialogContext) RepromptDialog(ctx context.Context) error {
	handled, err := dc.EmitEvent(ctx, EventRepromptDialog, nil, false, false)
	if err != nil || handled {
		return err
	}
	inst := dc.ActiveDialog()
	if inst == nil {
		return nil
	}
	if d := dc.FindDialog(inst.ID); d != nil {
		return d.RepromptDialog(ctx, dc)
	}
	return nil
}

// EmitEvent raises an event on the active dialog of this context, or of
// the innermost context when fromLeaf is set.
func (dc *DialogContext) EmitEvent(ctx context.Context, name string, value any, bubble, fromLeaf bool) (bool, error) {
	target := dc
	if fromLeaf {
		for child := target.Child(); child != nil && child.ActiveDialog() != nil; child = target.Child() {
			target = child
		}
	}
	inst := target.ActiveDialog()
	if inst == nil {
		return false, nil
	}
	d := target.FindDialog(inst.ID)
	if d == nil {
		return false, nil
	}
	return dispatch(ctx, d, target, &Event{Name: name, Value: value, Bubble: bubble})
}

// dispatch runs the pre-bubble phase, hands the event to the parent
// context, then runs the post-bubble phase.
func dispatch(ctx context.Context, d Dialog, dc *DialogContext, evt *Event) (bool, error) {
	proc, _ := d.(EventProcessor)
	if proc != nil {
		handled, err := proc.ProcessEvent(ctx, dc, evt, true)
		if err != nil || handled {
			return handled, err
		}
	}
	if evt.Bubble && dc.Parent != nil {
		handled, err := dc.Parent.EmitEvent(ctx, evt.Name, evt.Value, true, false)
		if err != nil || handled {
			return handled, err
		}
	}
	if proc != nil {
		return proc.ProcessEvent(ctx, dc, evt, false)
	}
	return false, nil
}

// Render expands a text template against this context's memory.
func (dc *DialogContext) Render(text string) (string, error) {
	return dc.Turn.tmpl().Render(text, dc.State)
}

// Evaluate evaluates a template condition against this context's memory.
// An empty condition is true.
func (dc *DialogContext) Evaluate(condition string) (bool, error) {
	return dc.Turn.tmpl().Eval(condition, dc.State)
}

// enclosingAdaptive returns the action context of the adaptive dialog that
// owns the actions running in dc.
func (dc *DialogContext) enclosingAdaptive() *ActionContext {
	for c := dc.Parent; c != nil; c = c.Parent {
		inst := c.ActiveDialog()
		if inst == nil {
			continue
		}
		if ad, ok := c.FindDialog(inst.ID).(*AdaptiveDialog); ok {
			return ad.toActionContext(c)
		}
	}
	return nil
}
