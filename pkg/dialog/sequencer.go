package dialog

import (
	"context"
	"encoding/json"
	"slices"
)

// ChangeType says how an ActionChangeList edits the pending actions.
type ChangeType string

const (
	InsertActions           ChangeType = "insertActions"
	InsertActionsBeforeTags ChangeType = "insertActionsBeforeTags"
	AppendActions           ChangeType = "appendActions"
	EndSequence             ChangeType = "endSequence"
	ReplaceSequence         ChangeType = "replaceSequence"
)

// ActionState is one pending action. Stack holds the action's own dialog
// stack once it has begun.
type ActionState struct {
	DialogID string            `json:"dialogId"`
	Options  any               `json:"options,omitempty"`
	Stack    []*DialogInstance `json:"stack,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
}

// ActionChangeList is a requested edit of the pending actions. Turn holds
// turn memory to write when the edit is applied.
type ActionChangeList struct {
	ChangeType ChangeType     `json:"changeType"`
	Actions    []*ActionState `json:"actions,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Turn       map[string]any `json:"turn,omitempty"`
}

// ActionList is the pending action sequence of one adaptive dialog. The
// list is only ever edited through its handle, so references held by
// persisted state stay valid for the whole turn.
type ActionList struct {
	items []*ActionState
}

// Len returns the number of pending actions.
func (l *ActionList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Head returns the next action or nil.
func (l *ActionList) Head() *ActionState {
	if l.Len() == 0 {
		return nil
	}
	return l.items[0]
}

// PopHead removes the next action.
func (l *ActionList) PopHead() *ActionState {
	if l.Len() == 0 {
		return nil
	}
	head := l.items[0]
	l.items = l.items[1:]
	return head
}

// Prepend inserts actions ahead of the pending ones.
func (l *ActionList) Prepend(actions ...*ActionState) {
	l.items = append(slices.Clone(actions), l.items...)
}

// Append adds actions after the pending ones.
func (l *ActionList) Append(actions ...*ActionState) {
	l.items = append(l.items, actions...)
}

// Insert adds actions before position i.
func (l *ActionList) Insert(i int, actions ...*ActionState) {
	l.items = slices.Insert(l.items, i, actions...)
}

// Clear drops every pending action.
func (l *ActionList) Clear() {
	l.items = nil
}

// Items returns a copy of the pending actions.
func (l *ActionList) Items() []*ActionState {
	if l == nil {
		return nil
	}
	return slices.Clone(l.items)
}

// MarshalJSON implements json.Marshaler.
func (l *ActionList) MarshalJSON() ([]byte, error) {
	if l == nil || l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *ActionList) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &l.items)
}

// AdaptiveDialogState is what an adaptive dialog keeps in its instance.
type AdaptiveDialogState struct {
	Options any         `json:"options,omitempty"`
	Actions *ActionList `json:"actions"`
	Result  any         `json:"result,omitempty"`
}

// ActionContext is the dialog context of an adaptive dialog together with
// its pending actions and turn-scoped change queue.
type ActionContext struct {
	*DialogContext
	Actions *ActionList

	dialog *AdaptiveDialog
}

// Changes returns the queued, not yet applied changes.
func (ac *ActionContext) Changes() []*ActionChangeList {
	return ac.Turn.changes[ac.dialog.changeKey]
}

// QueueChanges adds change to the turn-scoped change queue.
func (ac *ActionContext) QueueChanges(change *ActionChangeList) {
	ac.Turn.changes[ac.dialog.changeKey] = append(ac.Turn.changes[ac.dialog.changeKey], change)
}

// ApplyChanges applies queued changes in order until the queue stays
// empty and reports whether anything was applied. Applying a change may
// raise events whose handlers queue further changes.
func (ac *ActionContext) ApplyChanges(ctx context.Context) (bool, error) {
	changes := ac.Changes()
	if len(changes) == 0 {
		return false, nil
	}
	delete(ac.Turn.changes, ac.dialog.changeKey)

	for _, change := range changes {
		for key, value := range change.Turn {
			if err := ac.State.Set("turn."+key, value); err != nil {
				return false, err
			}
		}
		switch change.ChangeType {
		case EndSequence:
			ac.Actions.Clear()
			if _, err := ac.EmitEvent(ctx, EventActionsEnded, nil, false, false); err != nil {
				return false, err
			}
		case ReplaceSequence:
			ac.Actions.Clear()
			if err := ac.updateSequence(ctx, change); err != nil {
				return false, err
			}
		default:
			if err := ac.updateSequence(ctx, change); err != nil {
				return false, err
			}
		}
	}

	if _, err := ac.ApplyChanges(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (ac *ActionContext) updateSequence(ctx context.Context, change *ActionChangeList) error {
	started := ac.Actions.Len() == 0

	switch change.ChangeType {
	case InsertActions, "":
		ac.Actions.Prepend(change.Actions...)
	case InsertActionsBeforeTags:
		at := -1
		if len(change.Tags) > 0 {
			at = slices.IndexFunc(ac.Actions.items, func(s *ActionState) bool {
				return ac.hasTags(s, change.Tags)
			})
		}
		if at >= 0 {
			ac.Actions.Insert(at, change.Actions...)
		} else {
			ac.Actions.Append(change.Actions...)
		}
	case AppendActions, ReplaceSequence:
		ac.Actions.Append(change.Actions...)
	}

	if started && ac.Actions.Len() > 0 {
		if _, err := ac.EmitEvent(ctx, EventActionsStarted, nil, false, false); err != nil {
			return err
		}
	}
	return nil
}

func (ac *ActionContext) hasTags(s *ActionState, tags []string) bool {
	own := s.Tags
	if d := ac.dialog.dialogs.Find(s.DialogID); d != nil {
		own = append(slices.Clone(own), dialogTags(d)...)
	}
	return slices.ContainsFunc(tags, func(t string) bool { return slices.Contains(own, t) })
}

// pendingAncestorChanges reports whether an enclosing adaptive dialog has
// queued changes, and returns the outermost context.
func (ac *ActionContext) pendingAncestorChanges() (bool, *DialogContext) {
	pending := false
	root := ac.DialogContext
	for parent := ac.Parent; parent != nil; parent = parent.Parent {
		if inst := parent.ActiveDialog(); inst != nil {
			if ad, ok := parent.FindDialog(inst.ID).(*AdaptiveDialog); ok && len(parent.Turn.changes[ad.changeKey]) > 0 {
				pending = true
			}
		}
		root = parent
	}
	return pending, root
}
