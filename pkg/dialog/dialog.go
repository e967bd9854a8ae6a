// Package dialog is the adaptive dialog runtime: a stack of dialog
// instances driven by events, an action sequencer per adaptive dialog, and
// the host Manager that runs one turn at a time per conversation.
package dialog

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Dialog events raised by the runtime.
const (
	EventBeginDialog        = "beginDialog"
	EventRepromptDialog     = "repromptDialog"
	EventCancelDialog       = "cancelDialog"
	EventActivityReceived   = "activityReceived"
	EventRecognizeUtterance = "recognizeUtterance"
	EventRecognizedIntent   = "recognizedIntent"
	EventUnknownIntent      = "unknownIntent"
	EventEndOfActions       = "endOfActions"
	EventActionsStarted     = "actionsStarted"
	EventActionsEnded       = "actionsEnded"
)

// TurnStatus reports how a dialog turn ended.
type TurnStatus string

const (
	StatusEmpty           TurnStatus = "empty"
	StatusWaiting         TurnStatus = "waiting"
	StatusComplete        TurnStatus = "complete"
	StatusCompleteAndWait TurnStatus = "completeAndWait"
	StatusCancelled       TurnStatus = "cancelled"
)

// TurnResult is returned by dialog operations.
type TurnResult struct {
	Status TurnStatus `json:"status"`
	Result any        `json:"result,omitempty"`
	// ParentEnded is set when an action ended the dialog that contains it.
	ParentEnded bool `json:"parentEnded,omitempty"`
}

// EndOfTurn is the result of a dialog waiting for the next activity.
var EndOfTurn = TurnResult{Status: StatusWaiting}

// Reason says why a dialog was resumed or ended.
type Reason string

const (
	ReasonBeginCalled  Reason = "beginCalled"
	ReasonEndCalled    Reason = "endCalled"
	ReasonCancelCalled Reason = "cancelCalled"
)

// Event is an event travelling through the dialog stack.
type Event struct {
	Name   string `json:"name"`
	Value  any    `json:"value,omitempty"`
	Bubble bool   `json:"bubble"`
}

func (e *Event) memory() map[string]any {
	return map[string]any{"name": e.Name, "value": e.Value, "bubble": e.Bubble}
}

// Dialog is one step of conversation logic. Actions and adaptive dialogs
// both implement it.
type Dialog interface {
	ID() string
	BeginDialog(ctx context.Context, dc *DialogContext, options any) (TurnResult, error)
	ContinueDialog(ctx context.Context, dc *DialogContext) (TurnResult, error)
	ResumeDialog(ctx context.Context, dc *DialogContext, reason Reason, result any) (TurnResult, error)
	RepromptDialog(ctx context.Context, dc *DialogContext) error
	EndDialog(ctx context.Context, tc *TurnContext, instance *DialogInstance, reason Reason) error
}

// EventProcessor is implemented by dialogs that handle events. ProcessEvent
// is called once before the event bubbles to the parent context and once
// after, if nothing handled it.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, dc *DialogContext, evt *Event, preBubble bool) (bool, error)
}

// Container is implemented by dialogs that run their own child stack.
type Container interface {
	CreateChildContext(dc *DialogContext) *DialogContext
}

// Base holds what every action shares and supplies default behavior: a
// continued or resumed action simply ends.
type Base struct {
	DialogID string
	Tags     []string
}

func (b *Base) base() *Base { return b }

// ID implements Dialog.
func (b *Base) ID() string { return b.DialogID }

// ContinueDialog implements Dialog.
func (b *Base) ContinueDialog(ctx context.Context, dc *DialogContext) (TurnResult, error) {
	return dc.EndDialog(ctx, nil)
}

// ResumeDialog implements Dialog.
func (b *Base) ResumeDialog(ctx context.Context, dc *DialogContext, _ Reason, result any) (TurnResult, error) {
	return dc.EndDialog(ctx, result)
}

// RepromptDialog implements Dialog.
func (b *Base) RepromptDialog(context.Context, *DialogContext) error { return nil }

// EndDialog implements Dialog.
func (b *Base) EndDialog(context.Context, *TurnContext, *DialogInstance, Reason) error { return nil }

type hasBase interface{ base() *Base }

type hasChildren interface{ children() []Dialog }

func dialogTags(d Dialog) []string {
	if b, ok := d.(hasBase); ok {
		return b.base().Tags
	}
	return nil
}

func kindOf(d Dialog) string {
	name := fmt.Sprintf("%T", d)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// DialogSet is a set of dialogs addressable by id.
type DialogSet struct {
	mu      sync.RWMutex
	dialogs map[string]Dialog
}

// NewDialogSet creates a set holding ds.
func NewDialogSet(ds ...Dialog) *DialogSet {
	s := &DialogSet{dialogs: make(map[string]Dialog)}
	for _, d := range ds {
		s.Add(d)
	}
	return s
}

// Add registers d, replacing any dialog with the same id.
func (s *DialogSet) Add(d Dialog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogs[d.ID()] = d
}

// Find returns the dialog with id, or nil.
func (s *DialogSet) Find(id string) Dialog {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dialogs[id]
}

// IDs returns the registered ids, sorted.
func (s *DialogSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.dialogs))
	for id := range s.dialogs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
