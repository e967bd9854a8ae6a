package dialog

import (
	"context"
	"log/slog"
	"slices"
	"strconv"

	"github.com/voicetyped/adaptive/pkg/entity"
	"github.com/voicetyped/adaptive/pkg/events"
	"github.com/voicetyped/adaptive/pkg/memory"
)

// Trigger pairs an event and a set of constraints with the actions to run
// when they match.
type Trigger struct {
	// ID is assigned when the owning dialog is installed.
	ID    string
	Event string

	Intent    string
	Entities  []string
	Property  string
	Entity    string
	Operation string
	Condition string

	// Priority orders matches, lowest first. Zero means assigned
	// automatically from the kind of actions the trigger runs.
	Priority int
	// RunOnce triggers fire again only after one of Watch changes. Watch
	// defaults to the memory paths read by Condition.
	RunOnce bool
	Watch   []string

	Actions []Dialog

	priority int
}

// OnBeginDialog fires when the dialog starts.
func OnBeginDialog(actions ...Dialog) *Trigger {
	return &Trigger{Event: EventBeginDialog, Actions: actions}
}

// OnIntent fires when intent is the top recognized intent.
func OnIntent(intent string, actions ...Dialog) *Trigger {
	return &Trigger{Event: EventRecognizedIntent, Intent: intent, Actions: actions}
}

// OnUnknownIntent fires for a message nothing else handled.
func OnUnknownIntent(actions ...Dialog) *Trigger {
	return &Trigger{Event: EventUnknownIntent, Actions: actions}
}

// OnEndOfActions fires when the pending actions run out.
func OnEndOfActions(actions ...Dialog) *Trigger {
	return &Trigger{Event: EventEndOfActions, Actions: actions}
}

// OnEvent fires for a named event.
func OnEvent(name string, actions ...Dialog) *Trigger {
	return &Trigger{Event: name, Actions: actions}
}

// OnAssignEntity fires when an entity is assigned to property. Empty
// arguments match anything.
func OnAssignEntity(property, entityName string, actions ...Dialog) *Trigger {
	return &Trigger{Event: entity.EventAssignEntity, Property: property, Entity: entityName, Actions: actions}
}

// OnChooseProperty fires when an entity could fill more than one property.
func OnChooseProperty(actions ...Dialog) *Trigger {
	return &Trigger{Event: entity.EventChooseProperty, Actions: actions}
}

// OnChooseEntity fires when property received more than one value.
func OnChooseEntity(property string, actions ...Dialog) *Trigger {
	return &Trigger{Event: entity.EventChooseEntity, Property: property, Actions: actions}
}

// OnCancelDialog fires when the dialog is about to be cancelled.
func OnCancelDialog(actions ...Dialog) *Trigger {
	return &Trigger{Event: EventCancelDialog, Actions: actions}
}

// OnRepromptDialog fires when the dialog is asked to reprompt.
func OnRepromptDialog(actions ...Dialog) *Trigger {
	return &Trigger{Event: EventRepromptDialog, Actions: actions}
}

// OnActionsStarted fires when actions are queued on an empty sequence.
func OnActionsStarted(actions ...Dialog) *Trigger {
	return &Trigger{Event: EventActionsStarted, Actions: actions}
}

// OnActionsEnded fires when the sequence is ended.
func OnActionsEnded(actions ...Dialog) *Trigger {
	return &Trigger{Event: EventActionsEnded, Actions: actions}
}

// WithEntities requires the recognized entities to include names.
func (t *Trigger) WithEntities(names ...string) *Trigger {
	t.Entities = append(t.Entities, names...)
	return t
}

// When adds a template condition.
func (t *Trigger) When(condition string) *Trigger {
	t.Condition = condition
	return t
}

// Once makes the trigger run once until one of watch changes.
func (t *Trigger) Once(watch ...string) *Trigger {
	t.RunOnce = true
	t.Watch = append(t.Watch, watch...)
	return t
}

// WithPriority sets an explicit priority.
func (t *Trigger) WithPriority(p int) *Trigger {
	t.Priority = p
	return t
}

// EffectivePriority is the priority used for selection.
func (t *Trigger) EffectivePriority() int {
	if t.Priority != 0 {
		return t.Priority
	}
	return t.priority
}

// Specificity counts the constraints the trigger places on an event.
func (t *Trigger) Specificity() int {
	n := len(t.Entities)
	for _, c := range []string{t.Intent, t.Property, t.Entity, t.Operation, t.Condition} {
		if c != "" {
			n++
		}
	}
	return n
}

func (t *Trigger) lastRunPath() string {
	return "dialog._tracker.triggers." + t.ID + ".lastRun"
}

// Matches reports whether the trigger applies to evt in ac. A condition
// that fails to evaluate does not match.
func (t *Trigger) Matches(ctx context.Context, ac *ActionContext, evt *Event) bool {
	if evt.Name != t.Event {
		return false
	}
	if t.Intent != "" && ac.State.String("turn.recognized.intent", "") != t.Intent {
		return false
	}
	for _, name := range t.Entities {
		if v, ok := ac.State.TryGet("turn.recognized.entities." + name); !ok || v == nil {
			return false
		}
	}
	if t.Property != "" || t.Entity != "" || t.Operation != "" {
		if !slices.ContainsFunc(assignmentsOf(evt.Value), t.matchesAssignment) {
			return false
		}
	}
	if t.Condition != "" {
		ok, err := ac.Evaluate(t.Condition)
		if err != nil {
			slog.DebugContext(ctx, "trigger condition failed",
				slog.String("trigger", t.ID),
				slog.String("condition", t.Condition),
				slog.String("error", err.Error()))
			return false
		}
		if !ok {
			return false
		}
	}
	if t.RunOnce {
		if last, ok := memory.ToInt(ac.State.Get(t.lastRunPath())); ok {
			return ac.State.Changed(t.Watch, last)
		}
	}
	return true
}

func (t *Trigger) matchesAssignment(a *entity.Assignment) bool {
	if t.Property != "" && a.Property != t.Property {
		return false
	}
	if t.Entity != "" && (a.Value == nil || a.Value.Name != t.Entity) {
		return false
	}
	if t.Operation != "" && a.Operation != t.Operation {
		return false
	}
	return true
}

func assignmentsOf(v any) []*entity.Assignment {
	switch a := v.(type) {
	case *entity.Assignment:
		return []*entity.Assignment{a}
	case []*entity.Assignment:
		return a
	}
	return nil
}

// Execute records the run and returns the change that queues the
// trigger's actions.
func (t *Trigger) Execute(ctx context.Context, ac *ActionContext, evt *Event) ([]*ActionChangeList, error) {
	if t.RunOnce {
		if err := ac.State.Set(t.lastRunPath(), ac.State.Int(memory.EventCounterPath, 0)); err != nil {
			return nil, err
		}
	}
	ac.Turn.notify(ctx, events.TriggerFired, events.TriggerFiredData{
		DialogID:  ac.dialog.ID(),
		TriggerID: t.ID,
		Event:     evt.Name,
		Priority:  t.EffectivePriority(),
	})
	if len(t.Actions) == 0 {
		return nil, nil
	}
	change := &ActionChangeList{ChangeType: InsertActions}
	for _, a := range t.Actions {
		change.Actions = append(change.Actions, &ActionState{DialogID: a.ID()})
	}
	return []*ActionChangeList{change}, nil
}

// install assigns the trigger id and default priority and derives watch
// paths from the condition.
func (t *Trigger) install(index int, priority int, tmpl *Templates) {
	t.ID = strconv.Itoa(index)
	t.priority = priority
	if t.RunOnce && len(t.Watch) == 0 && t.Condition != "" {
		if refs, err := tmpl.References(t.Condition); err == nil {
			t.Watch = refs
		}
	}
}
