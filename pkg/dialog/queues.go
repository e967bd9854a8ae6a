package dialog

import (
	"context"
	"fmt"

	"github.com/voicetyped/adaptive/pkg/entity"
	"github.com/voicetyped/adaptive/pkg/events"
	"github.com/voicetyped/adaptive/pkg/memory"
)

// assignments returns the pending assignment queue of the dialog in ac,
// creating it when absent.
func (ad *AdaptiveDialog) assignments(ac *ActionContext) (*entity.Assignments, error) {
	v := ac.State.Get(pathAssignments)
	q, ok := v.(*entity.Assignments)
	if !ok {
		q, ok = memory.As[*entity.Assignments](v)
		if !ok || q == nil {
			q = &entity.Assignments{}
		}
		if err := ac.State.Set(pathAssignments, q); err != nil {
			return nil, fmt.Errorf("%s: assignment queue: %w", ad.ID(), err)
		}
	}
	return q, nil
}

// Assignments returns the pending assignments of the adaptive dialog
// active in dc.
func (ad *AdaptiveDialog) Assignments(dc *DialogContext) (*entity.Assignments, error) {
	return ad.assignments(ad.toActionContext(dc))
}

func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

// processEntities turns the recognized entities of this turn into queued
// property assignments and records what the utterance did and did not
// contribute.
func (ad *AdaptiveDialog) processEntities(ctx context.Context, ac *ActionContext) error {
	s := ad.schema()
	if s == nil {
		return nil
	}

	text := ac.Turn.Activity.Text
	lastEvent := ac.State.String(pathLastEvent, "")
	if err := ac.State.Remove(pathLastEvent); err != nil {
		return err
	}
	counter := ac.State.Int(memory.EventCounterPath, 0)

	ents := entity.NormalizeJSON(text, recognizedEntitiesJSON(ac.State), s.Operations(), s.PropertyNames(), counter)
	if ents == nil {
		ents = map[string][]*entity.Info{}
	}
	if text != "" {
		ents[entity.UtteranceName] = append(ents[entity.UtteranceName], entity.Utterance(text, counter))
	}

	queue, err := ad.assignments(ac)
	if err != nil {
		return err
	}
	res := entity.AssignEntities(entity.AssignInput{
		Entities:    ents,
		Expected:    ac.State.Strings(pathExpected),
		LastEvent:   lastEvent,
		AskDefaults: stringMap(ac.State.Get(pathDefaultOperation)),
		Schema:      s,
		Queue:       queue,
	})
	if res.Expected != nil {
		if err := ac.State.Set(pathExpected, res.Expected); err != nil {
			return err
		}
	}
	if err := ac.State.Set(pathRecognizedEntities, res.Recognized); err != nil {
		return err
	}
	if err := ac.State.Set(pathUnrecognizedText, entity.SplitUtterance(text, res.Recognized)); err != nil {
		return err
	}

	if next := queue.Next(); next != nil {
		ac.Turn.notify(ctx, events.AssignmentQueued, assignmentData(next, queue.Len()))
	}
	return nil
}

func assignmentData(a *entity.Assignment, pending int) events.AssignmentData {
	data := events.AssignmentData{
		Event:     a.Event,
		Property:  a.Property,
		Operation: a.Operation,
		Pending:   pending,
	}
	if a.Value != nil {
		data.Entity = a.Value.Name
	}
	return data
}

// processQueues raises the event of the head assignment. Unhandled
// assignments are dropped and the next one is tried; once the queue has
// been drained, endOfActions is offered to the triggers again.
func (ad *AdaptiveDialog) processQueues(ctx context.Context, ac *ActionContext, drained bool) (bool, error) {
	queue, err := ad.assignments(ac)
	if err != nil {
		return false, err
	}
	head := queue.Next()
	if head == nil {
		if !drained {
			return false, nil
		}
		return ad.queueFirstMatch(ctx, ac, &Event{Name: EventEndOfActions})
	}

	var value any = head
	if head.HasAlternatives() {
		value = head.All()
	}
	if head.RaisedCount == 0 {
		if err := ac.State.Remove(pathRetries); err != nil {
			return false, err
		}
	}
	head.RaisedCount++

	if head.Event == entity.EventAssignEntity {
		list, ok := head.Value.Value.([]any)
		if !ok {
			list = []any{head.Value.Value}
		}
		if err := ac.State.Set(pathRecognized+".entities."+head.Value.Name, list); err != nil {
			return false, err
		}
		queue.Dequeue()
	}
	if err := ac.State.Set(pathLastEvent, head.Event); err != nil {
		return false, err
	}
	ac.Turn.notify(ctx, events.AssignmentRaised, assignmentData(head, queue.Len()))

	handled, err := ad.ProcessEvent(ctx, ac.DialogContext, &Event{Name: head.Event, Value: value}, true)
	if err != nil || handled {
		return handled, err
	}
	if head.Event != entity.EventAssignEntity && queue.Next() == head {
		queue.Dequeue()
	}
	return ad.processQueues(ctx, ac, true)
}
