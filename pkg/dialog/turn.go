package dialog

import (
	"context"

	"github.com/voicetyped/adaptive/pkg/events"
	"github.com/voicetyped/adaptive/pkg/hooks"
)

// Activity types.
const (
	ActivityMessage = "message"
	ActivityEvent   = "event"
)

// Activity is an incoming or outgoing exchange with the user.
type Activity struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Value  any    `json:"value,omitempty"`
	Name   string `json:"name,omitempty"`
	Locale string `json:"locale,omitempty"`
	From   string `json:"from,omitempty"`
}

// IsMessage reports whether a is a message activity.
func (a *Activity) IsMessage() bool {
	return a != nil && a.Type == ActivityMessage
}

func (a *Activity) memory() map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"type":   a.Type,
		"text":   a.Text,
		"value":  a.Value,
		"name":   a.Name,
		"locale": a.Locale,
		"from":   a.From,
	}
}

// TurnContext carries everything scoped to one turn: the incoming activity,
// the responses produced, turn memory, and the host services dialogs use.
type TurnContext struct {
	ConversationID string
	Activity       *Activity

	responses    []*Activity
	turn         map[string]any
	conversation map[string]any
	user         map[string]any
	changes      map[string][]*ActionChangeList

	activityEmitted bool

	templates *Templates
	hooks     *hooks.Executor
	publisher *events.Publisher
}

// NewTurnContext creates a turn for activity. The conversation and user
// bags are used as the persisted scopes; nil creates empty ones.
func NewTurnContext(conversationID string, activity *Activity, conversation, user map[string]any) *TurnContext {
	if activity == nil {
		activity = &Activity{Type: ActivityEvent}
	}
	if conversation == nil {
		conversation = map[string]any{}
	}
	if user == nil {
		user = map[string]any{}
	}
	return &TurnContext{
		ConversationID: conversationID,
		Activity:       activity,
		turn:           map[string]any{},
		conversation:   conversation,
		user:           user,
		changes:        map[string][]*ActionChangeList{},
	}
}

// Send queues an outgoing activity.
func (tc *TurnContext) Send(ctx context.Context, a *Activity) {
	if a.Type == "" {
		a.Type = ActivityMessage
	}
	tc.responses = append(tc.responses, a)
	tc.notify(ctx, events.ActivitySent, events.ActivitySentData{Type: a.Type, Text: a.Text})
}

// Responses returns the activities sent so far this turn.
func (tc *TurnContext) Responses() []*Activity {
	return tc.responses
}

// Conversation returns the persisted conversation scope.
func (tc *TurnContext) Conversation() map[string]any { return tc.conversation }

// User returns the persisted user scope.
func (tc *TurnContext) User() map[string]any { return tc.user }

func (tc *TurnContext) notify(ctx context.Context, typ events.EventType, data any) {
	_ = tc.publisher.Emit(ctx, typ, tc.ConversationID, data)
}

func (tc *TurnContext) tmpl() *Templates {
	if tc.templates == nil {
		tc.templates = NewTemplates()
	}
	return tc.templates
}
