package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	TurnStarted       EventType = "turn.started"
	TurnCompleted     EventType = "turn.completed"
	DialogStarted     EventType = "dialog.started"
	DialogEnded       EventType = "dialog.ended"
	TriggerFired      EventType = "trigger.fired"
	AssignmentQueued  EventType = "assignment.queued"
	AssignmentRaised  EventType = "assignment.raised"
	ActivitySent      EventType = "activity.sent"
	HookResult        EventType = "hook.result"
	HookError         EventType = "hook.error"
	ConversationEnded EventType = "conversation.ended"
	SystemError       EventType = "error"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"type"`
	Source         string            `json:"source"`
	ConversationID string            `json:"conversation_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Data           json.RawMessage   `json:"data"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TurnStartedData is the payload for turn.started events.
type TurnStartedData struct {
	ActivityType string `json:"activity_type"`
	Text         string `json:"text,omitempty"`
}

// TurnCompletedData is the payload for turn.completed events.
type TurnCompletedData struct {
	Status     string `json:"status"`
	Responses  int    `json:"responses"`
	DurationMs int64  `json:"duration_ms"`
}

// DialogData is the payload for dialog.started and dialog.ended events.
type DialogData struct {
	DialogID string `json:"dialog_id"`
	Reason   string `json:"reason,omitempty"`
}

// TriggerFiredData is the payload for trigger.fired events.
type TriggerFiredData struct {
	DialogID  string `json:"dialog_id"`
	TriggerID string `json:"trigger_id"`
	Event     string `json:"event"`
	Priority  int    `json:"priority"`
}

// AssignmentData is the payload for assignment.queued and assignment.raised
// events.
type AssignmentData struct {
	Event     string `json:"event"`
	Property  string `json:"property,omitempty"`
	Operation string `json:"operation,omitempty"`
	Entity    string `json:"entity,omitempty"`
	Pending   int    `json:"pending"`
}

// ActivitySentData is the payload for activity.sent events.
type ActivitySentData struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// HookResultData is the payload for hook.result events.
type HookResultData struct {
	HookURL    string         `json:"hook_url"`
	StatusCode int            `json:"status_code"`
	Response   map[string]any `json:"response,omitempty"`
}

// HookErrorData is the payload for hook.error events.
type HookErrorData struct {
	HookURL string `json:"hook_url"`
	Error   string `json:"error"`
}

// ConversationEndedData is the payload for conversation.ended events.
type ConversationEndedData struct {
	Reason string `json:"reason"`
	IdleMs int64  `json:"idle_ms,omitempty"`
}
