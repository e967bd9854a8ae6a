package hooks

// Config describes how to call an external hook endpoint.
type Config struct {
	URL        string            `yaml:"url"         json:"url"`
	AuthType   string            `yaml:"auth_type"   json:"auth_type"`   // "bearer", "hmac", "none"
	AuthSecret string            `yaml:"auth_secret" json:"auth_secret"` // token or HMAC key
	TimeoutSec int               `yaml:"timeout_sec" json:"timeout_sec"`
	Headers    map[string]string `yaml:"headers"     json:"headers,omitempty"`
}

// Request is the payload sent to a hook endpoint from a dialog.
type Request struct {
	ConversationID string         `json:"conversation_id"`
	DialogID       string         `json:"dialog_id"`
	Event          string         `json:"event,omitempty"`
	Text           string         `json:"text,omitempty"`
	Intent         string         `json:"intent,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// Response is the expected response from a hook endpoint.
type Response struct {
	Actions   []Action       `json:"actions,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Action is a directive returned by a hook. Dialogs surface it as an event
// named after Type so triggers can react to it.
type Action struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}
