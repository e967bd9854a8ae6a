package recognizer

import (
	"context"
	"fmt"

	"github.com/voicetyped/adaptive/pkg/hooks"
)

// HTTP delegates recognition to a remote endpoint that accepts a Request
// and answers with a Result. Calls go through the hook executor, so they
// share its URL guard and per-endpoint circuit breaker.
type HTTP struct {
	exec *hooks.Executor
	cfg  hooks.Config
}

// NewHTTP creates a remote recognizer.
func NewHTTP(exec *hooks.Executor, cfg hooks.Config) *HTTP {
	return &HTTP{exec: exec, cfg: cfg}
}

// Recognize implements Recognizer.
func (h *HTTP) Recognize(ctx context.Context, req Request) (*Result, error) {
	var res Result
	if _, err := h.exec.Call(ctx, h.cfg, req, &res); err != nil {
		return nil, fmt.Errorf("remote recognizer: %w", err)
	}
	if res.Text == "" {
		res.Text = req.Text
	}
	if len(res.Intents) == 0 {
		res.Intents = map[string]IntentScore{NoneIntent: {Score: 1}}
	}
	return &res, nil
}
