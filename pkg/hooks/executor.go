package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/voicetyped/adaptive/pkg/events"
)

// SignatureHeader carries the HMAC signature of the request body.
const SignatureHeader = "X-Hook-Signature"

const maxBreakers = 10000

// ErrCircuitOpen is returned while an endpoint's breaker is open.
var ErrCircuitOpen = errors.New("hook circuit open")

// Option configures an Executor.
type Option func(*Executor)

// WithGuard replaces the URL guard.
func WithGuard(g Guard) Option {
	return func(e *Executor) { e.guard = g }
}

// AllowPrivateIPs disables the private address check. Use only in tests.
func AllowPrivateIPs() Option {
	return func(e *Executor) { e.guard.AllowPrivate = true }
}

// WithBreakerConfig sets the per-endpoint circuit breaker parameters.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(e *Executor) { e.breakerCfg = cfg }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// Executor calls external hook endpoints.
type Executor struct {
	httpClient *http.Client
	publisher  *events.Publisher
	guard      Guard
	breakerCfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewExecutor creates a new hook executor.
func NewExecutor(publisher *events.Publisher, opts ...Option) *Executor {
	e := &Executor{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		publisher: publisher,
		breakers:  make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute calls a dialog hook and returns its response.
func (e *Executor) Execute(ctx context.Context, cfg Config, req Request) (*Response, error) {
	var resp Response
	status, err := e.Call(ctx, cfg, req, &resp)
	if err != nil {
		_ = e.publisher.Emit(ctx, events.HookError, req.ConversationID, &events.HookErrorData{
			HookURL: cfg.URL,
			Error:   err.Error(),
		})
		return nil, err
	}
	_ = e.publisher.Emit(ctx, events.HookResult, req.ConversationID, &events.HookResultData{
		HookURL:    cfg.URL,
		StatusCode: status,
		Response:   resp.Data,
	})
	return &resp, nil
}

// Call posts payload as JSON to the endpoint and decodes the reply into out.
// It returns the HTTP status code of the reply.
func (e *Executor) Call(ctx context.Context, cfg Config, payload, out any) (int, error) {
	if err := e.guard.Check(ctx, cfg.URL); err != nil {
		return 0, fmt.Errorf("hook URL validation: %w", err)
	}

	cb := e.breaker(cfg.URL)
	if !cb.Allow() {
		return 0, fmt.Errorf("%w: %s", ErrCircuitOpen, cfg.URL)
	}

	status, err := e.post(ctx, cfg, payload, out)
	if err != nil {
		cb.Failure()
		return status, err
	}
	cb.Success()
	return status, nil
}

func (e *Executor) post(ctx context.Context, cfg Config, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal hook request: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create hook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	switch cfg.AuthType {
	case "bearer":
		httpReq.Header.Set("Authorization", "Bearer "+cfg.AuthSecret)
	case "hmac":
		httpReq.Header.Set(SignatureHeader, Sign(cfg.AuthSecret, body))
	}
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("hook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	// Drain remainder for connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read hook response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("hook returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal hook response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (e *Executor) breaker(endpoint string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[endpoint]; ok {
		return cb
	}
	if len(e.breakers) >= maxBreakers {
		for k := range e.breakers {
			delete(e.breakers, k)
			break
		}
	}
	cb := NewBreaker(e.breakerCfg)
	e.breakers[endpoint] = cb
	return cb
}

// BreakerState reports the breaker state for an endpoint.
func (e *Executor) BreakerState(endpoint string) BreakerState {
	return e.breaker(endpoint).State()
}

// Sign produces an HMAC-SHA256 signature in the format "sha256=<hex>".
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}
