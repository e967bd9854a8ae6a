package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voicetyped/adaptive/pkg/events"
	"github.com/voicetyped/adaptive/pkg/hooks"
	"github.com/voicetyped/adaptive/pkg/storage"
)

// ErrMissingConversationID is returned when a turn has no conversation id.
var ErrMissingConversationID = errors.New("conversation id is required")

// TurnOutcome is what one turn produced.
type TurnOutcome struct {
	Status    TurnStatus  `json:"status"`
	Result    any         `json:"result,omitempty"`
	Responses []*Activity `json:"responses"`
}

// Snapshot is the persisted state of a conversation.
type Snapshot struct {
	ConversationID string         `json:"conversationId"`
	ActiveDialog   string         `json:"activeDialog,omitempty"`
	DialogState    DialogState    `json:"dialogState"`
	Conversation   map[string]any `json:"conversation"`
}

type conversationRecord struct {
	DialogState  DialogState    `json:"dialogState"`
	Conversation map[string]any `json:"conversation"`
}

// Manager runs turns against persisted conversations. Turns for the same
// conversation are serialized; different conversations run concurrently.
type Manager struct {
	dialogs   *DialogSet
	rootID    string
	store     storage.Store
	publisher *events.Publisher
	hooks     *hooks.Executor
	templates *Templates
	locks     keyedMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPublisher sets the publisher engine events are emitted to.
func WithPublisher(p *events.Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithHookExecutor sets the executor used by CallHook actions.
func WithHookExecutor(e *hooks.Executor) ManagerOption {
	return func(m *Manager) { m.hooks = e }
}

// WithDialog registers an additional dialog that can be begun by id.
func WithDialog(d Dialog) ManagerOption {
	return func(m *Manager) { m.dialogs.Add(d) }
}

// NewManager creates a manager whose conversations start with root.
func NewManager(store storage.Store, root Dialog, opts ...ManagerOption) *Manager {
	m := &Manager{
		dialogs:   NewDialogSet(root),
		rootID:    root.ID(),
		store:     store,
		templates: NewTemplates(),
		locks:     keyedMutex{locks: make(map[string]*refLock)},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dialogs returns the ids of the dialogs that can be begun.
func (m *Manager) Dialogs() []string {
	return m.dialogs.IDs()
}

// RootDialog returns the id of the dialog OnTurn begins.
func (m *Manager) RootDialog() string {
	return m.rootID
}

// BeginDialog starts dialogID, cancelling anything still running. An empty
// dialogID begins the root dialog.
func (m *Manager) BeginDialog(ctx context.Context, conversationID, dialogID string, activity *Activity, options any) (*TurnOutcome, error) {
	if dialogID == "" {
		dialogID = m.rootID
	}
	if m.dialogs.Find(dialogID) == nil {
		return nil, fmt.Errorf("begin %q: %w", dialogID, ErrDialogNotFound)
	}
	return m.run(ctx, conversationID, activity, func(ctx context.Context, dc *DialogContext) (TurnResult, error) {
		if len(dc.Stack()) > 0 {
			dc.Turn.activityEmitted = true
			if _, err := dc.CancelAllDialogs(ctx, false); err != nil {
				return TurnResult{}, err
			}
		}
		dc.Turn.activityEmitted = true
		return dc.BeginDialog(ctx, dialogID, options)
	})
}

// ContinueDialog delivers activity to the running dialog. With nothing
// running the status is Empty.
func (m *Manager) ContinueDialog(ctx context.Context, conversationID string, activity *Activity) (*TurnOutcome, error) {
	return m.run(ctx, conversationID, activity, func(ctx context.Context, dc *DialogContext) (TurnResult, error) {
		return dc.ContinueDialog(ctx)
	})
}

// OnTurn continues the running dialog or begins the root dialog when
// nothing is running.
func (m *Manager) OnTurn(ctx context.Context, conversationID string, activity *Activity) (*TurnOutcome, error) {
	return m.run(ctx, conversationID, activity, func(ctx context.Context, dc *DialogContext) (TurnResult, error) {
		res, err := dc.ContinueDialog(ctx)
		if err != nil || res.Status != StatusEmpty {
			return res, err
		}
		return dc.BeginDialog(ctx, m.rootID, nil)
	})
}

// Reprompt asks the running dialog to prompt again.
func (m *Manager) Reprompt(ctx context.Context, conversationID string) (*TurnOutcome, error) {
	return m.run(ctx, conversationID, nil, func(ctx context.Context, dc *DialogContext) (TurnResult, error) {
		dc.Turn.activityEmitted = true
		if dc.ActiveDialog() == nil {
			return TurnResult{Status: StatusEmpty}, nil
		}
		if err := dc.RepromptDialog(ctx); err != nil {
			return TurnResult{}, err
		}
		return EndOfTurn, nil
	})
}

// Conversation returns the persisted state of a conversation.
func (m *Manager) Conversation(ctx context.Context, conversationID string) (*Snapshot, error) {
	unlock := m.locks.Lock(conversationID)
	defer unlock()

	rec, err := m.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, storage.ErrNotFound)
	}
	snap := &Snapshot{
		ConversationID: conversationID,
		DialogState:    rec.DialogState,
		Conversation:   rec.Conversation,
	}
	if len(rec.DialogState.Stack) > 0 {
		snap.ActiveDialog = rec.DialogState.Stack[0].ID
	}
	return snap, nil
}

// EndConversation cancels whatever is running and forgets the conversation.
func (m *Manager) EndConversation(ctx context.Context, conversationID, reason string) error {
	unlock := m.locks.Lock(conversationID)
	defer unlock()

	rec, err := m.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("conversation %q: %w", conversationID, storage.ErrNotFound)
	}
	if len(rec.DialogState.Stack) > 0 {
		tc := m.newTurn(conversationID, nil, rec.Conversation, nil)
		tc.activityEmitted = true
		dc := NewDialogContext(m.dialogs, tc, &rec.DialogState.Stack, nil)
		if _, err := dc.CancelAllDialogs(ctx, false); err != nil {
			return err
		}
	}
	if err := m.store.Delete(ctx, storage.ConversationKey(conversationID)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	_ = m.publisher.Emit(ctx, events.ConversationEnded, conversationID, events.ConversationEndedData{Reason: reason})
	return nil
}

// Sweep forgets conversations idle for longer than idle and reports how
// many were removed.
func (m *Manager) Sweep(ctx context.Context, idle time.Duration) (int, error) {
	keys, err := m.store.Sweep(ctx, time.Now().Add(-idle))
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	n := 0
	for _, key := range keys {
		id, ok := strings.CutPrefix(key, storage.ConversationKey(""))
		if !ok {
			continue
		}
		n++
		_ = m.publisher.Emit(ctx, events.ConversationEnded, id, events.ConversationEndedData{
			Reason: "idle",
			IdleMs: idle.Milliseconds(),
		})
	}
	return n, nil
}

func (m *Manager) newTurn(conversationID string, activity *Activity, conversation, user map[string]any) *TurnContext {
	tc := NewTurnContext(conversationID, activity, conversation, user)
	tc.templates = m.templates
	tc.hooks = m.hooks
	tc.publisher = m.publisher
	return tc
}

type turnFunc func(ctx context.Context, dc *DialogContext) (TurnResult, error)

func (m *Manager) run(ctx context.Context, conversationID string, activity *Activity, fn turnFunc) (*TurnOutcome, error) {
	if conversationID == "" {
		return nil, ErrMissingConversationID
	}
	unlock := m.locks.Lock(conversationID)
	defer unlock()
	start := time.Now()

	var (
		rec  *conversationRecord
		user map[string]any
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = m.loadConversation(gctx, conversationID)
		return err
	})
	if activity != nil && activity.From != "" {
		g.Go(func() error {
			var err error
			user, err = m.loadUser(gctx, activity.From)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &conversationRecord{}
	}

	tc := m.newTurn(conversationID, activity, rec.Conversation, user)
	tc.notify(ctx, events.TurnStarted, events.TurnStartedData{ActivityType: tc.Activity.Type, Text: tc.Activity.Text})

	stack := rec.DialogState.Stack
	dc := NewDialogContext(m.dialogs, tc, &stack, nil)
	res, err := fn(ctx, dc)
	if err != nil {
		tc.notify(ctx, events.SystemError, map[string]string{"error": err.Error()})
		return nil, err
	}

	rec.DialogState.Stack = stack
	rec.Conversation = tc.Conversation()
	if err := m.save(ctx, conversationID, rec, tc.Activity.From, tc.User()); err != nil {
		return nil, err
	}

	tc.notify(ctx, events.TurnCompleted, events.TurnCompletedData{
		Status:     string(res.Status),
		Responses:  len(tc.Responses()),
		DurationMs: time.Since(start).Milliseconds(),
	})
	responses := tc.Responses()
	if responses == nil {
		responses = []*Activity{}
	}
	return &TurnOutcome{Status: res.Status, Result: res.Result, Responses: responses}, nil
}

func (m *Manager) loadConversation(ctx context.Context, conversationID string) (*conversationRecord, error) {
	raw, err := m.store.Load(ctx, storage.ConversationKey(conversationID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	var rec conversationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &rec, nil
}

func (m *Manager) loadUser(ctx context.Context, userID string) (map[string]any, error) {
	raw, err := m.store.Load(ctx, storage.UserKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	var user map[string]any
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

func (m *Manager) save(ctx context.Context, conversationID string, rec *conversationRecord, userID string, user map[string]any) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode conversation: %w", err)
		}
		if err := m.store.Save(gctx, storage.ConversationKey(conversationID), raw); err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
		return nil
	})
	if userID != "" {
		g.Go(func() error {
			raw, err := json.Marshal(user)
			if err != nil {
				return fmt.Errorf("encode user: %w", err)
			}
			if err := m.store.Save(gctx, storage.UserKey(userID), raw); err != nil {
				return fmt.Errorf("save user: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// keyedMutex hands out one mutex per key and drops it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
