package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/voicetyped/adaptive/pkg/dialog"
	"github.com/voicetyped/adaptive/pkg/storage"
)

const (
	defaultConversationTTL = 30 * time.Minute
	reaperInterval         = 1 * time.Minute
)

// Ensure we implement the interface.
var _ DialogServiceHandler = (*DialogHandler)(nil)

// Options configures a DialogHandler.
type Options struct {
	// ConversationTTL is how long a conversation may sit idle before the
	// reaper ends it.
	ConversationTTL time.Duration
	// RateLimitPerSec caps turns per conversation. Zero disables limiting.
	RateLimitPerSec float64
	RateLimitBurst  int
}

// DialogHandler implements DialogServiceHandler over a dialog.Manager.
type DialogHandler struct {
	manager  *dialog.Manager
	pool     workerpool.WorkerPool
	ttl      time.Duration
	limiters *limiterSet
}

// NewDialogHandler creates a new dialog service handler.
func NewDialogHandler(manager *dialog.Manager, pool workerpool.WorkerPool, opts Options) *DialogHandler {
	ttl := opts.ConversationTTL
	if ttl <= 0 {
		ttl = defaultConversationTTL
	}
	return &DialogHandler{
		manager:  manager,
		pool:     pool,
		ttl:      ttl,
		limiters: newLimiterSet(opts.RateLimitPerSec, opts.RateLimitBurst),
	}
}

// StartReaper begins the background sweep of idle conversations.
func (h *DialogHandler) StartReaper(ctx context.Context) {
	reap := func() {
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.reapIdleConversations(ctx)
			}
		}
	}
	if h.pool != nil {
		if err := h.pool.Submit(ctx, reap); err == nil {
			return
		}
	}
	go reap()
}

func (h *DialogHandler) reapIdleConversations(ctx context.Context) {
	n, err := h.manager.Sweep(ctx, h.ttl)
	if err != nil {
		util.Log(ctx).WithError(err).Error("dialog reaper: sweep")
		return
	}
	pruned := h.limiters.prune(time.Now().Add(-h.ttl))
	if n > 0 || pruned > 0 {
		slog.InfoContext(ctx, "reaped idle conversations",
			slog.Int("conversations", n),
			slog.Int("limiters", pruned),
		)
	}
}

func (h *DialogHandler) BeginDialog(ctx context.Context, req *connect.Request[BeginDialogRequest]) (*connect.Response[TurnResponse], error) {
	id := req.Msg.ConversationID
	if err := h.admit(id); err != nil {
		return nil, err
	}
	var options any
	if req.Msg.Options != nil {
		options = req.Msg.Options
	}
	out, err := h.manager.BeginDialog(ctx, id, req.Msg.DialogID, req.Msg.Activity, options)
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(turnResponse(id, out)), nil
}

func (h *DialogHandler) ContinueDialog(ctx context.Context, req *connect.Request[ActivityRequest]) (*connect.Response[TurnResponse], error) {
	id := req.Msg.ConversationID
	if err := h.admit(id); err != nil {
		return nil, err
	}
	if req.Msg.Activity == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("activity is required"))
	}
	out, err := h.manager.ContinueDialog(ctx, id, req.Msg.Activity)
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(turnResponse(id, out)), nil
}

func (h *DialogHandler) SendActivity(ctx context.Context, req *connect.Request[ActivityRequest]) (*connect.Response[TurnResponse], error) {
	id := req.Msg.ConversationID
	if err := h.admit(id); err != nil {
		return nil, err
	}
	if req.Msg.Activity == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("activity is required"))
	}
	out, err := h.manager.OnTurn(ctx, id, req.Msg.Activity)
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(turnResponse(id, out)), nil
}

func (h *DialogHandler) Reprompt(ctx context.Context, req *connect.Request[ConversationRequest]) (*connect.Response[TurnResponse], error) {
	id := req.Msg.ConversationID
	if err := h.admit(id); err != nil {
		return nil, err
	}
	out, err := h.manager.Reprompt(ctx, id)
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(turnResponse(id, out)), nil
}

func (h *DialogHandler) GetConversation(ctx context.Context, req *connect.Request[ConversationRequest]) (*connect.Response[ConversationResponse], error) {
	id := req.Msg.ConversationID
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, dialog.ErrMissingConversationID)
	}
	snap, err := h.manager.Conversation(ctx, id)
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(&ConversationResponse{Conversation: snap}), nil
}

func (h *DialogHandler) EndConversation(ctx context.Context, req *connect.Request[EndConversationRequest]) (*connect.Response[EndConversationResponse], error) {
	id := req.Msg.ConversationID
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, dialog.ErrMissingConversationID)
	}
	reason := req.Msg.Reason
	if reason == "" {
		reason = "ended"
	}
	if err := h.manager.EndConversation(ctx, id, reason); err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	h.limiters.forget(id)
	return connect.NewResponse(&EndConversationResponse{}), nil
}

func (h *DialogHandler) ListDialogs(_ context.Context, _ *connect.Request[ListDialogsRequest]) (*connect.Response[ListDialogsResponse], error) {
	return connect.NewResponse(&ListDialogsResponse{
		Root:    h.manager.RootDialog(),
		Dialogs: h.manager.Dialogs(),
	}), nil
}

// admit validates the conversation id and applies the per-conversation rate
// limit.
func (h *DialogHandler) admit(id string) error {
	if id == "" {
		return connect.NewError(connect.CodeInvalidArgument, dialog.ErrMissingConversationID)
	}
	if !h.limiters.allow(id) {
		return connect.NewError(connect.CodeResourceExhausted, fmt.Errorf("conversation %q: too many turns", id))
	}
	return nil
}

func (h *DialogHandler) toConnectError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, dialog.ErrDialogNotFound), errors.Is(err, storage.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, dialog.ErrMissingConversationID):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	util.Log(ctx).WithError(err).Error("dialog turn failed")
	return connect.NewError(connect.CodeInternal, err)
}

func turnResponse(id string, out *dialog.TurnOutcome) *TurnResponse {
	resp := &TurnResponse{
		ConversationID: id,
		Status:         out.Status,
		Result:         out.Result,
		Responses:      out.Responses,
	}
	if resp.Responses == nil {
		resp.Responses = []*dialog.Activity{}
	}
	return resp
}
