package handler

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/voicetyped/adaptive/pkg/dialog"
)

// DialogServiceName is the fully-qualified name of the dialog service.
const DialogServiceName = "adaptive.dialog.v1.DialogService"

// Procedure paths of the dialog service.
const (
	BeginDialogProcedure     = "/" + DialogServiceName + "/BeginDialog"
	ContinueDialogProcedure  = "/" + DialogServiceName + "/ContinueDialog"
	SendActivityProcedure    = "/" + DialogServiceName + "/SendActivity"
	RepromptProcedure        = "/" + DialogServiceName + "/Reprompt"
	GetConversationProcedure = "/" + DialogServiceName + "/GetConversation"
	EndConversationProcedure = "/" + DialogServiceName + "/EndConversation"
	ListDialogsProcedure     = "/" + DialogServiceName + "/ListDialogs"
)

// BeginDialogRequest starts a dialog, cancelling whatever the conversation
// was running. An empty DialogID begins the root dialog.
type BeginDialogRequest struct {
	ConversationID string           `json:"conversationId"`
	DialogID       string           `json:"dialogId,omitempty"`
	Activity       *dialog.Activity `json:"activity,omitempty"`
	Options        map[string]any   `json:"options,omitempty"`
}

// ActivityRequest delivers one activity to a conversation.
type ActivityRequest struct {
	ConversationID string           `json:"conversationId"`
	Activity       *dialog.Activity `json:"activity"`
}

// ConversationRequest names a conversation.
type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

// EndConversationRequest ends a conversation.
type EndConversationRequest struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason,omitempty"`
}

// TurnResponse is the outcome of one turn.
type TurnResponse struct {
	ConversationID string             `json:"conversationId"`
	Status         dialog.TurnStatus  `json:"status"`
	Result         any                `json:"result,omitempty"`
	Responses      []*dialog.Activity `json:"responses"`
}

// ConversationResponse carries the persisted state of a conversation.
type ConversationResponse struct {
	Conversation *dialog.Snapshot `json:"conversation"`
}

// EndConversationResponse is empty.
type EndConversationResponse struct{}

// ListDialogsRequest is empty.
type ListDialogsRequest struct{}

// ListDialogsResponse lists the dialogs a conversation can begin.
type ListDialogsResponse struct {
	Root    string   `json:"root"`
	Dialogs []string `json:"dialogs"`
}

// DialogServiceHandler is the server side of the dialog service.
type DialogServiceHandler interface {
	BeginDialog(context.Context, *connect.Request[BeginDialogRequest]) (*connect.Response[TurnResponse], error)
	ContinueDialog(context.Context, *connect.Request[ActivityRequest]) (*connect.Response[TurnResponse], error)
	SendActivity(context.Context, *connect.Request[ActivityRequest]) (*connect.Response[TurnResponse], error)
	Reprompt(context.Context, *connect.Request[ConversationRequest]) (*connect.Response[TurnResponse], error)
	GetConversation(context.Context, *connect.Request[ConversationRequest]) (*connect.Response[ConversationResponse], error)
	EndConversation(context.Context, *connect.Request[EndConversationRequest]) (*connect.Response[EndConversationResponse], error)
	ListDialogs(context.Context, *connect.Request[ListDialogsRequest]) (*connect.Response[ListDialogsResponse], error)
}

// NewDialogServiceHandler builds an HTTP handler serving svc. It returns the
// path to mount the handler on.
func NewDialogServiceHandler(svc DialogServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	routes := map[string]http.Handler{
		BeginDialogProcedure:     connect.NewUnaryHandler(BeginDialogProcedure, svc.BeginDialog, opts...),
		ContinueDialogProcedure:  connect.NewUnaryHandler(ContinueDialogProcedure, svc.ContinueDialog, opts...),
		SendActivityProcedure:    connect.NewUnaryHandler(SendActivityProcedure, svc.SendActivity, opts...),
		RepromptProcedure:        connect.NewUnaryHandler(RepromptProcedure, svc.Reprompt, opts...),
		GetConversationProcedure: connect.NewUnaryHandler(GetConversationProcedure, svc.GetConversation, opts...),
		EndConversationProcedure: connect.NewUnaryHandler(EndConversationProcedure, svc.EndConversation, opts...),
		ListDialogsProcedure:     connect.NewUnaryHandler(ListDialogsProcedure, svc.ListDialogs, opts...),
	}
	return "/" + DialogServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// DialogServiceClient is a client for the dialog service.
type DialogServiceClient struct {
	beginDialog     *connect.Client[BeginDialogRequest, TurnResponse]
	continueDialog  *connect.Client[ActivityRequest, TurnResponse]
	sendActivity    *connect.Client[ActivityRequest, TurnResponse]
	reprompt        *connect.Client[ConversationRequest, TurnResponse]
	getConversation *connect.Client[ConversationRequest, ConversationResponse]
	endConversation *connect.Client[EndConversationRequest, EndConversationResponse]
	listDialogs     *connect.Client[ListDialogsRequest, ListDialogsResponse]
}

// NewDialogServiceClient creates a client for the service at baseURL.
func NewDialogServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *DialogServiceClient {
	return &DialogServiceClient{
		beginDialog:     connect.NewClient[BeginDialogRequest, TurnResponse](httpClient, baseURL+BeginDialogProcedure, opts...),
		continueDialog:  connect.NewClient[ActivityRequest, TurnResponse](httpClient, baseURL+ContinueDialogProcedure, opts...),
		sendActivity:    connect.NewClient[ActivityRequest, TurnResponse](httpClient, baseURL+SendActivityProcedure, opts...),
		reprompt:        connect.NewClient[ConversationRequest, TurnResponse](httpClient, baseURL+RepromptProcedure, opts...),
		getConversation: connect.NewClient[ConversationRequest, ConversationResponse](httpClient, baseURL+GetConversationProcedure, opts...),
		endConversation: connect.NewClient[EndConversationRequest, EndConversationResponse](httpClient, baseURL+EndConversationProcedure, opts...),
		listDialogs:     connect.NewClient[ListDialogsRequest, ListDialogsResponse](httpClient, baseURL+ListDialogsProcedure, opts...),
	}
}

func (c *DialogServiceClient) BeginDialog(ctx context.Context, req *connect.Request[BeginDialogRequest]) (*connect.Response[TurnResponse], error) {
	return c.beginDialog.CallUnary(ctx, req)
}

func (c *DialogServiceClient) ContinueDialog(ctx context.Context, req *connect.Request[ActivityRequest]) (*connect.Response[TurnResponse], error) {
	return c.continueDialog.CallUnary(ctx, req)
}

func (c *DialogServiceClient) SendActivity(ctx context.Context, req *connect.Request[ActivityRequest]) (*connect.Response[TurnResponse], error) {
	return c.sendActivity.CallUnary(ctx, req)
}

func (c *DialogServiceClient) Reprompt(ctx context.Context, req *connect.Request[ConversationRequest]) (*connect.Response[TurnResponse], error) {
	return c.reprompt.CallUnary(ctx, req)
}

func (c *DialogServiceClient) GetConversation(ctx context.Context, req *connect.Request[ConversationRequest]) (*connect.Response[ConversationResponse], error) {
	return c.getConversation.CallUnary(ctx, req)
}

func (c *DialogServiceClient) EndConversation(ctx context.Context, req *connect.Request[EndConversationRequest]) (*connect.Response[EndConversationResponse], error) {
	return c.endConversation.CallUnary(ctx, req)
}

func (c *DialogServiceClient) ListDialogs(ctx context.Context, req *connect.Request[ListDialogsRequest]) (*connect.Response[ListDialogsResponse], error) {
	return c.listDialogs.CallUnary(ctx, req)
}
