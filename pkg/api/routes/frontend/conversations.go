package frontend

import (
	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/router"
	"marketchat/pkg/api/routes/common"
	"marketchat/pkg/apperr"
	"marketchat/pkg/models"
	"marketchat/pkg/registry"
)

// Handlers serves the user-facing routes.
type Handlers struct {
	svc *common.Services
}

func New(svc *common.Services) *Handlers {
	return &Handlers{svc: svc}
}

// CreateConversation resolves or creates the conversation between the
// calling buyer and a seller, optionally scoped to a product.
func (h *Handlers) CreateConversation(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "create_conversation")
	if !ok {
		return
	}
	defer req.Trace.Finish()

	var body createConversationRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}

	req.Trace.Mark("resolve_or_create")
	conv, created, err := h.svc.Registry.ResolveOrCreate(req.Ctx, req.User, body.SellerID, body.ProductID)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	status := fasthttp.StatusOK
	if created {
		status = fasthttp.StatusCreated
	}
	router.WriteJSON(ctx, status, conversationResponse{Conversation: conv, Created: created})
}

// ListConversations returns the caller's conversations, most recent first,
// each with its latest message and the caller's unread count.
func (h *Handlers) ListConversations(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "list_conversations")
	if !ok {
		return
	}
	defer req.Trace.Finish()

	req.Trace.Mark("list")
	convs, err := h.svc.Registry.ListForUser(req.Ctx, req.User)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	req.Trace.Mark("unread")
	unread, err := h.svc.Reads.UnreadByConversation(req.Ctx, req.User)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}

	req.Trace.Mark("last_messages")
	out := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		last, err := h.svc.Messages.Last(req.Ctx, conv.ID)
		if err != nil && !apperr.IsNotFound(err) {
			router.WriteError(ctx, err)
			return
		}
		out = append(out, models.ConversationSummary{
			Conversation: conv,
			LastMessage:  last,
			UnreadCount:  unread[conv.ID],
		})
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, conversationsListResponse{Conversations: out})
}

func (h *Handlers) GetConversation(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "get_conversation")
	if !ok {
		return
	}
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	conv, err := h.conversationFor(req, id)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, conversationResponse{Conversation: conv})
}

// conversationFor loads a conversation the caller takes part in.
func (h *Handlers) conversationFor(req *common.Request, id string) (*models.Conversation, error) {
	req.Trace.Mark("load_conversation")
	conv, err := h.svc.Registry.Get(req.Ctx, id)
	if err != nil {
		return nil, err
	}
	role, err := h.svc.Registry.Participant(req.Ctx, conv, req.User)
	if err != nil {
		return nil, err
	}
	if role == registry.NotParticipant {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}
