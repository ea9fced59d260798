package frontend

import (
	"strings"

	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/router"
	"marketchat/pkg/api/routes/common"
	"marketchat/pkg/messages"
	"marketchat/pkg/models"
)

func (h *Handlers) SendMessage(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "send_message")
	if !ok {
		return
	}
	defer req.Trace.Finish()

	convID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var body sendMessageRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}

	req.Trace.Mark("append")
	msg, err := h.svc.Messages.Append(req.Ctx, body.toAppend(convID, req.User))
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusCreated, msg)
}

func (b *sendMessageRequest) toAppend(convID, sender string) messages.AppendRequest {
	ar := messages.AppendRequest{
		ConversationID: convID,
		SenderID:       sender,
		Body:           b.Body,
		Type:           b.Type,
		QuoteRef:       b.QuoteRef,
		ProductID:      strings.TrimSpace(b.ProductID),
	}
	if p := b.PaymentLink; p != nil {
		ar.PaymentLink = &models.PaymentLink{
			PaymentID:   p.PaymentID,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Description: p.Description,
			ExpiresAt:   p.ExpiresAt,
		}
	}
	for _, a := range b.Attachments {
		ar.Attachments = append(ar.Attachments, models.Attachment{Path: a.Path, Name: a.Name, MimeType: a.MimeType})
	}
	return ar
}

func (h *Handlers) ListMessages(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "list_messages")
	if !ok {
		return
	}
	defer req.Trace.Finish()

	convID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	page := router.ParsePaginationRequest(ctx)

	req.Trace.Mark("list")
	msgs, resp, err := h.svc.Messages.List(req.Ctx, convID, req.User, page)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, messagesListResponse{Messages: msgs, Pagination: resp})
}

// MarkRead clears the caller's unread markers in one conversation.
func (h *Handlers) MarkRead(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "mark_read")
	if !ok {
		return
	}
	defer req.Trace.Finish()

	convID, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	n, err := h.svc.Reads.MarkConversationRead(req.Ctx, convID, req.User)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, markReadResponse{Updated: n})
}

func (h *Handlers) UnreadCount(ctx *fasthttp.RequestCtx) {
	req, ok := common.SetupUserHandler(ctx, "unread_count")
	if !ok {
		return
	}
	defer req.Trace.Finish()

	n, err := h.svc.Reads.UnreadCount(req.Ctx, req.User)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, unreadResponse{Unread: n})
}
