package frontend

import "marketchat/pkg/models"

type createConversationRequest struct {
	SellerID  string `json:"seller_id" validate:"required"`
	ProductID string `json:"product_id,omitempty"`
}

type conversationResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Created      bool                 `json:"created,omitempty"`
}

type conversationsListResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

type sendMessageRequest struct {
	Body        string                 `json:"body" validate:"max=65536"`
	Type        models.MessageType     `json:"message_type" validate:"required,oneof=text quote_reference payment_link product_attachment"`
	QuoteRef    *models.QuoteReference `json:"quote_reference,omitempty"`
	PaymentLink *paymentLinkRequest    `json:"payment_link,omitempty"`
	ProductID   string                 `json:"product_id,omitempty"`
	Attachments []attachmentRequest    `json:"attachments,omitempty" validate:"max=10,dive"`
}

type paymentLinkRequest struct {
	PaymentID   string       `json:"payment_id" validate:"required"`
	Amount      models.Money `json:"amount" validate:"gt=0"`
	Currency    string       `json:"currency" validate:"required,len=3,alpha"`
	Description string       `json:"description,omitempty"`
	ExpiresAt   *int64       `json:"expires_at,omitempty"`
}

type attachmentRequest struct {
	Path     string `json:"path" validate:"required"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type messagesListResponse struct {
	Messages   []*models.Message          `json:"messages"`
	Pagination *models.PaginationResponse `json:"pagination"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
}

type unreadResponse struct {
	Unread int `json:"unread"`
}

type channelResponse struct {
	Channel string `json:"channel"`
	Allowed bool   `json:"allowed"`
}
