package models

import (
	"strings"

	"marketchat/pkg/apperr"
)

type MessageType string

const (
	MessageText              MessageType = "text"
	MessageQuoteReference    MessageType = "quote_reference"
	MessagePaymentLink       MessageType = "payment_link"
	MessageProductAttachment MessageType = "product_attachment"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageQuoteReference, MessagePaymentLink, MessageProductAttachment:
		return true
	}
	return false
}

// Payment statuses mirrored from the payment integration.
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentExpired   = "expired"
	PaymentCancelled = "cancelled"
)

type QuoteReference struct {
	QuoteID string `json:"quote_id"`
	Note    string `json:"note,omitempty"`
}

type PaymentLink struct {
	PaymentID   string `json:"payment_id"`
	Amount      Money  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	// ExpiresAt and PaidAt are unix nanoseconds.
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	PaidAt    *int64 `json:"paid_at,omitempty"`
}

// Attachment is a stored file reference; URLs are resolved at read time.
type Attachment struct {
	Path     string `json:"path"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message is immutable after creation except for Read/ReadTS and the
// payment link status fields.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Seq            uint64      `json:"seq"`
	SenderID       string      `json:"sender_id"`
	ReceiverID     string      `json:"receiver_id"`
	Body           string      `json:"body"`
	Type           MessageType `json:"message_type"`
	CreatedTS      int64       `json:"created_ts"`
	Read           bool        `json:"read"`
	ReadTS         int64       `json:"read_ts,omitempty"`
	UpdatedTS      int64       `json:"updated_ts,omitempty"`

	// exactly one of these matches Type (none for text)
	QuoteRef       *QuoteReference  `json:"quote_reference,omitempty"`
	PaymentLink    *PaymentLink     `json:"payment_link,omitempty"`
	ProductContext *ProductSnapshot `json:"product_context,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// Validate enforces the tagged-variant rule: the payload matching Type is
// present and no foreign payload is populated.
func (m *Message) Validate() error {
	if !m.Type.Valid() {
		return apperr.Validation("message_type", "unknown message type "+string(m.Type))
	}
	payloads := []struct {
		typ     MessageType
		present bool
	}{
		{MessageQuoteReference, m.QuoteRef != nil},
		{MessagePaymentLink, m.PaymentLink != nil},
		{MessageProductAttachment, m.ProductContext != nil},
	}
	for _, p := range payloads {
		if p.typ == m.Type && !p.present {
			return apperr.Validation(string(p.typ), "payload required for message type "+string(m.Type))
		}
		if p.typ != m.Type && p.present {
			return apperr.Validation(string(p.typ), "payload not allowed for message type "+string(m.Type))
		}
	}
	switch m.Type {
	case MessageText:
		if strings.TrimSpace(m.Body) == "" {
			return apperr.Validation("body", "body is required")
		}
	case MessageQuoteReference:
		if strings.TrimSpace(m.QuoteRef.QuoteID) == "" {
			return apperr.Validation("quote_reference.quote_id", "quote id is required")
		}
	case MessagePaymentLink:
		return m.PaymentLink.validate()
	}
	for i, a := range m.Attachments {
		if strings.TrimSpace(a.Path) == "" {
			return apperr.Validation("attachments", "attachment path is required (index "+itoa(i)+")")
		}
	}
	return nil
}

func (p *PaymentLink) validate() error {
	if p.Amount <= 0 {
		return apperr.Validation("payment_link.amount", "amount must be greater than zero")
	}
	if strings.TrimSpace(p.Currency) == "" {
		return apperr.Validation("payment_link.currency", "currency is required")
	}
	return nil
}

func itoa(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return digits[i : i+1]
	}
	return itoa(i/10) + digits[i%10:i%10+1]
}
