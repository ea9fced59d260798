package models

type Conversation struct {
	ID       string `json:"id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
	// SellerCompanyID is captured at creation so agent checks do not depend
	// on a later seller lookup.
	SellerCompanyID string  `json:"seller_company_id"`
	ProductID       *string `json:"product_id,omitempty"`
	AssignedAgentID *string `json:"assigned_agent_id,omitempty"`
	Closed          bool    `json:"closed,omitempty"`
	CreatedTS       int64   `json:"created_ts"`
	UpdatedTS       int64   `json:"updated_ts"`
	// LastSeq is the insertion sequence of the newest message.
	LastSeq       uint64 `json:"last_seq"`
	LastMessageTS int64  `json:"last_message_ts,omitempty"`
}

// ProductKey returns the product scope or "" when unscoped.
func (c *Conversation) ProductKey() string {
	if c.ProductID == nil {
		return ""
	}
	return *c.ProductID
}

// AgentKey returns the assigned agent or "" when unassigned.
func (c *Conversation) AgentKey() string {
	if c.AssignedAgentID == nil {
		return ""
	}
	return *c.AssignedAgentID
}

// RecencyTS orders conversations for listings.
func (c *Conversation) RecencyTS() int64 {
	if c.LastMessageTS > c.UpdatedTS {
		return c.LastMessageTS
	}
	return c.UpdatedTS
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
}
