package backend

import "marketchat/pkg/models"

type signRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type signResponse struct {
	UserID    string `json:"userId"`
	Signature string `json:"signature"`
}

type userRequest struct {
	Name      string      `json:"name" validate:"required"`
	Email     string      `json:"email" validate:"omitempty,email"`
	Role      models.Role `json:"role" validate:"required,oneof=buyer seller agent admin"`
	CompanyID string      `json:"company_id,omitempty"`
}

type companyRequest struct {
	Name    string `json:"name" validate:"required"`
	OwnerID string `json:"owner_id,omitempty"`
}

type agentRequest struct {
	CompanyID string `json:"company_id" validate:"required"`
	IsActive  bool   `json:"is_active"`
}

type productRequest struct {
	Name        string       `json:"name" validate:"required"`
	HasImage    bool         `json:"has_image"`
	Price       models.Money `json:"price" validate:"gte=0"`
	Unit        string       `json:"unit" validate:"required"`
	CompanyName string       `json:"company_name,omitempty"`
}

type assignAgentRequest struct {
	// AgentID of null or "" clears the assignment.
	AgentID *string `json:"agent_id"`
}

type paymentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending paid expired cancelled"`
	PaidAt *int64 `json:"paid_at,omitempty"`
}

type conversationResponse struct {
	Conversation *models.Conversation `json:"conversation"`
}

type agentConversationsResponse struct {
	AgentID       string                 `json:"agent_id"`
	Conversations []*models.Conversation `json:"conversations"`
}
