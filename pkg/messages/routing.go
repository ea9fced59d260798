package messages

import (
	"context"

	"marketchat/pkg/apperr"
	"marketchat/pkg/directory"
	"marketchat/pkg/models"
	"marketchat/pkg/registry"
)

// RoutingPolicy decides who a message is addressed to.
//
// A buyer's message goes to the seller, or to the assigned agent when
// RouteToAgent is set and that agent is still active for the seller's
// company. Messages from the seller or an agent go to the buyer.
type RoutingPolicy struct {
	RouteToAgent bool
	Accounts     directory.Accounts
}

func (p RoutingPolicy) Receiver(ctx context.Context, conv *models.Conversation, sender registry.ParticipantRole) (string, error) {
	switch sender {
	case registry.ParticipantSeller, registry.ParticipantAgent:
		return conv.BuyerID, nil
	case registry.ParticipantBuyer:
		agentID := conv.AgentKey()
		if !p.RouteToAgent || agentID == "" || p.Accounts == nil {
			return conv.SellerID, nil
		}
		link, err := p.Accounts.AgentLink(ctx, agentID)
		if apperr.IsNotFound(err) {
			return conv.SellerID, nil
		}
		if err != nil {
			return "", err
		}
		if link.IsActive && link.CompanyID == conv.SellerCompanyID {
			return agentID, nil
		}
		return conv.SellerID, nil
	}
	return "", apperr.Forbidden("sender is not a participant of the conversation")
}
