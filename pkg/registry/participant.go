package registry

import (
	"context"

	"marketchat/pkg/apperr"
	"marketchat/pkg/models"
)

type ParticipantRole string

const (
	NotParticipant    ParticipantRole = ""
	ParticipantBuyer  ParticipantRole = "buyer"
	ParticipantSeller ParticipantRole = "seller"
	ParticipantAgent  ParticipantRole = "agent"
)

// Participant reports how userID takes part in conv. An agent qualifies
// while its link is active for the seller's company and the conversation
// is assigned to it or unassigned. Nothing is cached; every call reads the
// current agent link and assignment.
func (r *Registry) Participant(ctx context.Context, conv *models.Conversation, userID string) (ParticipantRole, error) {
	switch userID {
	case "":
		return NotParticipant, nil
	case conv.BuyerID:
		return ParticipantBuyer, nil
	case conv.SellerID:
		return ParticipantSeller, nil
	}
	link, err := r.activeAgentLink(ctx, userID)
	if err != nil || link == nil {
		return NotParticipant, err
	}
	if link.CompanyID != conv.SellerCompanyID {
		return NotParticipant, nil
	}
	if a := conv.AgentKey(); a != "" && a != userID {
		return NotParticipant, nil
	}
	return ParticipantAgent, nil
}

// activeAgentLink returns the link of an active agent, or nil for any
// other account.
func (r *Registry) activeAgentLink(ctx context.Context, userID string) (*models.AgentLink, error) {
	u, err := r.accounts.User(ctx, userID)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleAgent {
		return nil, nil
	}
	link, err := r.accounts.AgentLink(ctx, userID)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !link.IsActive {
		return nil, nil
	}
	return link, nil
}

// Participants lists the ids holding a stake in conv: buyer, seller and
// the assigned agent while its link to the seller's company is active.
func (r *Registry) Participants(ctx context.Context, conv *models.Conversation) ([]string, error) {
	out := []string{conv.BuyerID, conv.SellerID}
	a := conv.AgentKey()
	if a == "" {
		return out, nil
	}
	link, err := r.activeAgentLink(ctx, a)
	if err != nil {
		return nil, err
	}
	if link != nil && link.CompanyID == conv.SellerCompanyID {
		out = append(out, a)
	}
	return out, nil
}
