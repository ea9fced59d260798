package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"marketchat/pkg/apperr"
	"marketchat/pkg/directory"
	"marketchat/pkg/logger"
	"marketchat/pkg/models"
	"marketchat/pkg/store"
	"marketchat/pkg/store/keys"
	"marketchat/pkg/telemetry"
	"marketchat/pkg/timeutil"
)

// Registry owns conversation records and their uniqueness and membership
// indexes.
type Registry struct {
	st       *store.Store
	accounts directory.Accounts
	catalog  directory.Catalog
	lk       Locker
	notifier AssignmentNotifier
}

// AssignmentNotifier is told after a conversation's agent changes.
type AssignmentNotifier interface {
	PublishAssignment(conv *models.Conversation, previousAgentID string)
}

// New builds a Registry. lk serializes conversation mutations and must be
// the same lock set handed to the message store and read tracker.
func New(st *store.Store, accounts directory.Accounts, catalog directory.Catalog, lk Locker) *Registry {
	return &Registry{st: st, accounts: accounts, catalog: catalog, lk: lk}
}

func (r *Registry) SetNotifier(n AssignmentNotifier) { r.notifier = n }

// Locker is satisfied by *locks.Keyed.
type Locker interface {
	Lock(key string) (unlock func())
}

// ConversationLock is the lock key guarding writes to a conversation record
// and its message sequence.
func ConversationLock(convID string) string { return "conv:" + convID }

func (r *Registry) lockConversation(convID string) func() {
	return r.lk.Lock(ConversationLock(convID))
}

// ResolveOrCreate returns the conversation for (buyer, seller, product),
// creating it on first use. created reports whether a new record was made.
func (r *Registry) ResolveOrCreate(ctx context.Context, buyerID, sellerID, productID string) (*models.Conversation, bool, error) {
	tr := telemetry.Track("registry.resolve_or_create")
	defer tr.Finish()

	if err := keys.ValidateID(buyerID); err != nil {
		return nil, false, apperr.Validation("buyer_id", err.Error())
	}
	if err := keys.ValidateID(sellerID); err != nil {
		return nil, false, apperr.Validation("seller_id", err.Error())
	}
	if productID != "" {
		if err := keys.ValidateID(productID); err != nil {
			return nil, false, apperr.Validation("product_id", err.Error())
		}
	}
	if buyerID == sellerID {
		return nil, false, apperr.Validation("seller_id", "buyer and seller must be different accounts")
	}

	tr.Mark("lookup_parties")
	buyer, err := r.accounts.User(ctx, buyerID)
	if err != nil {
		return nil, false, err
	}
	seller, err := r.accounts.User(ctx, sellerID)
	if err != nil {
		return nil, false, err
	}
	if buyer.Role != models.RoleBuyer {
		return nil, false, apperr.Validation("buyer_id", "account "+buyerID+" is not a buyer")
	}
	if seller.Role != models.RoleSeller || strings.TrimSpace(seller.CompanyID) == "" {
		return nil, false, apperr.Validation("seller_id", "account "+sellerID+" is not a company-owning seller")
	}
	if productID != "" && r.catalog != nil {
		if _, err := r.catalog.Product(ctx, productID); err != nil {
			return nil, false, err
		}
	}

	tupleKey := keys.GenConversationTupleKey(buyerID, sellerID, productID)
	unlock := r.lk.Lock(tupleKey)
	defer unlock()

	tr.Mark("check_existing")
	existing, err := r.st.Get(tupleKey)
	switch {
	case err == nil:
		conv, err := r.reopen(string(existing))
		return conv, false, err
	case !store.IsNotFound(err):
		return nil, false, err
	}

	now := timeutil.Now().UnixNano()
	conv := &models.Conversation{
		ID:              uuid.NewString(),
		BuyerID:         buyerID,
		SellerID:        sellerID,
		SellerCompanyID: seller.CompanyID,
		CreatedTS:       now,
		UpdatedTS:       now,
	}
	if productID != "" {
		p := productID
		conv.ProductID = &p
	}

	tr.Mark("write")
	b := r.st.NewBatch()
	b.SetJSON(keys.GenConversationKey(conv.ID), conv)
	b.Set(tupleKey, []byte(conv.ID))
	b.Set(keys.GenUserConversationKey(buyerID, conv.ID), nil)
	b.Set(keys.GenUserConversationKey(sellerID, conv.ID), nil)
	b.Set(keys.GenCompanyConversationKey(seller.CompanyID, conv.ID), nil)
	if err := r.st.Commit(b); err != nil {
		return nil, false, err
	}
	telemetry.ConversationsCreated.Inc()
	logger.Info("conversation_created", "conversation", conv.ID, "buyer", buyerID, "seller", sellerID, "product", productID)
	return conv, true, nil
}

// reopen loads an existing conversation and clears a soft close.
func (r *Registry) reopen(convID string) (*models.Conversation, error) {
	unlock := r.lockConversation(convID)
	defer unlock()
	conv, err := r.load(convID)
	if err != nil {
		return nil, err
	}
	if !conv.Closed {
		return conv, nil
	}
	conv.Closed = false
	conv.UpdatedTS = timeutil.Now().UnixNano()
	if err := r.st.SetJSON(keys.GenConversationKey(conv.ID), conv); err != nil {
		return nil, err
	}
	logger.Info("conversation_reopened", "conversation", conv.ID)
	return conv, nil
}

func (r *Registry) load(convID string) (*models.Conversation, error) {
	if err := keys.ValidateID(convID); err != nil {
		return nil, apperr.NotFound("conversation", convID)
	}
	var conv models.Conversation
	if err := r.st.GetJSON(keys.GenConversationKey(convID), &conv); err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("conversation", convID)
		}
		return nil, err
	}
	return &conv, nil
}

func (r *Registry) Get(_ context.Context, convID string) (*models.Conversation, error) {
	return r.load(convID)
}

// AssignAgent sets or, with a nil agentID, clears the conversation's
// assigned agent.
func (r *Registry) AssignAgent(ctx context.Context, convID string, agentID *string) (*models.Conversation, error) {
	if agentID != nil && *agentID == "" {
		agentID = nil
	}
	var link *models.AgentLink
	if agentID != nil {
		u, err := r.accounts.User(ctx, *agentID)
		if err != nil {
			return nil, err
		}
		if u.Role != models.RoleAgent {
			return nil, apperr.Validation("agent_id", "account "+u.ID+" is not an agent")
		}
		link, err = r.accounts.AgentLink(ctx, *agentID)
		if apperr.IsNotFound(err) {
			return nil, apperr.Conflict("agent " + *agentID + " is not linked to any company")
		}
		if err != nil {
			return nil, err
		}
	}

	unlock := r.lockConversation(convID)
	defer unlock()
	conv, err := r.load(convID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		if link.CompanyID != conv.SellerCompanyID {
			return nil, apperr.Conflict("agent " + link.AgentID + " does not belong to the seller's company")
		}
		if !link.IsActive {
			return nil, apperr.Conflict("agent " + link.AgentID + " is not active for the seller's company")
		}
	}

	prev := conv.AgentKey()
	next := ""
	if agentID != nil {
		next = *agentID
	}
	if prev == next {
		return conv, nil
	}

	b := r.st.NewBatch()
	if prev != "" {
		b.Delete(keys.GenUserConversationKey(prev, conv.ID))
		// the previous agent no longer receives this conversation
		err := r.st.ScanPrefix(keys.UnreadConversationPrefix(prev, conv.ID), "", func(k string, _ []byte) (bool, error) {
			b.Delete(k)
			return true, nil
		})
		if err != nil {
			b.Close()
			return nil, err
		}
	}
	if next != "" {
		a := next
		conv.AssignedAgentID = &a
		b.Set(keys.GenUserConversationKey(next, conv.ID), nil)
	} else {
		conv.AssignedAgentID = nil
	}
	conv.UpdatedTS = timeutil.Now().UnixNano()
	b.SetJSON(keys.GenConversationKey(conv.ID), conv)
	if err := r.st.Commit(b); err != nil {
		return nil, err
	}
	logger.Info("conversation_agent_assigned", "conversation", conv.ID, "previous", prev, "agent", next)
	if r.notifier != nil {
		r.notifier.PublishAssignment(conv, prev)
	}
	return conv, nil
}

// Close soft-closes a conversation. Records are never deleted.
func (r *Registry) Close(_ context.Context, convID string) (*models.Conversation, error) {
	unlock := r.lockConversation(convID)
	defer unlock()
	conv, err := r.load(convID)
	if err != nil {
		return nil, err
	}
	if conv.Closed {
		return conv, nil
	}
	conv.Closed = true
	conv.UpdatedTS = timeutil.Now().UnixNano()
	if err := r.st.SetJSON(keys.GenConversationKey(conv.ID), conv); err != nil {
		return nil, err
	}
	logger.Info("conversation_closed", "conversation", conv.ID)
	return conv, nil
}

// ListForUser returns the user's conversations, most recent first. Agents
// also see their company's unassigned conversations.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	if err := keys.ValidateID(userID); err != nil {
		return nil, apperr.Validation("user_id", err.Error())
	}
	ids := map[string]struct{}{}
	collect := func(prefix string) error {
		return r.st.ScanPrefix(prefix, "", func(k string, _ []byte) (bool, error) {
			ids[keys.LastSegment(k)] = struct{}{}
			return true, nil
		})
	}
	if err := collect(keys.UserConversationsPrefix(userID)); err != nil {
		return nil, err
	}
	link, err := r.activeAgentLink(ctx, userID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		if err := collect(keys.CompanyConversationsPrefix(link.CompanyID)); err != nil {
			return nil, err
		}
	}

	out := make([]*models.Conversation, 0, len(ids))
	for id := range ids {
		conv, err := r.load(id)
		if apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if link != nil && conv.SellerCompanyID == link.CompanyID && conv.BuyerID != userID && conv.SellerID != userID {
			if a := conv.AgentKey(); a != "" && a != userID {
				continue
			}
		}
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].RecencyTS(), out[j].RecencyTS()
		if ri != rj {
			return ri > rj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AssignedConversations returns the conversations currently assigned to
// agentID, most recent first. The link lives on the conversation record;
// the membership index written by AssignAgent finds them.
func (r *Registry) AssignedConversations(_ context.Context, agentID string) ([]*models.Conversation, error) {
	if err := keys.ValidateID(agentID); err != nil {
		return nil, apperr.Validation("agent_id", err.Error())
	}
	var out []*models.Conversation
	err := r.st.ScanPrefix(keys.UserConversationsPrefix(agentID), "", func(k string, _ []byte) (bool, error) {
		conv, err := r.load(keys.LastSegment(k))
		if apperr.IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if conv.AgentKey() == agentID {
			out = append(out, conv)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].RecencyTS(), out[j].RecencyTS()
		if ri != rj {
			return ri > rj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
