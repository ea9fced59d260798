package messages

import (
	"context"
	"encoding/json"
	"strings"

	"marketchat/pkg/apperr"
	"marketchat/pkg/models"
	"marketchat/pkg/registry"
	"marketchat/pkg/store"
	"marketchat/pkg/store/keys"
)

// Get loads a message by id without any participant check.
func (s *Store) Get(_ context.Context, msgID string) (*models.Message, error) {
	msg, _, err := s.loadByID(msgID)
	if err != nil {
		return nil, err
	}
	return s.decorate(msg), nil
}

func (s *Store) loadByID(msgID string) (*models.Message, string, error) {
	if err := keys.ValidateID(msgID); err != nil {
		return nil, "", apperr.NotFound("message", msgID)
	}
	k, err := s.st.Get(keys.GenMessageIDIndex(msgID))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, "", apperr.NotFound("message", msgID)
		}
		return nil, "", err
	}
	msg, err := s.loadByKey(string(k))
	return msg, string(k), err
}

func (s *Store) loadByKey(msgKey string) (*models.Message, error) {
	var msg models.Message
	if err := s.st.GetJSON(msgKey, &msg); err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("message", msgKey)
		}
		return nil, err
	}
	return &msg, nil
}

// List returns a page of the conversation's messages in (timestamp, seq)
// order. Only participants may list.
func (s *Store) List(ctx context.Context, convID, userID string, page models.PaginationRequest) ([]*models.Message, *models.PaginationResponse, error) {
	conv, err := s.reg.Get(ctx, convID)
	if err != nil {
		return nil, nil, err
	}
	role, err := s.reg.Participant(ctx, conv, userID)
	if err != nil {
		return nil, nil, err
	}
	if role == registry.NotParticipant {
		return nil, nil, apperr.Forbidden("user " + userID + " is not a participant of conversation " + conv.ID)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = s.opts.DefaultPageSize
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}
	prefix := keys.MessagePrefix(conv.ID)
	after := ""
	if page.After != "" {
		_, k, err := s.loadByID(page.After)
		if err != nil {
			return nil, nil, apperr.Validation("after", "unknown message "+page.After)
		}
		if !strings.HasPrefix(k, prefix) {
			return nil, nil, apperr.Validation("after", "message "+page.After+" belongs to another conversation")
		}
		after = k
	}

	out := make([]*models.Message, 0, limit)
	hasMore := false
	err = s.st.ScanPrefix(prefix, after, func(_ string, v []byte) (bool, error) {
		if len(out) == limit {
			hasMore = true
			return false, nil
		}
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		out = append(out, s.decorate(&m))
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	resp := &models.PaginationResponse{Limit: limit, HasMore: hasMore, Count: len(out)}
	if hasMore && len(out) > 0 {
		resp.NextAfter = out[len(out)-1].ID
	}
	return out, resp, nil
}

// Last returns the newest message of a conversation, or nil when empty.
func (s *Store) Last(_ context.Context, convID string) (*models.Message, error) {
	var last *models.Message
	err := s.st.ScanPrefixReverse(keys.MessagePrefix(convID), func(_ string, v []byte) (bool, error) {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return false, err
		}
		last = s.decorate(&m)
		return false, nil
	})
	return last, err
}
