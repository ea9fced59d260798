package readstate

import (
	"context"

	"marketchat/pkg/apperr"
	"marketchat/pkg/logger"
	"marketchat/pkg/models"
	"marketchat/pkg/registry"
	"marketchat/pkg/store"
	"marketchat/pkg/store/keys"
	"marketchat/pkg/telemetry"
	"marketchat/pkg/timeutil"
)

// Notifier is told when a reader clears unread messages.
type Notifier interface {
	PublishRead(conv *models.Conversation, readerID string, count int)
}

// Tracker maintains unread markers and read flags. A marker
// idx:unread:<user>:<conv>:<ts>:<seq> exists for a message's receiver
// while its read flag is false, so counting markers counts unread messages
// addressed to the user.
type Tracker struct {
	st       *store.Store
	reg      *registry.Registry
	lk       registry.Locker
	notifier Notifier
}

func New(st *store.Store, reg *registry.Registry, lk registry.Locker) *Tracker {
	return &Tracker{st: st, reg: reg, lk: lk}
}

func (t *Tracker) SetNotifier(n Notifier) { t.notifier = n }

// MarkConversationRead flips the read flag on messages in the conversation
// addressed to userID and clears their markers. It returns how many flags
// were flipped; a repeated call returns 0.
func (t *Tracker) MarkConversationRead(ctx context.Context, convID, userID string) (int, error) {
	tr := telemetry.Track("readstate.mark_read")
	defer tr.Finish()

	conv, err := t.reg.Get(ctx, convID)
	if err != nil {
		return 0, err
	}
	role, err := t.reg.Participant(ctx, conv, userID)
	if err != nil {
		return 0, err
	}
	if role == registry.NotParticipant {
		return 0, apperr.Forbidden("user " + userID + " is not a participant of conversation " + conv.ID)
	}
	tr.Mark("authorize")

	unlock := t.lk.Lock(registry.ConversationLock(conv.ID))
	var markers []keys.UnreadKeyParts
	var markerKeys []string
	err = t.st.ScanPrefix(keys.UnreadConversationPrefix(userID, conv.ID), "", func(k string, _ []byte) (bool, error) {
		p, err := keys.ParseUnreadKey(k)
		if err != nil {
			return false, err
		}
		markers = append(markers, p)
		markerKeys = append(markerKeys, k)
		return true, nil
	})
	if err != nil || len(markers) == 0 {
		unlock()
		return 0, err
	}

	now := timeutil.Now().UnixNano()
	n := 0
	b := t.st.NewBatch()
	for i, p := range markers {
		b.Delete(markerKeys[i])
		msgKey := keys.GenMessageKey(conv.ID, p.TS, p.Seq)
		var msg models.Message
		if err := t.st.GetJSON(msgKey, &msg); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			b.Close()
			unlock()
			return 0, err
		}
		if msg.ReceiverID != userID || msg.Read {
			continue
		}
		msg.Read = true
		msg.ReadTS = now
		b.SetJSON(msgKey, &msg)
		n++
	}
	err = t.st.Commit(b)
	unlock()
	if err != nil {
		return 0, err
	}
	tr.Mark("commit")
	if n == 0 {
		return 0, nil
	}

	telemetry.MessagesMarkedRead.Add(float64(n))
	logger.Info("conversation_marked_read", "conversation", conv.ID, "user", userID, "count", n)
	if t.notifier != nil {
		t.notifier.PublishRead(conv, userID, n)
	}
	return n, nil
}

// UnreadCount is the number of unread messages across all of userID's
// conversations.
func (t *Tracker) UnreadCount(_ context.Context, userID string) (int, error) {
	if err := keys.ValidateID(userID); err != nil {
		return 0, apperr.Validation("user_id", err.Error())
	}
	return t.st.CountPrefix(keys.UnreadUserPrefix(userID))
}

// UnreadByConversation breaks UnreadCount down per conversation.
func (t *Tracker) UnreadByConversation(_ context.Context, userID string) (map[string]int, error) {
	if err := keys.ValidateID(userID); err != nil {
		return nil, apperr.Validation("user_id", err.Error())
	}
	out := map[string]int{}
	err := t.st.ScanPrefix(keys.UnreadUserPrefix(userID), "", func(k string, _ []byte) (bool, error) {
		p, err := keys.ParseUnreadKey(k)
		if err != nil {
			logger.Warn("unread_key_invalid", "key", k, "error", err)
			return true, nil
		}
		out[p.ConversationID]++
		return true, nil
	})
	return out, err
}
