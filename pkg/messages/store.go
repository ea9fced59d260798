package messages

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketchat/pkg/apperr"
	"marketchat/pkg/directory"
	"marketchat/pkg/logger"
	"marketchat/pkg/models"
	"marketchat/pkg/outbox"
	"marketchat/pkg/registry"
	"marketchat/pkg/store"
	"marketchat/pkg/store/keys"
	"marketchat/pkg/telemetry"
	"marketchat/pkg/timeutil"
)

// Publisher receives messages after they are durably stored. It must not
// block.
type Publisher interface {
	Publish(msg *models.Message, conv *models.Conversation)
	PublishUpdate(msg *models.Message, conv *models.Conversation)
}

type Options struct {
	MaxBodyBytes    int
	DefaultPageSize int
	MaxPageSize     int
	RouteToAgent    bool
}

// Store appends and lists conversation messages.
type Store struct {
	st       *store.Store
	reg      *registry.Registry
	accounts directory.Accounts
	catalog  directory.Catalog
	files    directory.Files
	lk       registry.Locker
	policy   RoutingPolicy
	opts     Options
	pub      Publisher
}

func New(st *store.Store, reg *registry.Registry, accounts directory.Accounts, catalog directory.Catalog, files directory.Files, lk registry.Locker, opts Options) *Store {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 200
	}
	return &Store{
		st:       st,
		reg:      reg,
		accounts: accounts,
		catalog:  catalog,
		files:    files,
		lk:       lk,
		policy:   RoutingPolicy{RouteToAgent: opts.RouteToAgent, Accounts: accounts},
		opts:     opts,
	}
}

// SetPublisher installs the delivery hook. Without one, messages are only
// stored and recovered from the outbox later.
func (s *Store) SetPublisher(p Publisher) { s.pub = p }

type AppendRequest struct {
	ConversationID string
	SenderID       string
	Body           string
	Type           models.MessageType
	QuoteRef       *models.QuoteReference
	PaymentLink    *models.PaymentLink
	ProductID      string
	Attachments    []models.Attachment
}

// Append validates and stores one message. It returns once the message,
// its unread markers and its outbox record are committed; delivery happens
// asynchronously.
func (s *Store) Append(ctx context.Context, req AppendRequest) (*models.Message, error) {
	start := time.Now()
	tr := telemetry.Track("messages.append")
	defer tr.Finish()

	msg, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	tr.Mark("validate")

	unlock := s.lk.Lock(registry.ConversationLock(req.ConversationID))
	conv, err := s.reg.Get(ctx, req.ConversationID)
	if err != nil {
		unlock()
		return nil, err
	}
	role, err := s.reg.Participant(ctx, conv, req.SenderID)
	if err != nil {
		unlock()
		return nil, err
	}
	if role == registry.NotParticipant {
		unlock()
		return nil, apperr.Forbidden("sender " + req.SenderID + " is not a participant of conversation " + conv.ID)
	}
	if conv.Closed {
		unlock()
		return nil, apperr.Forbidden("conversation " + conv.ID + " is closed")
	}
	receiver, err := s.policy.Receiver(ctx, conv, role)
	if err != nil {
		unlock()
		return nil, err
	}
	tr.Mark("authorize")

	now := timeutil.Now().UnixNano()
	if now < conv.LastMessageTS {
		now = conv.LastMessageTS
	}
	msg.ReceiverID = receiver
	msg.CreatedTS = now
	msg.Seq = conv.LastSeq + 1
	if msg.PaymentLink != nil {
		// payment ids are unique across conversations
		unlockPayment := s.lk.Lock(PaymentLock(msg.PaymentLink.PaymentID))
		release := unlock
		unlock = func() {
			unlockPayment()
			release()
		}
		taken, err := s.st.Has(keys.GenPaymentIndex(msg.PaymentLink.PaymentID))
		if err != nil {
			unlock()
			return nil, err
		}
		if taken {
			unlock()
			return nil, apperr.Conflict("payment " + msg.PaymentLink.PaymentID + " is already linked to a message")
		}
	}

	msgKey := keys.GenMessageKey(conv.ID, msg.CreatedTS, msg.Seq)
	b := s.st.NewBatch()
	b.SetJSON(msgKey, msg)
	b.Set(keys.GenMessageIDIndex(msg.ID), []byte(msgKey))
	if msg.PaymentLink != nil {
		b.Set(keys.GenPaymentIndex(msg.PaymentLink.PaymentID), []byte(msgKey))
	}
	b.Set(keys.GenUnreadKey(msg.ReceiverID, conv.ID, msg.CreatedTS, msg.Seq), nil)
	conv.LastSeq = msg.Seq
	conv.LastMessageTS = msg.CreatedTS
	b.SetJSON(keys.GenConversationKey(conv.ID), conv)
	if err := outbox.Stage(b, outbox.MessageTask(outbox.KindMessageCreated, msg)); err != nil {
		b.Close()
		unlock()
		return nil, err
	}
	err = s.st.Commit(b)
	unlock()
	if err != nil {
		logger.Error("message_append_failed", "conversation", conv.ID, "error", err)
		return nil, err
	}
	tr.Mark("commit")

	telemetry.MessagesAppended.WithLabelValues(string(msg.Type)).Inc()
	telemetry.AppendLatency.Observe(time.Since(start).Seconds())
	logger.Info("message_appended", "conversation", conv.ID, "message", msg.ID, "seq", msg.Seq, "type", msg.Type, "sender", msg.SenderID, "receiver", msg.ReceiverID)

	if s.pub != nil {
		s.pub.Publish(msg, conv)
	}
	return s.decorate(msg), nil
}

// build validates the request payload and returns the message skeleton.
func (s *Store) build(ctx context.Context, req AppendRequest) (*models.Message, error) {
	if req.Type == "" {
		req.Type = models.MessageText
	}
	if err := keys.ValidateID(req.SenderID); err != nil {
		return nil, apperr.Validation("sender_id", err.Error())
	}
	if s.opts.MaxBodyBytes > 0 && len(req.Body) > s.opts.MaxBodyBytes {
		return nil, apperr.Validation("body", "body exceeds maximum size")
	}
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Body:           req.Body,
		Type:           req.Type,
		QuoteRef:       req.QuoteRef,
	}
	if len(req.Attachments) > 0 {
		msg.Attachments = append([]models.Attachment(nil), req.Attachments...)
	}
	for i := range msg.Attachments {
		msg.Attachments[i].URL = ""
	}

	if req.PaymentLink != nil {
		pl := *req.PaymentLink
		pl.Currency = strings.ToUpper(strings.TrimSpace(pl.Currency))
		pl.PaidAt = nil
		if pl.Status == "" {
			pl.Status = models.PaymentPending
		}
		if req.Type == models.MessagePaymentLink {
			if err := keys.ValidateID(pl.PaymentID); err != nil {
				return nil, apperr.Validation("payment_link.payment_id", err.Error())
			}
			if pl.Status != models.PaymentPending {
				return nil, apperr.Validation("payment_link.status", "a new payment link must be pending")
			}
			if pl.ExpiresAt != nil && *pl.ExpiresAt <= timeutil.Now().UnixNano() {
				return nil, apperr.Validation("payment_link.expires_at", "payment link is already expired")
			}
		}
		msg.PaymentLink = &pl
	}

	switch {
	case req.Type == models.MessageProductAttachment:
		if strings.TrimSpace(req.ProductID) == "" {
			return nil, apperr.Validation("product_id", "product is required for product attachments")
		}
		if s.catalog == nil {
			return nil, apperr.NotFound("product", req.ProductID)
		}
		p, err := s.catalog.Product(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		snap := *p
		msg.ProductContext = &snap
	case req.ProductID != "":
		return nil, apperr.Validation("product_id", "product is only allowed on product attachments")
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// decorate returns a copy with attachment URLs resolved for clients.
func (s *Store) decorate(msg *models.Message) *models.Message {
	if s.files == nil || len(msg.Attachments) == 0 {
		return msg
	}
	out := *msg
	out.Attachments = make([]models.Attachment, len(msg.Attachments))
	for i, a := range msg.Attachments {
		a.URL = s.files.AttachmentURL(a.Path)
		out.Attachments[i] = a
	}
	return &out
}
