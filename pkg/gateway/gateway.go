package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketchat/pkg/apperr"
	"marketchat/pkg/directory"
	"marketchat/pkg/logger"
	"marketchat/pkg/models"
	"marketchat/pkg/outbox"
	"marketchat/pkg/registry"
	"marketchat/pkg/store"
	"marketchat/pkg/telemetry"
	"marketchat/pkg/timeutil"
)

// MessageSource loads stored messages.
type MessageSource interface {
	Get(ctx context.Context, msgID string) (*models.Message, error)
}

// UnreadCounter reports per-user unread totals.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type Options struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	ReadReceipts bool
	// PublishTimeout bounds a single broker publish.
	PublishTimeout time.Duration
}

// Gateway fans stored changes out to conversation and personal channels
// and answers channel authorization checks. It holds no conversation state.
type Gateway struct {
	st       *store.Store
	reg      *registry.Registry
	msgs     MessageSource
	unread   UnreadCounter
	accounts directory.Accounts
	queue    *outbox.Queue
	broker   Broker
	opts     Options

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(st *store.Store, reg *registry.Registry, msgs MessageSource, unread UnreadCounter, accounts directory.Accounts, queue *outbox.Queue, broker Broker, opts Options) *Gateway {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Gateway{
		st:       st,
		reg:      reg,
		msgs:     msgs,
		unread:   unread,
		accounts: accounts,
		queue:    queue,
		broker:   broker,
		opts:     opts,
		stop:     make(chan struct{}),
	}
}

// Publish schedules fan-out of a newly stored message. It never blocks and
// never reports failure to the caller; the durable outbox record covers a
// full queue.
func (g *Gateway) Publish(msg *models.Message, conv *models.Conversation) {
	g.enqueue(outbox.MessageTask(outbox.KindMessageCreated, msg), true)
}

// PublishUpdate schedules fan-out of a payment status change.
func (g *Gateway) PublishUpdate(msg *models.Message, conv *models.Conversation) {
	g.enqueue(outbox.MessageTask(outbox.KindMessageUpdated, msg), true)
}

// PublishRead schedules a read receipt. Receipts are best effort and not
// persisted.
func (g *Gateway) PublishRead(conv *models.Conversation, readerID string, count int) {
	if !g.opts.ReadReceipts || count <= 0 {
		return
	}
	g.enqueue(outbox.ReadTask(conv.ID, readerID, count, timeutil.Now().UnixNano()), false)
}

// PublishAssignment announces an agent change on the conversation channel
// and to the replaced agent. Open streams re-check access on every event,
// so a replaced agent's stream closes when this arrives.
func (g *Gateway) PublishAssignment(conv *models.Conversation, previousAgentID string) {
	g.enqueue(outbox.AssignTask(conv.ID, previousAgentID, timeutil.Now().UnixNano()), false)
}

func (g *Gateway) enqueue(t *outbox.Task, durable bool) {
	t.Durable = durable
	err := g.queue.Enqueue(t)
	switch {
	case err == nil, errors.Is(err, outbox.ErrAlreadyQueued):
	case errors.Is(err, outbox.ErrQueueFull):
		telemetry.DeliveryFailures.WithLabelValues("queue_full").Inc()
		logger.Warn("delivery_enqueue_failed", "kind", t.Kind, "conversation", t.ConversationID, "error", apperr.Delivery(err), "durable", durable)
	default:
		telemetry.DeliveryFailures.WithLabelValues("queue_closed").Inc()
		logger.Warn("delivery_enqueue_failed", "kind", t.Kind, "conversation", t.ConversationID, "error", apperr.Delivery(err), "durable", durable)
	}
}

// Start launches the delivery workers.
func (g *Gateway) Start() {
	telemetry.SetQueueSource(g.queue)
	for i := 0; i < g.opts.Workers; i++ {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.queue.RunWorker(g.stop, g.handle)
		}()
	}
	logger.Info("delivery_workers_started", "workers", g.opts.Workers, "queue_capacity", g.queue.Cap())
}

// Shutdown closes the queue and lets workers drain it until ctx expires.
// Undelivered durable tasks stay in the outbox for the next start.
func (g *Gateway) Shutdown(ctx context.Context) error {
	_ = g.queue.Close()
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.stopOnce.Do(func() { close(g.stop) })
		<-done
		return ctx.Err()
	}
}

func (g *Gateway) handle(t *outbox.Task) error {
	tr := telemetry.Track("gateway.deliver")
	defer tr.Finish()

	var err error
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		t.Attempt = attempt
		err = g.deliver(t)
		if err == nil || !retryable(err) {
			break
		}
		telemetry.DeliveryFailures.WithLabelValues("publish").Inc()
		logger.Warn("delivery_attempt_failed", "kind", t.Kind, "conversation", t.ConversationID, "attempt", attempt, "error", err)
		if attempt == g.opts.MaxAttempts {
			break
		}
		select {
		case <-time.After(g.opts.RetryBackoff * time.Duration(attempt)):
		case <-g.stop:
			return apperr.Delivery(err)
		}
	}
	tr.Mark("deliver")

	switch {
	case err == nil:
		telemetry.Deliveries.WithLabelValues(string(t.Kind)).Inc()
	case !retryable(err):
		// the referenced record is gone; nothing left to announce
		logger.Warn("delivery_dropped", "kind", t.Kind, "conversation", t.ConversationID, "message", t.MessageID, "error", err)
	default:
		logger.Error("delivery_failed", "kind", t.Kind, "conversation", t.ConversationID, "message", t.MessageID, "attempts", t.Attempt, "error", apperr.Delivery(err))
		return apperr.Delivery(err)
	}
	if ackErr := outbox.Ack(g.st, t); ackErr != nil {
		logger.Error("outbox_ack_failed", "key", t.Key(), "error", ackErr)
	}
	return nil
}

func retryable(err error) bool {
	return !apperr.IsNotFound(err)
}

func (g *Gateway) deliver(t *outbox.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.PublishTimeout)
	defer cancel()

	conv, err := g.reg.Get(ctx, t.ConversationID)
	if err != nil {
		return err
	}
	switch t.Kind {
	case outbox.KindMessageCreated, outbox.KindMessageUpdated:
		msg, err := g.msgs.Get(ctx, t.MessageID)
		if err != nil {
			return err
		}
		return g.fanOutMessage(ctx, string(t.Kind), msg, conv)
	case outbox.KindConversationRead:
		p := &Payload{Event: string(t.Kind), ConversationID: conv.ID, ReaderID: t.ReaderID, Count: t.Count}
		return g.fanOut(ctx, p, conv, t.ReaderID)
	case outbox.KindConversationAssigned:
		p := &Payload{Event: string(t.Kind), ConversationID: conv.ID, AgentID: conv.AgentKey(), PreviousAgentID: t.PreviousAgentID}
		if err := g.fanOut(ctx, p, conv, ""); err != nil {
			return err
		}
		if t.PreviousAgentID == "" || t.PreviousAgentID == conv.AgentKey() {
			return nil
		}
		data, err := p.Encode()
		if err != nil {
			return err
		}
		return g.broker.Publish(ctx, models.UserChannel(t.PreviousAgentID).String(), Event{Type: p.Event, Data: data})
	}
	return apperr.NotFound("task kind", string(t.Kind))
}

func (g *Gateway) fanOutMessage(ctx context.Context, kind string, msg *models.Message, conv *models.Conversation) error {
	sender := models.Sender{ID: msg.SenderID}
	if u, err := g.accounts.User(ctx, msg.SenderID); err == nil {
		sender = u.AsSender()
	} else if !apperr.IsNotFound(err) {
		return err
	}
	p := &Payload{Event: kind, ConversationID: conv.ID, Message: msg, Sender: &sender}
	return g.fanOut(ctx, p, conv, msg.SenderID)
}

// fanOut publishes p on the conversation channel and on the personal
// channel of every participant other than origin.
func (g *Gateway) fanOut(ctx context.Context, p *Payload, conv *models.Conversation, origin string) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	if err := g.broker.Publish(ctx, models.ConversationChannel(conv.ID).String(), Event{Type: p.Event, Data: data}); err != nil {
		return err
	}
	participants, err := g.reg.Participants(ctx, conv)
	if err != nil {
		return err
	}
	for _, uid := range participants {
		if uid == origin {
			continue
		}
		personal := *p
		if g.unread != nil {
			if n, err := g.unread.UnreadCount(ctx, uid); err == nil {
				personal.UnreadCount = &n
			}
		}
		data, err := personal.Encode()
		if err != nil {
			return err
		}
		if err := g.broker.Publish(ctx, models.UserChannel(uid).String(), Event{Type: p.Event, Data: data}); err != nil {
			return err
		}
	}
	return nil
}
