// Package testenv wires the messaging core against a throwaway pebble
// store for package tests.
package testenv

import (
	"context"
	"testing"
	"time"

	"marketchat/pkg/directory"
	"marketchat/pkg/gateway"
	"marketchat/pkg/messages"
	"marketchat/pkg/models"
	"marketchat/pkg/outbox"
	"marketchat/pkg/readstate"
	"marketchat/pkg/registry"
	"marketchat/pkg/store"
	"marketchat/pkg/store/locks"
)

type Env struct {
	Store    *store.Store
	Dir      *directory.PebbleDirectory
	Registry *registry.Registry
	Messages *messages.Store
	Reads    *readstate.Tracker
	Queue    *outbox.Queue
	Hub      *gateway.Hub
	Gateway  *gateway.Gateway
}

type Options struct {
	RouteToAgent bool
	// StartWorkers runs delivery workers; otherwise tasks stay queued.
	StartWorkers  bool
	QueueCapacity int
	ReadReceipts  bool
}

// New builds an Env seeded with the marketplace fixture:
//
//	b1, b2     buyers
//	s1 (co1)   seller, s2 (co2) seller
//	a1, a2     active agents of co1
//	a3         active agent of co2
//	a4         inactive agent of co1
//	p1         product "Copper cable", 25.50 per meter, sold by co1
func New(t testing.TB, opts Options) *Env {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.Options{DisableWAL: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	dir := directory.NewPebble(st)
	lk := locks.New()
	reg := registry.New(st, dir, dir, lk)
	msgs := messages.New(st, reg, dir, dir, directory.PublicFiles{BaseURL: "https://files.example.com"}, lk, messages.Options{
		MaxBodyBytes: 4096,
		RouteToAgent: opts.RouteToAgent,
	})
	reads := readstate.New(st, reg, lk)
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = 128
	}
	q := outbox.NewQueue(capacity)
	hub := gateway.NewHub(32)
	gw := gateway.New(st, reg, msgs, reads, dir, q, gateway.HubBroker{Hub: hub}, gateway.Options{
		Workers:      1,
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
		ReadReceipts: opts.ReadReceipts,
	})
	msgs.SetPublisher(gw)
	reads.SetNotifier(gw)
	reg.SetNotifier(gw)

	env := &Env{Store: st, Dir: dir, Registry: reg, Messages: msgs, Reads: reads, Queue: q, Hub: hub, Gateway: gw}
	env.seed(t)
	if opts.StartWorkers {
		gw.Start()
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		_ = st.Close()
	})
	return env
}

func (e *Env) seed(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	for _, u := range []*models.User{
		{ID: "b1", Name: "Bea Buyer", Email: "bea@buyer.example", Role: models.RoleBuyer},
		{ID: "b2", Name: "Ben Buyer", Email: "ben@buyer.example", Role: models.RoleBuyer},
		{ID: "s1", Name: "Sol Seller", Email: "sol@co1.example", Role: models.RoleSeller, CompanyID: "co1"},
		{ID: "s2", Name: "Sam Seller", Email: "sam@co2.example", Role: models.RoleSeller, CompanyID: "co2"},
		{ID: "a1", Name: "Ana Agent", Email: "ana@co1.example", Role: models.RoleAgent},
		{ID: "a2", Name: "Art Agent", Email: "art@co1.example", Role: models.RoleAgent},
		{ID: "a3", Name: "Ari Agent", Email: "ari@co2.example", Role: models.RoleAgent},
		{ID: "a4", Name: "Old Agent", Email: "old@co1.example", Role: models.RoleAgent},
	} {
		must(e.Dir.PutUser(ctx, u))
	}
	must(e.Dir.PutCompany(ctx, &models.Company{ID: "co1", Name: "Cebu Wire Works", OwnerID: "s1"}))
	must(e.Dir.PutCompany(ctx, &models.Company{ID: "co2", Name: "Davao Textiles", OwnerID: "s2"}))
	for _, l := range []*models.AgentLink{
		{AgentID: "a1", CompanyID: "co1", IsActive: true},
		{AgentID: "a2", CompanyID: "co1", IsActive: true},
		{AgentID: "a3", CompanyID: "co2", IsActive: true},
		{AgentID: "a4", CompanyID: "co1", IsActive: false},
	} {
		must(e.Dir.PutAgentLink(ctx, l))
	}
	must(e.Dir.PutProduct(ctx, &models.ProductSnapshot{
		ID: "p1", Name: "Copper cable", HasImage: true, Price: 2550, Unit: "meter", CompanyName: "Cebu Wire Works",
	}))
}

// Conversation resolves (buyer, seller, product) or fails the test.
func (e *Env) Conversation(t testing.TB, buyer, seller, product string) *models.Conversation {
	t.Helper()
	conv, _, err := e.Registry.ResolveOrCreate(context.Background(), buyer, seller, product)
	if err != nil {
		t.Fatalf("resolve conversation: %v", err)
	}
	return conv
}

// Text appends a text message or fails the test.
func (e *Env) Text(t testing.TB, convID, sender, body string) *models.Message {
	t.Helper()
	msg, err := e.Messages.Append(context.Background(), messages.AppendRequest{
		ConversationID: convID, SenderID: sender, Body: body, Type: models.MessageText,
	})
	if err != nil {
		t.Fatalf("append from %s: %v", sender, err)
	}
	return msg
}
