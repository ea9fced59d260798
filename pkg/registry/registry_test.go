package registry

import (
	"context"
	"sync"
	"testing"

	"marketchat/pkg/apperr"
	"marketchat/pkg/directory"
	"marketchat/pkg/models"
	"marketchat/pkg/store"
	"marketchat/pkg/store/locks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg *Registry
	dir *directory.PebbleDirectory
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(t.TempDir(), store.Options{DisableWAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	dir := directory.NewPebble(st)

	users := []*models.User{
		{ID: "b1", Name: "Buyer", Email: "b1@example.com", Role: models.RoleBuyer},
		{ID: "s1", Name: "Seller", Email: "s1@example.com", Role: models.RoleSeller, CompanyID: "co1"},
		{ID: "s2", Name: "Other Seller", Role: models.RoleSeller, CompanyID: "co2"},
		{ID: "a1", Name: "Agent One", Role: models.RoleAgent},
		{ID: "a2", Name: "Agent Two", Role: models.RoleAgent},
		{ID: "a3", Name: "Foreign Agent", Role: models.RoleAgent},
		{ID: "a4", Name: "Inactive Agent", Role: models.RoleAgent},
	}
	for _, u := range users {
		require.NoError(t, dir.PutUser(ctx, u))
	}
	for _, l := range []*models.AgentLink{
		{AgentID: "a1", CompanyID: "co1", IsActive: true},
		{AgentID: "a2", CompanyID: "co1", IsActive: true},
		{AgentID: "a3", CompanyID: "co2", IsActive: true},
		{AgentID: "a4", CompanyID: "co1", IsActive: false},
	} {
		require.NoError(t, dir.PutAgentLink(ctx, l))
	}
	require.NoError(t, dir.PutProduct(ctx, &models.ProductSnapshot{ID: "p1", Name: "Cable", Price: 2550, Unit: "meter"}))
	return &fixture{reg: New(st, dir, dir, locks.New()), dir: dir}
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cases := []struct{ buyer, seller, product string }{
		{"b1", "s1", ""},
		{"b1", "s1", "p1"},
		{"b1", "s2", ""},
	}
	seen := map[string]bool{}
	for _, c := range cases {
		first, created, err := f.reg.ResolveOrCreate(ctx, c.buyer, c.seller, c.product)
		require.NoError(t, err)
		assert.True(t, created)
		second, created, err := f.reg.ResolveOrCreate(ctx, c.buyer, c.seller, c.product)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.False(t, seen[first.ID], "distinct tuples must map to distinct conversations")
		seen[first.ID] = true
	}
}

func TestResolveOrCreateConcurrentFirstCalls(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "p1")
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent resolve produced different ids: %v", ids)
		}
	}
	list, err := f.reg.ListForUser(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResolveOrCreateErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tests := []struct {
		name           string
		buyer, seller  string
		product        string
		check          func(error) bool
	}{
		{"same party", "s1", "s1", "", apperr.IsValidation},
		{"unknown buyer", "ghost", "s1", "", apperr.IsNotFound},
		{"unknown seller", "b1", "ghost", "", apperr.IsNotFound},
		{"seller as buyer", "s2", "s1", "", apperr.IsValidation},
		{"buyer as seller", "b1", "a1", "", apperr.IsValidation},
		{"unknown product", "b1", "s1", "p404", apperr.IsNotFound},
		{"malformed id", "b:1", "s1", "", apperr.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.reg.ResolveOrCreate(ctx, tt.buyer, tt.seller, tt.product)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
		})
	}
}

func TestAssignAgent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	conv, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "")
	require.NoError(t, err)

	a1 := "a1"
	got, err := f.reg.AssignAgent(ctx, conv.ID, &a1)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AgentKey())

	foreign := "a3"
	_, err = f.reg.AssignAgent(ctx, conv.ID, &foreign)
	assert.True(t, apperr.IsConflict(err), "foreign agent: %v", err)

	inactive := "a4"
	_, err = f.reg.AssignAgent(ctx, conv.ID, &inactive)
	assert.True(t, apperr.IsConflict(err), "inactive agent: %v", err)

	buyer := "b1"
	_, err = f.reg.AssignAgent(ctx, conv.ID, &buyer)
	assert.True(t, apperr.IsValidation(err))

	ghost := "nobody"
	_, err = f.reg.AssignAgent(ctx, conv.ID, &ghost)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.reg.AssignAgent(ctx, "missing", &a1)
	assert.True(t, apperr.IsNotFound(err))

	got, err = f.reg.AssignAgent(ctx, conv.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedAgentID)

	reloaded, err := f.reg.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.AssignedAgentID)
}

func TestParticipantRule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	conv, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "")
	require.NoError(t, err)

	check := func(user string, want ParticipantRole) {
		t.Helper()
		c, err := f.reg.Get(ctx, conv.ID)
		require.NoError(t, err)
		got, err := f.reg.Participant(ctx, c, user)
		require.NoError(t, err)
		assert.Equal(t, want, got, "user %s", user)
	}
	check("b1", ParticipantBuyer)
	check("s1", ParticipantSeller)
	check("a1", ParticipantAgent)
	check("a2", ParticipantAgent)
	check("a3", NotParticipant)
	check("a4", NotParticipant)
	check("s2", NotParticipant)
	check("ghost", NotParticipant)

	a2 := "a2"
	_, err = f.reg.AssignAgent(ctx, conv.ID, &a2)
	require.NoError(t, err)
	check("a1", NotParticipant)
	check("a2", ParticipantAgent)
}

func TestCloseAndReopen(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	conv, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "")
	require.NoError(t, err)
	closed, err := f.reg.Close(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, closed.Closed)

	again, created, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
	assert.False(t, again.Closed)
}

func TestListForUserIncludesUnassignedForAgents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	c1, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "")
	require.NoError(t, err)
	c2, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "p1")
	require.NoError(t, err)
	_, _, err = f.reg.ResolveOrCreate(ctx, "b1", "s2", "")
	require.NoError(t, err)

	a2 := "a2"
	_, err = f.reg.AssignAgent(ctx, c2.ID, &a2)
	require.NoError(t, err)

	ids := func(user string) []string {
		list, err := f.reg.ListForUser(ctx, user)
		require.NoError(t, err)
		var out []string
		for _, c := range list {
			out = append(out, c.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []string{c1.ID}, ids("a1"))
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, ids("a2"))
	assert.Len(t, ids("b1"), 3)
	assert.Len(t, ids("s1"), 2)
	assert.Empty(t, ids("a4"))

	// most recently touched first
	assert.Equal(t, c2.ID, ids("s1")[0])
}

func TestParticipantsSkipInactiveAgent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	conv, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "")
	require.NoError(t, err)
	a1 := "a1"
	conv, err = f.reg.AssignAgent(ctx, conv.ID, &a1)
	require.NoError(t, err)

	got, err := f.reg.Participants(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "s1", "a1"}, got)

	require.NoError(t, f.dir.PutAgentLink(ctx, &models.AgentLink{AgentID: "a1", CompanyID: "co1", IsActive: false}))
	got, err = f.reg.Participants(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "s1"}, got)
}

type assignmentRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *assignmentRecorder) PublishAssignment(conv *models.Conversation, previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, previous+">"+conv.AgentKey())
}

func TestAssignedConversationsAndNotifier(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	rec := &assignmentRecorder{}
	f.reg.SetNotifier(rec)

	c1, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "")
	require.NoError(t, err)
	c2, _, err := f.reg.ResolveOrCreate(ctx, "b1", "s1", "p1")
	require.NoError(t, err)
	a1, a2 := "a1", "a2"
	_, err = f.reg.AssignAgent(ctx, c1.ID, &a1)
	require.NoError(t, err)
	_, err = f.reg.AssignAgent(ctx, c2.ID, &a1)
	require.NoError(t, err)

	got, err := f.reg.AssignedConversations(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = f.reg.AssignAgent(ctx, c1.ID, &a2)
	require.NoError(t, err)
	// repeating the current assignment changes nothing
	_, err = f.reg.AssignAgent(ctx, c1.ID, &a2)
	require.NoError(t, err)

	got, err = f.reg.AssignedConversations(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c2.ID, got[0].ID)
	got, err = f.reg.AssignedConversations(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c1.ID, got[0].ID)

	assert.Equal(t, []string{">a1", ">a1", "a1>a2"}, rec.calls)

	_, err = f.reg.AssignedConversations(ctx, "bad id")
	assert.True(t, apperr.IsValidation(err))
}
