package readstate_test

import (
	"context"
	"sync"
	"testing"

	"marketchat/internal/testenv"
	"marketchat/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkReadIsIdempotent(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	ctx := context.Background()
	conv := env.Conversation(t, "b1", "s1", "")
	env.Text(t, conv.ID, "s1", "one")
	env.Text(t, conv.ID, "s1", "two")
	env.Text(t, conv.ID, "b1", "mine")

	n, err := env.Reads.UnreadCount(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = env.Reads.MarkConversationRead(ctx, conv.ID, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = env.Reads.MarkConversationRead(ctx, conv.ID, "b1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = env.Reads.UnreadCount(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// the seller's own unread state is untouched
	n, err = env.Reads.UnreadCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkReadFlipsReceiverFlagsOnce(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	ctx := context.Background()
	conv := env.Conversation(t, "b1", "s1", "")
	toBuyer := env.Text(t, conv.ID, "s1", "for you")
	toSeller := env.Text(t, conv.ID, "b1", "for seller")

	_, err := env.Reads.MarkConversationRead(ctx, conv.ID, "b1")
	require.NoError(t, err)

	got, err := env.Messages.Get(ctx, toBuyer.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
	firstReadTS := got.ReadTS
	assert.NotZero(t, firstReadTS)

	got, err = env.Messages.Get(ctx, toSeller.ID)
	require.NoError(t, err)
	assert.False(t, got.Read, "buyer must not mark messages addressed to the seller")

	_, err = env.Reads.MarkConversationRead(ctx, conv.ID, "b1")
	require.NoError(t, err)
	got, err = env.Messages.Get(ctx, toBuyer.ID)
	require.NoError(t, err)
	assert.Equal(t, firstReadTS, got.ReadTS)
}

func TestConcurrentMarkReadClearsOnce(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	ctx := context.Background()
	conv := env.Conversation(t, "b1", "s1", "")
	for i := 0; i < 5; i++ {
		env.Text(t, conv.ID, "s1", "x")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := env.Reads.MarkConversationRead(ctx, conv.ID, "b1")
			if err != nil {
				t.Errorf("mark read: %v", err)
				return
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, total)
}

func TestMarkReadRequiresParticipant(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	ctx := context.Background()
	conv := env.Conversation(t, "b1", "s1", "")
	_, err := env.Reads.MarkConversationRead(ctx, conv.ID, "b2")
	assert.True(t, apperr.IsForbidden(err))
	_, err = env.Reads.MarkConversationRead(ctx, "missing", "b1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestUnreadByConversation(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	ctx := context.Background()
	c1 := env.Conversation(t, "b1", "s1", "")
	c2 := env.Conversation(t, "b1", "s2", "")
	env.Text(t, c1.ID, "s1", "a")
	env.Text(t, c1.ID, "s1", "b")
	env.Text(t, c2.ID, "s2", "c")

	got, err := env.Reads.UnreadByConversation(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{c1.ID: 2, c2.ID: 1}, got)
}

func TestReassignmentDropsPreviousAgentUnread(t *testing.T) {
	env := testenv.New(t, testenv.Options{RouteToAgent: true})
	ctx := context.Background()
	conv := env.Conversation(t, "b1", "s1", "")
	a1, a2 := "a1", "a2"
	_, err := env.Registry.AssignAgent(ctx, conv.ID, &a1)
	require.NoError(t, err)
	env.Text(t, conv.ID, "b1", "question")

	n, err := env.Reads.UnreadCount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.Registry.AssignAgent(ctx, conv.ID, &a2)
	require.NoError(t, err)
	n, err = env.Reads.UnreadCount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// With an agent assigned, each message is unread only for the party it is
// routed to.
func TestUnreadFollowsReceiverWithAssignedAgent(t *testing.T) {
	env := testenv.New(t, testenv.Options{RouteToAgent: true})
	ctx := context.Background()
	conv := env.Conversation(t, "b1", "s1", "")
	a1 := "a1"
	_, err := env.Registry.AssignAgent(ctx, conv.ID, &a1)
	require.NoError(t, err)

	quote := env.Text(t, conv.ID, "s1", "quote attached")
	require.Equal(t, "b1", quote.ReceiverID)

	unread := func(user string) int {
		t.Helper()
		n, err := env.Reads.UnreadCount(ctx, user)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 1, unread("b1"))
	assert.Equal(t, 0, unread("a1"), "the agent is not the receiver")
	assert.Equal(t, 0, unread("s1"))

	n, err := env.Reads.MarkConversationRead(ctx, conv.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	got, err := env.Messages.Get(ctx, quote.ID)
	require.NoError(t, err)
	assert.False(t, got.Read)

	question := env.Text(t, conv.ID, "b1", "can you ship by friday?")
	require.Equal(t, "a1", question.ReceiverID)
	env.Text(t, conv.ID, "a1", "yes")
	assert.Equal(t, 1, unread("a1"))
	assert.Equal(t, 0, unread("s1"), "the seller is not charged for agent traffic")
	assert.Equal(t, 2, unread("b1"))

	n, err = env.Reads.MarkConversationRead(ctx, conv.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = env.Messages.Get(ctx, question.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)

	n, err = env.Reads.MarkConversationRead(ctx, conv.ID, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, unread("b1"))
}
