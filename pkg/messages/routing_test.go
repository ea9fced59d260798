package messages_test

import (
	"context"
	"testing"

	"marketchat/internal/testenv"
	"marketchat/pkg/messages"
	"marketchat/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingPolicy(t *testing.T) {
	env := testenv.New(t, testenv.Options{})
	ctx := context.Background()
	conv := env.Conversation(t, "b1", "s1", "")
	a1 := "a1"
	assigned, err := env.Registry.AssignAgent(ctx, conv.ID, &a1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		policy messages.RoutingPolicy
		sender registry.ParticipantRole
		want   string
	}{
		{"buyer to seller by default", messages.RoutingPolicy{Accounts: env.Dir}, registry.ParticipantBuyer, "s1"},
		{"buyer to assigned agent", messages.RoutingPolicy{RouteToAgent: true, Accounts: env.Dir}, registry.ParticipantBuyer, "a1"},
		{"seller to buyer", messages.RoutingPolicy{RouteToAgent: true, Accounts: env.Dir}, registry.ParticipantSeller, "b1"},
		{"agent to buyer", messages.RoutingPolicy{RouteToAgent: true, Accounts: env.Dir}, registry.ParticipantAgent, "b1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.policy.Receiver(ctx, assigned, tt.sender)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = messages.RoutingPolicy{}.Receiver(ctx, assigned, registry.NotParticipant)
	assert.Error(t, err)
}

func TestRouteToAgentFallsBackWhenUnassigned(t *testing.T) {
	env := testenv.New(t, testenv.Options{RouteToAgent: true})
	conv := env.Conversation(t, "b1", "s1", "")
	msg := env.Text(t, conv.ID, "b1", "anyone there?")
	assert.Equal(t, "s1", msg.ReceiverID)

	a2 := "a2"
	_, err := env.Registry.AssignAgent(context.Background(), conv.ID, &a2)
	require.NoError(t, err)
	msg = env.Text(t, conv.ID, "b1", "still waiting")
	assert.Equal(t, "a2", msg.ReceiverID)
}
