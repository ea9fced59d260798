package gateway

import (
	"context"

	"marketchat/pkg/apperr"
	"marketchat/pkg/logger"
	"marketchat/pkg/models"
	"marketchat/pkg/registry"
	"marketchat/pkg/telemetry"
)

// CanSubscribe decides whether userID may attach to the named channel.
// A user may always join their own personal channel; a conversation
// channel follows the participant rule. The decision is recomputed from
// current records on every call.
func (g *Gateway) CanSubscribe(ctx context.Context, userID, channel string) (bool, error) {
	ch, err := models.ParseChannel(channel)
	if err != nil {
		return false, apperr.Validation("channel", err.Error())
	}
	ok, err := g.authorize(ctx, userID, ch)
	if err != nil {
		return false, err
	}
	if !ok {
		telemetry.SubscriptionDenials.Inc()
		logger.Debug("subscription_denied", "user", userID, "channel", channel)
	}
	return ok, nil
}

func (g *Gateway) authorize(ctx context.Context, userID string, ch models.Channel) (bool, error) {
	if userID == "" {
		return false, nil
	}
	switch ch.Class {
	case models.ChannelUser:
		return ch.ID == userID, nil
	case models.ChannelConversation:
		conv, err := g.reg.Get(ctx, ch.ID)
		if apperr.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		role, err := g.reg.Participant(ctx, conv, userID)
		if err != nil {
			return false, err
		}
		return role != registry.NotParticipant, nil
	}
	return false, nil
}
