package messages

import (
	"context"

	"marketchat/pkg/apperr"
	"marketchat/pkg/logger"
	"marketchat/pkg/models"
	"marketchat/pkg/outbox"
	"marketchat/pkg/registry"
	"marketchat/pkg/store"
	"marketchat/pkg/store/keys"
	"marketchat/pkg/timeutil"
)

var paymentTransitions = map[string]map[string]bool{
	models.PaymentPending: {models.PaymentPaid: true, models.PaymentExpired: true, models.PaymentCancelled: true},
}

// PaymentLock is the keyed lock guarding a payment id's index entry. It is
// taken after the conversation lock.
func PaymentLock(paymentID string) string { return "pay:" + paymentID }

// UpdatePaymentStatus records the payment integration's latest status for
// the message carrying paymentID and republishes it. Repeating the current
// status is a no-op.
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID, status string, paidAt *int64) (*models.Message, error) {
	switch status {
	case models.PaymentPending, models.PaymentPaid, models.PaymentExpired, models.PaymentCancelled:
	default:
		return nil, apperr.Validation("status", "unknown payment status "+status)
	}
	if err := keys.ValidateID(paymentID); err != nil {
		return nil, apperr.NotFound("payment", paymentID)
	}
	k, err := s.st.Get(keys.GenPaymentIndex(paymentID))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFound("payment", paymentID)
		}
		return nil, err
	}
	msgKey := string(k)
	parts, err := keys.ParseMessageKey(msgKey)
	if err != nil {
		return nil, err
	}

	unlock := s.lk.Lock(registry.ConversationLock(parts.ConversationID))
	msg, err := s.loadByKey(msgKey)
	if err != nil {
		unlock()
		return nil, err
	}
	pl := msg.PaymentLink
	if pl == nil {
		unlock()
		return nil, apperr.NotFound("payment", paymentID)
	}
	if pl.Status == status {
		unlock()
		return s.decorate(msg), nil
	}
	if !paymentTransitions[pl.Status][status] {
		unlock()
		return nil, apperr.Conflict("payment " + paymentID + " cannot move from " + pl.Status + " to " + status)
	}

	now := timeutil.Now().UnixNano()
	pl.Status = status
	if status == models.PaymentPaid {
		if paidAt == nil {
			paidAt = &now
		}
		pl.PaidAt = paidAt
	}
	msg.UpdatedTS = now

	b := s.st.NewBatch()
	b.SetJSON(msgKey, msg)
	if err := outbox.Stage(b, outbox.MessageTask(outbox.KindMessageUpdated, msg)); err != nil {
		b.Close()
		unlock()
		return nil, err
	}
	err = s.st.Commit(b)
	unlock()
	if err != nil {
		return nil, err
	}
	logger.Info("payment_status_updated", "payment", paymentID, "message", msg.ID, "status", status)

	if s.pub != nil {
		conv, err := s.reg.Get(ctx, msg.ConversationID)
		if err == nil {
			s.pub.PublishUpdate(msg, conv)
		}
	}
	return s.decorate(msg), nil
}
