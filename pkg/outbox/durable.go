package outbox

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"marketchat/pkg/logger"
	"marketchat/pkg/store"
	"marketchat/pkg/store/keys"
)

func Encode(t *Task) ([]byte, error) {
	return cbor.Marshal(t)
}

func Decode(b []byte) (*Task, error) {
	var t Task
	if err := cbor.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode outbox task: %w", err)
	}
	return &t, nil
}

// Stage writes t's durable record into b and marks t durable.
func Stage(b *store.Batch, t *Task) error {
	enc, err := Encode(t)
	if err != nil {
		return err
	}
	b.Set(t.Key(), enc)
	t.Durable = true
	return nil
}

// Ack deletes the durable record of a delivered task.
func Ack(st *store.Store, t *Task) error {
	if !t.Durable {
		return nil
	}
	return st.Delete(t.Key())
}

// Pending visits durable tasks staged before cutoff (unix nanos), oldest
// first. A zero cutoff visits everything.
func Pending(st *store.Store, cutoff int64, fn func(*Task) bool) error {
	return st.ScanPrefix(keys.OutboxPrefix, "", func(k string, v []byte) (bool, error) {
		parts, err := keys.ParseOutboxKey(k)
		if err != nil {
			logger.Warn("outbox_key_invalid", "key", k, "error", err)
			return true, nil
		}
		if cutoff > 0 && parts.TS >= cutoff {
			return false, nil
		}
		t, err := Decode(v)
		if err != nil {
			logger.Warn("outbox_record_invalid", "key", k, "error", err)
			return true, nil
		}
		t.Durable = true
		return fn(t), nil
	})
}

// Requeue enqueues durable tasks staged before cutoff, at most limit of
// them (limit <= 0 means no limit). It returns how many were enqueued.
func Requeue(st *store.Store, q *Queue, cutoff int64, limit int) (int, error) {
	n := 0
	var enqErr error
	err := Pending(st, cutoff, func(t *Task) bool {
		switch err := q.Enqueue(t); {
		case err == nil:
			n++
		case errors.Is(err, ErrAlreadyQueued):
		default:
			enqErr = err
			return false
		}
		return limit <= 0 || n < limit
	})
	if err != nil {
		return n, err
	}
	if errors.Is(enqErr, ErrQueueFull) {
		// the rest stays durable for the next pass
		logger.Warn("outbox_requeue_queue_full", "requeued", n)
		return n, nil
	}
	return n, enqErr
}

// Recover re-enqueues every surviving durable task. Run at startup before
// serving traffic.
func Recover(st *store.Store, q *Queue) (int, error) {
	n, err := Requeue(st, q, 0, 0)
	if err != nil {
		return n, err
	}
	if n > 0 {
		logger.Info("outbox_recovered", "tasks", n)
	}
	return n, nil
}
