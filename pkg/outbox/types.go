package outbox

import (
	"errors"

	"marketchat/pkg/models"
	"marketchat/pkg/store/keys"
)

var (
	ErrQueueFull   = errors.New("outbox queue is full")
	ErrQueueClosed = errors.New("outbox queue is closed")
	// ErrAlreadyQueued is returned when a durable task is still waiting in
	// the queue; the existing copy will deliver it.
	ErrAlreadyQueued = errors.New("outbox task already queued")
)

// Kind names the event a task publishes.
type Kind string

const (
	KindMessageCreated   Kind = "message.created"
	KindMessageUpdated   Kind = "message.updated"
	KindConversationRead Kind = "conversation.read"

	// KindConversationAssigned announces an agent change; streams of a
	// replaced agent re-check access on it and close.
	KindConversationAssigned Kind = "conversation.assigned"
)

// Task is one unit of fan-out work. Durable tasks also exist as an ob:
// record written in the same batch as the change they announce; the record
// is deleted once the task is delivered.
type Task struct {
	Kind           Kind   `cbor:"1,keyasint"`
	ConversationID string `cbor:"2,keyasint"`
	MessageID      string `cbor:"3,keyasint,omitempty"`
	ReaderID       string `cbor:"4,keyasint,omitempty"`
	Count          int    `cbor:"5,keyasint,omitempty"`
	// TS orders durable records and is part of their key.
	TS      int64 `cbor:"6,keyasint"`
	Attempt int   `cbor:"7,keyasint,omitempty"`

	// PreviousAgentID is the agent replaced by an assignment.
	PreviousAgentID string `cbor:"8,keyasint,omitempty"`

	EnqSeq  uint64 `cbor:"-"`
	Durable bool   `cbor:"-"`
}

// MessageTask derives the task announcing msg. The result is the same for
// the same message state, so the durable key can be recomputed later.
func MessageTask(kind Kind, msg *models.Message) *Task {
	ts := msg.CreatedTS
	if kind == KindMessageUpdated && msg.UpdatedTS > 0 {
		ts = msg.UpdatedTS
	}
	return &Task{Kind: kind, ConversationID: msg.ConversationID, MessageID: msg.ID, TS: ts}
}

func ReadTask(convID, readerID string, count int, ts int64) *Task {
	return &Task{Kind: KindConversationRead, ConversationID: convID, ReaderID: readerID, Count: count, TS: ts}
}

func AssignTask(convID, previousAgentID string, ts int64) *Task {
	return &Task{Kind: KindConversationAssigned, ConversationID: convID, PreviousAgentID: previousAgentID, TS: ts}
}

func (t *Task) id() string {
	if t.MessageID != "" {
		return t.MessageID
	}
	if t.Kind == KindConversationAssigned {
		return t.ConversationID
	}
	return t.ConversationID + "." + t.ReaderID
}

// Key is the durable record key for t.
func (t *Task) Key() string {
	return keys.GenOutboxKey(t.TS, string(t.Kind), t.id())
}
