package gateway

import (
	"encoding/json"

	"github.com/valyala/bytebufferpool"

	"marketchat/pkg/models"
)

// Payload is the body of every channel event.
type Payload struct {
	Event           string          `json:"event"`
	ConversationID  string          `json:"conversation_id"`
	Message         *models.Message `json:"message,omitempty"`
	Sender          *models.Sender  `json:"sender,omitempty"`
	ReaderID        string          `json:"reader_id,omitempty"`
	Count           int             `json:"count,omitempty"`
	AgentID         string          `json:"agent_id,omitempty"`
	PreviousAgentID string          `json:"previous_agent_id,omitempty"`
	// UnreadCount is set on personal channels so badges update without
	// opening the conversation.
	UnreadCount *int `json:"unread_count,omitempty"`
}

var payloadPool bytebufferpool.Pool

// Encode serializes p through a pooled buffer and returns an owned copy.
func (p *Payload) Encode() (json.RawMessage, error) {
	bb := payloadPool.Get()
	defer payloadPool.Put(bb)
	if err := json.NewEncoder(bb).Encode(p); err != nil {
		return nil, err
	}
	b := bb.B
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
