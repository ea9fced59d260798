package keys

import (
	"fmt"
	"strconv"
	"strings"
)

type MessageKeyParts struct {
	ConversationID string
	TS             int64
	Seq            uint64
}

type UnreadKeyParts struct {
	UserID         string
	ConversationID string
	TS             int64
	Seq            uint64
}

type OutboxKeyParts struct {
	TS   int64
	Kind string
	ID   string
}

func parsePaddedInt(s string, width int) (int64, error) {
	if len(s) == 0 || len(s) > width {
		return 0, fmt.Errorf("length invalid: %s", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

func parsePaddedUint(s string, width int) (uint64, error) {
	if len(s) == 0 || len(s) > width {
		return 0, fmt.Errorf("length invalid: %s", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseUint(trimmed, 10, 64)
}

// ParseMessageKey parses c:<conv_id>:m:<ts>:<seq>.
func ParseMessageKey(key string) (MessageKeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "c" || parts[2] != "m" {
		return MessageKeyParts{}, fmt.Errorf("invalid message key: %q", key)
	}
	ts, err := parsePaddedInt(parts[3], TSPadWidth)
	if err != nil {
		return MessageKeyParts{}, fmt.Errorf("invalid message key ts: %w", err)
	}
	seq, err := parsePaddedUint(parts[4], SeqPadWidth)
	if err != nil {
		return MessageKeyParts{}, fmt.Errorf("invalid message key seq: %w", err)
	}
	return MessageKeyParts{ConversationID: parts[1], TS: ts, Seq: seq}, nil
}

// ParseUnreadKey parses idx:unread:<user_id>:<conv_id>:<ts>:<seq>.
func ParseUnreadKey(key string) (UnreadKeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 6 || parts[0] != "idx" || parts[1] != "unread" {
		return UnreadKeyParts{}, fmt.Errorf("invalid unread key: %q", key)
	}
	ts, err := parsePaddedInt(parts[4], TSPadWidth)
	if err != nil {
		return UnreadKeyParts{}, fmt.Errorf("invalid unread key ts: %w", err)
	}
	seq, err := parsePaddedUint(parts[5], SeqPadWidth)
	if err != nil {
		return UnreadKeyParts{}, fmt.Errorf("invalid unread key seq: %w", err)
	}
	return UnreadKeyParts{UserID: parts[2], ConversationID: parts[3], TS: ts, Seq: seq}, nil
}

// ParseOutboxKey parses ob:<ts>:<kind>:<id>.
func ParseOutboxKey(key string) (OutboxKeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "ob" {
		return OutboxKeyParts{}, fmt.Errorf("invalid outbox key: %q", key)
	}
	ts, err := parsePaddedInt(parts[1], TSPadWidth)
	if err != nil {
		return OutboxKeyParts{}, fmt.Errorf("invalid outbox key ts: %w", err)
	}
	return OutboxKeyParts{TS: ts, Kind: parts[2], ID: parts[3]}, nil
}

// LastSegment returns the trailing id of membership-style index keys such
// as idx:u:<user_id>:c:<conv_id>.
func LastSegment(key string) string {
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}
