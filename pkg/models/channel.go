package models

import (
	"fmt"
	"strings"
)

type ChannelClass string

const (
	ChannelConversation ChannelClass = "conversation"
	ChannelUser         ChannelClass = "user"
)

// Channel is a named real-time subscription target:
// "conversation.<id>" or "user.<id>".
type Channel struct {
	Class ChannelClass
	ID    string
}

func ConversationChannel(id string) Channel { return Channel{Class: ChannelConversation, ID: id} }
func UserChannel(id string) Channel         { return Channel{Class: ChannelUser, ID: id} }

func (c Channel) String() string { return string(c.Class) + "." + c.ID }

func ParseChannel(name string) (Channel, error) {
	class, id, ok := strings.Cut(name, ".")
	if !ok || id == "" {
		return Channel{}, fmt.Errorf("invalid channel name %q", name)
	}
	switch ChannelClass(class) {
	case ChannelConversation, ChannelUser:
		return Channel{Class: ChannelClass(class), ID: id}, nil
	}
	return Channel{}, fmt.Errorf("unknown channel class %q", class)
}
