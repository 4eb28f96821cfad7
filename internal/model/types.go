package model

import (
	"fmt"
	"time"
)

// Identity is a participant as observed from the server.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// IsZero reports whether the identity has no id.
func (i Identity) IsZero() bool { return i.ID == "" }

// DeliveryState is the lifecycle state of a single message.
type DeliveryState int

const (
	Pending DeliveryState = iota
	Sent
	Failed
	Deleted
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseDeliveryState is the inverse of DeliveryState.String.
func ParseDeliveryState(s string) (DeliveryState, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "sent", "":
		return Sent, nil
	case "failed":
		return Failed, nil
	case "deleted":
		return Deleted, nil
	}
	return 0, fmt.Errorf("unknown delivery state %q", s)
}

// forward lists the transitions a message may take. Everything else,
// including moving backwards, is rejected.
var forward = map[DeliveryState][]DeliveryState{
	Pending: {Sent, Failed},
	Sent:    {Deleted},
	Failed:  {Deleted},
}

// CanTransition reports whether a message in state s may move to next.
func (s DeliveryState) CanTransition(next DeliveryState) bool {
	for _, to := range forward[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition other than the
// Deleted tombstone is possible.
func (s DeliveryState) Terminal() bool {
	return s == Sent || s == Failed || s == Deleted
}

// Kind is the content type of a message.
type Kind int

const (
	Text Kind = iota
	Sticker
)

func (k Kind) String() string {
	if k == Sticker {
		return "sticker"
	}
	return "text"
}

// ParseKind maps a wire kind to a Kind. Unknown kinds are treated as text.
func ParseKind(s string) Kind {
	if s == "sticker" {
		return Sticker
	}
	return Text
}

// Message is one entry of a conversation's sequence.
type Message struct {
	ID             string
	ClientID       string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	CreatedAt      time.Time
	State          DeliveryState
	Kind           Kind
}

// Summary returns the conversation-list preview for m.
func (m Message) Summary() MessageSummary {
	return MessageSummary{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Kind:      m.Kind,
		CreatedAt: m.CreatedAt,
	}
}

// Before orders messages by CreatedAt, then by id.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// CompareMessages is a three-way version of Before for slices.SortFunc
// and binary searches.
func CompareMessages(a, b Message) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	default:
		return 0
	}
}

// MessageSummary is the last-message preview shown in the conversation list.
type MessageSummary struct {
	ID        string
	SenderID  string
	Content   string
	Kind      Kind
	CreatedAt time.Time
}

// Conversation is a thread between the session identity and one partner.
type Conversation struct {
	ID             string
	Partner        Identity
	LastMessage    MessageSummary
	UnreadCount    uint
	LastActivityAt time.Time
}

// History is a conversation's sequence after a hydration.
type History struct {
	ConversationID string
	Messages       []Message
}
