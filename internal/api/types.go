package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/glide/internal/model"
)

// Message is a message as shown to clients.
type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId,omitempty"`
	Content        string    `json:"content"`
	Kind           string    `json:"kind"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"createdAt"`
	FailureReason  string    `json:"failureReason,omitempty"`
}

// MessageFrom converts a model message.
func MessageFrom(m model.Message) Message {
	return Message{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Kind:           m.Kind.String(),
		State:          m.State.String(),
		CreatedAt:      m.CreatedAt,
	}
}

// Preview is the last message of a conversation.
type Preview struct {
	ID        string    `json:"id,omitempty"`
	SenderID  string    `json:"senderId,omitempty"`
	Content   string    `json:"content,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Conversation is a conversation list entry.
type Conversation struct {
	ID             string         `json:"id"`
	Partner        model.Identity `json:"partner"`
	LastMessage    Preview        `json:"lastMessage"`
	UnreadCount    uint           `json:"unreadCount"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
}

// ConversationFrom converts a model conversation.
func ConversationFrom(c model.Conversation) Conversation {
	out := Conversation{
		ID:             c.ID,
		Partner:        c.Partner,
		UnreadCount:    c.UnreadCount,
		LastActivityAt: c.LastActivityAt,
	}
	if c.LastMessage.ID != "" {
		out.LastMessage = Preview{
			ID:        c.LastMessage.ID,
			SenderID:  c.LastMessage.SenderID,
			Content:   c.LastMessage.Content,
			Kind:      c.LastMessage.Kind.String(),
			CreatedAt: c.LastMessage.CreatedAt,
		}
	}
	return out
}

type Empty struct{}

type StatusRequest struct{}

type StatusResponse struct {
	Profile           string          `json:"profile"`
	Identity          *model.Identity `json:"identity,omitempty"`
	Connection        string          `json:"connection"`
	ActiveID          string          `json:"activeConversationId,omitempty"`
	ConversationCount int             `json:"conversationCount"`
	UptimeMs          int64           `json:"uptimeMs"`
}

// LoginRequest signs in. Without an identity the token is resolved
// through the backend.
type LoginRequest struct {
	Token    string          `json:"token"`
	Identity *model.Identity `json:"identity,omitempty"`
}

type LoginResponse struct {
	Identity model.Identity `json:"identity"`
}

type ConnectionResponse struct {
	State string `json:"state"`
}

type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	// PaneError is set when the history of the conversation failed to load.
	PaneError string `json:"paneError,omitempty"`
}

type StartChatRequest struct {
	Partner model.Identity `json:"partner"`
}

type ConversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

type SearchUsersRequest struct {
	Term string `json:"term"`
}

type SearchUsersResponse struct {
	Users []model.Identity `json:"users"`
}

type SendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Sticker        bool   `json:"sticker,omitempty"`
}

type MessageRequest struct {
	MessageID string `json:"messageId"`
}

type MessageResponse struct {
	Message Message `json:"message"`
}

// WatchEventsRequest filters events by kind prefix. Empty means all.
type WatchEventsRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// Event is one bus event as streamed to clients.
type Event struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
