package wire

import (
	"time"

	"github.com/matheus3301/glide/internal/model"
)

// User is the server's representation of an identity.
type User struct {
	ID        string `json:"_id"`
	FullName  string `json:"fullName,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// ToModel converts u to an Identity.
func (u User) ToModel() model.Identity {
	return model.Identity{ID: u.ID, Name: u.FullName, Avatar: u.AvatarURL}
}

// UserFrom converts an Identity to its wire form.
func UserFrom(id model.Identity) User {
	return User{ID: id.ID, FullName: id.Name, AvatarURL: id.Avatar}
}

// Message is a message as sent by the server, both over the push channel
// and in REST history responses.
type Message struct {
	ID            string    `json:"_id"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Sender        User      `json:"sender"`
	Receiver      User      `json:"receiver"`
	Content       string    `json:"content"`
	Kind          string    `json:"kind,omitempty"`
	IsSticker     bool      `json:"isSticker,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Deleted       bool      `json:"deleted,omitempty"`
}

// ToModel normalizes m. Broadcast messages always belong to the broadcast
// room; addressed ones to the canonical pair conversation.
func (m Message) ToModel(mode Mode) model.Message {
	kind := model.ParseKind(m.Kind)
	if m.IsSticker {
		kind = model.Sticker
	}
	state := model.Sent
	content := m.Content
	if m.Deleted {
		state = model.Deleted
		content = ""
	}
	convID := model.BroadcastConversationID
	if mode == Addressed {
		convID = model.ConversationID(m.Sender.ID, m.Receiver.ID)
	}
	return model.Message{
		ID:             m.ID,
		ClientID:       m.CorrelationID,
		ConversationID: convID,
		SenderID:       m.Sender.ID,
		ReceiverID:     m.Receiver.ID,
		Content:        content,
		CreatedAt:      m.CreatedAt,
		State:          state,
		Kind:           kind,
	}
}

// Conversation is a conversation summary as listed by the server.
type Conversation struct {
	ID          string    `json:"_id,omitempty"`
	Partner     User      `json:"partner"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount uint      `json:"unreadCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ToModel canonicalizes c from self's point of view. The server-assigned
// id is ignored: the conversation id is always derived from the pair.
func (c Conversation) ToModel(self string) model.Conversation {
	conv := model.Conversation{
		ID:             model.ConversationID(self, c.Partner.ID),
		Partner:        c.Partner.ToModel(),
		UnreadCount:    c.UnreadCount,
		LastActivityAt: c.UpdatedAt,
	}
	if c.LastMessage != nil {
		conv.LastMessage = c.LastMessage.ToModel(Addressed).Summary()
		if conv.LastMessage.CreatedAt.After(conv.LastActivityAt) {
			conv.LastActivityAt = conv.LastMessage.CreatedAt
		}
	}
	return conv
}

// Register is sent on every (re)connect.
type Register struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// SendMessage is the outbound send request.
type SendMessage struct {
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId,omitempty"`
	Content       string `json:"content"`
	Kind          string `json:"kind,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// MessageError reports a server-side failure. With a correlation id it
// concerns one send; without one it is a protocol error.
type MessageError struct {
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// MessageDeleted announces that a message was deleted server-side.
type MessageDeleted struct {
	ID string `json:"_id"`
}
