package wire

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/glide/internal/model"
)

// Inbound is implemented by every decoded inbound event.
type Inbound interface {
	inbound()
}

// Received carries one live message.
type Received struct {
	Mode    Mode
	Message model.Message
}

// History carries a bulk broadcast history.
type History struct {
	Messages []model.Message
}

// Failure is a decoded message_error.
type Failure struct {
	MessageError
}

// NewConversation announces a conversation the server created.
type NewConversation struct {
	Conversation Conversation
}

// Deleted announces a server-side delete.
type Deleted struct {
	ID string
}

func (Received) inbound()        {}
func (History) inbound()         {}
func (Failure) inbound()         {}
func (NewConversation) inbound() {}
func (Deleted) inbound()         {}

// ErrUnknownEvent is returned for frames this client does not handle.
type ErrUnknownEvent struct{ Event string }

func (e *ErrUnknownEvent) Error() string { return fmt.Sprintf("unknown event %q", e.Event) }

// Decode parses one inbound payload.
func Decode(payload []byte) (Inbound, error) {
	f, err := DecodeFrame(payload)
	if err != nil {
		return nil, err
	}
	switch f.Event {
	case EventReceiveMessage, EventReceiveBroadcast:
		mode := Addressed
		if f.Event == EventReceiveBroadcast {
			mode = Broadcast
		}
		var m Message
		if err := unmarshal(f, &m); err != nil {
			return nil, err
		}
		if m.ID == "" {
			return nil, fmt.Errorf("decode %s: message without id", f.Event)
		}
		return Received{Mode: mode, Message: m.ToModel(mode)}, nil
	case EventBroadcastHistory:
		var ms []Message
		if err := unmarshal(f, &ms); err != nil {
			return nil, err
		}
		out := make([]model.Message, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.ToModel(Broadcast))
		}
		return History{Messages: out}, nil
	case EventMessageError:
		var e MessageError
		if err := unmarshal(f, &e); err != nil {
			return nil, err
		}
		return Failure{MessageError: e}, nil
	case EventNewConversation:
		var c Conversation
		if err := unmarshal(f, &c); err != nil {
			return nil, err
		}
		return NewConversation{Conversation: c}, nil
	case EventMessageDeleted:
		var d MessageDeleted
		if err := unmarshal(f, &d); err != nil {
			return nil, err
		}
		return Deleted{ID: d.ID}, nil
	}
	return nil, &ErrUnknownEvent{Event: f.Event}
}

func unmarshal(f Frame, v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return nil
}

// EncodeRegister builds the registration frame for id.
func EncodeRegister(id model.Identity) ([]byte, error) {
	return Encode(EventRegister, Register{UserID: id.ID, UserName: id.Name, Avatar: id.Avatar})
}

// EncodeSend builds a send frame. Broadcast sends carry no receiver.
func EncodeSend(mode Mode, msg SendMessage) ([]byte, error) {
	if mode == Broadcast {
		msg.ReceiverID = ""
		return Encode(EventSendBroadcast, msg)
	}
	return Encode(EventSendMessage, msg)
}
