// Package wire defines the JSON frames exchanged over the push channel and
// the JSON shapes shared with the REST API.
//
// Every frame is an envelope {"event": name, "data": payload}. Addressed
// (one-to-one) and broadcast delivery share the envelope and the message
// shape; only the event names differ.
package wire

import (
	"encoding/json"
	"fmt"
)

// Outbound event names.
const (
	EventRegister      = "register"
	EventSendMessage   = "send_message"
	EventSendBroadcast = "send_broadcast"
)

// Inbound event names.
const (
	EventReceiveMessage   = "receive_message"
	EventReceiveBroadcast = "receive_broadcast"
	EventBroadcastHistory = "broadcast_history"
	EventMessageError     = "message_error"
	EventNewConversation  = "new_conversation"
	EventMessageDeleted   = "message_deleted"
)

// Mode selects how a message is delivered.
type Mode int

const (
	// Addressed messages go to exactly one receiver.
	Addressed Mode = iota
	// Broadcast messages go to the shared room.
	Broadcast
)

func (m Mode) String() string {
	if m == Broadcast {
		return "broadcast"
	}
	return "addressed"
}

// Frame is the push-channel envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps data in a frame named event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// DecodeFrame splits a payload into its event name and raw data.
func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event name")
	}
	return f, nil
}
