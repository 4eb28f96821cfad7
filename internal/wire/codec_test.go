package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/glide/internal/model"
)

func TestDecodeReceiveMessage(t *testing.T) {
	payload := []byte(`{"event":"receive_message","data":{
		"_id":"s1","correlationId":"t1",
		"sender":{"_id":"bob","fullName":"Bob"},
		"receiver":{"_id":"alice"},
		"content":"hello","createdAt":"2024-05-01T10:00:00Z"}}`)

	evt, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	rcv, ok := evt.(Received)
	if !ok {
		t.Fatalf("event type = %T, want Received", evt)
	}
	m := rcv.Message
	if m.ID != "s1" || m.ClientID != "t1" || m.Content != "hello" {
		t.Errorf("message = %+v", m)
	}
	if m.ConversationID != model.ConversationID("alice", "bob") {
		t.Errorf("conversation id = %q", m.ConversationID)
	}
	if m.State != model.Sent || m.Kind != model.Text {
		t.Errorf("state/kind = %v/%v", m.State, m.Kind)
	}
	if !m.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("createdAt = %v", m.CreatedAt)
	}
}

func TestDecodeBroadcastSticker(t *testing.T) {
	payload := []byte(`{"event":"receive_broadcast","data":{
		"_id":"b1","sender":{"_id":"carol"},"content":":)","isSticker":true,
		"createdAt":"2024-05-01T10:00:00Z"}}`)

	evt, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	rcv := evt.(Received)
	if rcv.Mode != Broadcast {
		t.Errorf("mode = %v, want broadcast", rcv.Mode)
	}
	if rcv.Message.ConversationID != model.BroadcastConversationID {
		t.Errorf("conversation = %q", rcv.Message.ConversationID)
	}
	if rcv.Message.Kind != model.Sticker {
		t.Errorf("kind = %v, want sticker", rcv.Message.Kind)
	}
}

func TestDecodeDeletedMessageClearsContent(t *testing.T) {
	payload := []byte(`{"event":"receive_message","data":{
		"_id":"s9","sender":{"_id":"a"},"receiver":{"_id":"b"},
		"content":"secret","deleted":true,"createdAt":"2024-05-01T10:00:00Z"}}`)
	evt, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	m := evt.(Received).Message
	if m.State != model.Deleted || m.Content != "" {
		t.Errorf("got state=%v content=%q, want deleted tombstone", m.State, m.Content)
	}
}

func TestDecodeOtherEvents(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, evt Inbound)
	}{
		{
			name:    "message_error with correlation",
			payload: `{"event":"message_error","data":{"reason":"too long","correlationId":"t5"}}`,
			check: func(t *testing.T, evt Inbound) {
				f := evt.(Failure)
				if f.Reason != "too long" || f.CorrelationID != "t5" {
					t.Errorf("failure = %+v", f)
				}
			},
		},
		{
			name:    "new_conversation",
			payload: `{"event":"new_conversation","data":{"_id":"srv","partner":{"_id":"zed"},"unreadCount":2,"updatedAt":"2024-05-01T10:00:00Z"}}`,
			check: func(t *testing.T, evt Inbound) {
				c := evt.(NewConversation).Conversation.ToModel("amy")
				if c.ID != model.ConversationID("amy", "zed") {
					t.Errorf("id = %q, server id must be ignored", c.ID)
				}
				if c.UnreadCount != 2 {
					t.Errorf("unread = %d", c.UnreadCount)
				}
			},
		},
		{
			name:    "message_deleted",
			payload: `{"event":"message_deleted","data":{"_id":"s3"}}`,
			check: func(t *testing.T, evt Inbound) {
				if evt.(Deleted).ID != "s3" {
					t.Errorf("id = %q", evt.(Deleted).ID)
				}
			},
		},
		{
			name:    "broadcast_history",
			payload: `{"event":"broadcast_history","data":[{"_id":"h1","sender":{"_id":"a"},"content":"x","createdAt":"2024-05-01T10:00:00Z"}]}`,
			check: func(t *testing.T, evt Inbound) {
				h := evt.(History)
				if len(h.Messages) != 1 || h.Messages[0].ConversationID != model.BroadcastConversationID {
					t.Errorf("history = %+v", h)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := Decode([]byte(tt.payload))
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, evt)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	var unknown *ErrUnknownEvent
	if _, err := Decode([]byte(`{"event":"typing","data":{}}`)); !errors.As(err, &unknown) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
	if _, err := Decode([]byte(`{"data":{}}`)); err == nil {
		t.Error("expected error for missing event name")
	}
	if _, err := Decode([]byte(`{"event":"receive_message","data":{"content":"x"}}`)); err == nil {
		t.Error("expected error for message without id")
	}
}

func TestEncodeSendModes(t *testing.T) {
	msg := SendMessage{SenderID: "a", ReceiverID: "b", Content: "hi", CorrelationID: "t1"}

	raw, err := EncodeSend(Addressed, msg)
	if err != nil {
		t.Fatal(err)
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	if f.Event != EventSendMessage {
		t.Errorf("event = %q", f.Event)
	}

	raw, err = EncodeSend(Broadcast, msg)
	if err != nil {
		t.Fatal(err)
	}
	f, _ = DecodeFrame(raw)
	if f.Event != EventSendBroadcast {
		t.Errorf("event = %q", f.Event)
	}
	var got SendMessage
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ReceiverID != "" {
		t.Errorf("broadcast send carried receiver %q", got.ReceiverID)
	}
}

func TestEncodeRegister(t *testing.T) {
	raw, err := EncodeRegister(model.Identity{ID: "u1", Name: "Uma"})
	if err != nil {
		t.Fatal(err)
	}
	f, _ := DecodeFrame(raw)
	var r Register
	if err := json.Unmarshal(f.Data, &r); err != nil {
		t.Fatal(err)
	}
	if f.Event != EventRegister || r.UserID != "u1" || r.UserName != "Uma" {
		t.Errorf("register = %s %+v", f.Event, r)
	}
}
