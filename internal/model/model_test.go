package model

import (
	"testing"
	"time"
)

func TestConversationIDIsSymmetric(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"x", "y", "x:y"},
		{"y", "x", "x:y"},
		{"u-100", "u-2", "u-100:u-2"},
		{"same", "same", "same:same"},
		{"a:b", "c", "a%3Ab:c"},
		{"50%", "z", "50%25:z"},
	}
	for _, tt := range tests {
		if got := ConversationID(tt.a, tt.b); got != tt.want {
			t.Errorf("ConversationID(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestConversationIDIsUnambiguous(t *testing.T) {
	pairs := [][2]string{
		{"a:b", "c"},
		{"a", "b:c"},
		{"a%3Ab", "c"},
		{"a", "b%3Ac"},
		{BroadcastConversationID, "me"},
	}
	seen := make(map[string][2]string)
	for _, p := range pairs {
		id := ConversationID(p[0], p[1])
		if prev, dup := seen[id]; dup {
			t.Errorf("%v and %v share id %q", prev, p, id)
		}
		seen[id] = p
		if id == BroadcastConversationID {
			t.Errorf("%v maps onto the broadcast room", p)
		}
	}
}

// X messaging Y and Y messaging X must land in the same conversation.
func TestConversationIDDirectionIndependent(t *testing.T) {
	fromX := Message{SenderID: "X", ReceiverID: "Y"}
	fromY := Message{SenderID: "Y", ReceiverID: "X"}

	idX := ConversationID(fromX.SenderID, fromX.ReceiverID)
	idY := ConversationID(fromY.SenderID, fromY.ReceiverID)
	if idX != idY {
		t.Fatalf("ids differ: %q vs %q", idX, idY)
	}
	if PartnerOf("X", fromY) != "Y" || PartnerOf("X", fromX) != "Y" {
		t.Error("PartnerOf should resolve Y from X's side in both directions")
	}
}

func TestDeliveryStateTransitions(t *testing.T) {
	tests := []struct {
		from, to DeliveryState
		ok       bool
	}{
		{Pending, Sent, true},
		{Pending, Failed, true},
		{Sent, Deleted, true},
		{Failed, Deleted, true},
		{Sent, Pending, false},
		{Failed, Sent, false},
		{Failed, Pending, false},
		{Deleted, Sent, false},
		{Pending, Deleted, false},
		{Sent, Failed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.ok {
				t.Errorf("CanTransition = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestMessageOrderingTieBreaksOnID(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := Message{ID: "a", CreatedAt: ts}
	b := Message{ID: "b", CreatedAt: ts}
	c := Message{ID: "0", CreatedAt: ts.Add(time.Second)}

	if !a.Before(b) || b.Before(a) {
		t.Error("equal timestamps must order by id")
	}
	if !b.Before(c) {
		t.Error("earlier timestamp must come first regardless of id")
	}
	if CompareMessages(a, a) != 0 {
		t.Error("CompareMessages(a, a) != 0")
	}
}

func TestParseDeliveryState(t *testing.T) {
	for _, s := range []DeliveryState{Pending, Sent, Failed, Deleted} {
		got, err := ParseDeliveryState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseDeliveryState(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseDeliveryState("bogus"); err == nil {
		t.Error("expected error for unknown state")
	}
}
