package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Emit(KindConnState, "connected")

	select {
	case evt := <-ch:
		if evt.Kind != KindConnState {
			t.Errorf("got kind %q, want %s", evt.Kind, KindConnState)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindConnState, nil)
	b.Emit(KindMessageUpserted, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageUpserted {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()
	unsub()

	b.Emit(KindSessionIdentity, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Emit(KindMessageUpserted, "one")
	b.Emit(KindMessageUpserted, "two")

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
}

func TestNilBusDiscards(t *testing.T) {
	var b *Bus
	b.Emit(KindConnState, nil)
}
