package mirror

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/outbox"
	"github.com/matheus3301/glide/internal/store"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMirrorPersistsSendLifecycle(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	m := New(db, b, "me", nil)
	m.Start(context.Background())

	conv := model.ConversationID("me", "pat")
	pending := model.Message{ID: "t1", ClientID: "t1", ConversationID: conv, SenderID: "me", Content: "hi", CreatedAt: t0, State: model.Pending}
	b.Emit(bus.KindMessageUpserted, pending)
	acked := pending
	acked.ID, acked.State = "s1", model.Sent
	b.Emit(bus.KindMessageUpserted, acked)
	b.Emit(bus.KindMessageSendAck, outbox.SendAck{ClientID: "t1", MessageID: "s1", ConversationID: conv})
	b.Emit(bus.KindConversation, model.Conversation{ID: conv, Partner: model.Identity{ID: "pat"}, LastActivityAt: t0})
	m.Stop()

	msgs, err := db.ListMessages("me", conv, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "s1" {
		t.Errorf("messages = %+v", msgs)
	}
	sent, _ := db.OutboxByStatus("me", store.OutboxSent)
	if len(sent) != 1 || sent[0].MessageID != "s1" {
		t.Errorf("journal = %+v", sent)
	}
	convs, _ := db.ListConversations("me", 0)
	if len(convs) != 1 {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestMirrorHistoryAndRemoval(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	m := New(db, b, "me", nil)
	m.Start(context.Background())

	conv := "me:pat"
	b.Emit(bus.KindConversation, model.Conversation{ID: conv, Partner: model.Identity{ID: "pat"}})
	b.Emit(bus.KindHistoryLoaded, model.History{ConversationID: conv, Messages: []model.Message{
		{ID: "m1", ConversationID: conv, CreatedAt: t0, State: model.Sent},
		{ID: "m2", ConversationID: conv, CreatedAt: t0.Add(time.Second), State: model.Sent},
	}})
	b.Emit(bus.KindMessageSendFailed, outbox.SendFailure{ClientID: "zz", Reason: "timeout"})
	m.Stop()

	msgs, _ := db.ListMessages("me", conv, 0)
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}

	m = New(db, b, "me", nil)
	m.Start(context.Background())
	b.Emit(bus.KindConversationGone, conv)
	m.Stop()

	convs, _ := db.ListConversations("me", 0)
	msgs, _ = db.ListMessages("me", conv, 0)
	if len(convs) != 0 || len(msgs) != 0 {
		t.Errorf("removal left %d conversations, %d messages", len(convs), len(msgs))
	}
}

func TestMirrorDiscardsDeletedFailedSend(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	m := New(db, b, "me", nil)
	m.Start(context.Background())

	conv := model.ConversationID("me", "pat")
	msg := model.Message{ID: "t1", ClientID: "t1", ConversationID: conv, SenderID: "me", Content: "hi", CreatedAt: t0, State: model.Pending}
	b.Emit(bus.KindMessageUpserted, msg)
	b.Emit(bus.KindMessageSendFailed, outbox.SendFailure{ClientID: "t1", ConversationID: conv, Reason: "timeout"})
	msg.State, msg.Content = model.Deleted, ""
	b.Emit(bus.KindMessageDeleted, msg)
	m.Stop()

	if failed, _ := db.OutboxByStatus("me", store.OutboxFailed); len(failed) != 0 {
		t.Errorf("failed = %+v", failed)
	}
	if discarded, _ := db.OutboxByStatus("me", store.OutboxDiscarded); len(discarded) != 1 {
		t.Errorf("discarded = %+v", discarded)
	}
}
