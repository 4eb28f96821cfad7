package session

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/clock"
	"github.com/matheus3301/glide/internal/config"
	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/store"
	"github.com/matheus3301/glide/internal/wire"
)

var (
	t0      = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	me      = model.Identity{ID: "me", Name: "Me"}
	pat     = model.Identity{ID: "pat", Name: "Pat"}
	ana     = model.Identity{ID: "ana", Name: "Ana"}
	convPat = model.ConversationID("me", "pat")
	convAna = model.ConversationID("me", "ana")
)

type fakeLink struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []wire.Frame
}

func newFakeLink() *fakeLink {
	return &fakeLink{in: make(chan []byte, 32), closed: make(chan struct{})}
}

func (l *fakeLink) Read() ([]byte, error) {
	select {
	case p := <-l.in:
		return p, nil
	case <-l.closed:
		return nil, &conn.TransportError{Op: "read", Err: io.EOF}
	}
}

func (l *fakeLink) Write(p []byte) error {
	f, err := wire.DecodeFrame(p)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, f)
	return nil
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.written))
	for i, f := range l.written {
		out[i] = f.Event
	}
	return out
}

type fakeTransport struct {
	links chan *fakeLink
}

func (tr *fakeTransport) Dial(context.Context, model.Identity) (conn.Link, error) {
	l := newFakeLink()
	tr.links <- l
	return l, nil
}

type fakeAPI struct {
	mu         sync.Mutex
	me         wire.User
	convs      []wire.Conversation
	history    map[string][]wire.Message
	historyErr error
	gates      map[string]chan struct{}
	users      []wire.User
	deletedMsg []string
	deletedCnv []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		me:      wire.UserFrom(me),
		convs:   []wire.Conversation{{Partner: wire.UserFrom(pat), UpdatedAt: t0}},
		history: make(map[string][]wire.Message),
		gates:   make(map[string]chan struct{}),
	}
}

func (a *fakeAPI) Me(context.Context) (wire.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.me, nil
}

func (a *fakeAPI) Conversations(context.Context) ([]wire.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.convs, nil
}

func (a *fakeAPI) History(ctx context.Context, partnerID string) ([]wire.Message, error) {
	a.mu.Lock()
	gate := a.gates[partnerID]
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	return a.history[partnerID], nil
}

func (a *fakeAPI) PostMessage(context.Context, wire.SendMessage) (wire.Message, error) {
	return wire.Message{}, errors.New("not used")
}

func (a *fakeAPI) DeleteMessage(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletedMsg = append(a.deletedMsg, id)
	return nil
}

func (a *fakeAPI) DeleteConversation(_ context.Context, partnerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletedCnv = append(a.deletedCnv, partnerID)
	return nil
}

func (a *fakeAPI) SearchUsers(context.Context, string) ([]wire.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.users, nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type harness struct {
	m    *Messenger
	api  *fakeAPI
	tr   *fakeTransport
	link *fakeLink
	clk  *clock.Fake
	logs *observer.ObservedLogs
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	return newStoreHarness(t, api, nil)
}

// newStoreHarness is newHarness with a local cache.
func newStoreHarness(t *testing.T, api *fakeAPI, db *store.DB) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	h := &harness{
		api:  api,
		tr:   &fakeTransport{links: make(chan *fakeLink, 4)},
		clk:  clock.NewFake(t0),
		logs: logs,
	}
	h.m = newMessenger(unitOptions{
		Self:      me,
		API:       api,
		Transport: h.tr,
		Store:     db,
		Bus:       bus.New(),
		Clock:     h.clk,
		Logger:    zap.New(core),
	})
	if err := h.m.start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.m.close)
	h.link = <-h.tr.links
	eventually(t, "connected", func() bool { return h.m.ConnState() == conn.Connected })
	eventually(t, "conversation list", func() bool { return len(h.m.Conversations()) >= len(api.convs) })
	return h
}

func (h *harness) push(t *testing.T, event string, data any) {
	t.Helper()
	p, err := wire.Encode(event, data)
	if err != nil {
		t.Fatal(err)
	}
	h.link.in <- p
}

func (h *harness) messages(conv string) []model.Message {
	return h.m.Messages(conv)
}

func wmsg(id string, from, to model.Identity, content string, at time.Time) wire.Message {
	return wire.Message{ID: id, Sender: wire.UserFrom(from), Receiver: wire.UserFrom(to), Content: content, CreatedAt: at}
}

func ids(msgs []model.Message) string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return strings.Join(out, ",")
}

func TestConnectRegistersIdentity(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	events := h.link.events()
	if len(events) == 0 || events[0] != wire.EventRegister {
		t.Errorf("frames = %v, want register first", events)
	}
}

func TestHistoryThenLiveMessage(t *testing.T) {
	api := newFakeAPI()
	api.history["pat"] = []wire.Message{
		wmsg("m1", pat, me, "a", t0),
		wmsg("m2", me, pat, "b", t0.Add(time.Minute)),
		wmsg("m3", pat, me, "c", t0.Add(2*time.Minute)),
	}
	h := newHarness(t, api)

	if err := h.m.Select(convPat); err != nil {
		t.Fatal(err)
	}
	eventually(t, "history", func() bool { return len(h.messages(convPat)) == 3 })

	h.push(t, wire.EventReceiveMessage, wmsg("m4", pat, me, "d", t0.Add(3*time.Minute)))
	eventually(t, "live message", func() bool { return len(h.messages(convPat)) == 4 })
	if got := ids(h.messages(convPat)); got != "m1,m2,m3,m4" {
		t.Errorf("sequence = %s", got)
	}
	c, _ := h.m.convos.Get(convPat)
	if c.UnreadCount != 0 {
		t.Errorf("foreground conversation unread = %d", c.UnreadCount)
	}
	if c.LastMessage.ID != "m4" {
		t.Errorf("preview = %+v", c.LastMessage)
	}
}

func TestSendReconciledByAck(t *testing.T) {
	h := newHarness(t, newFakeAPI())

	sent, err := h.m.Send(convPat, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if sent.State != model.Pending || sent.ID != sent.ClientID {
		t.Fatalf("optimistic entry = %+v", sent)
	}
	events := h.link.events()
	if events[len(events)-1] != wire.EventSendMessage {
		t.Errorf("frames = %v", events)
	}

	ack := wmsg("s1", me, pat, "hello", t0.Add(200*time.Millisecond))
	ack.CorrelationID = sent.ClientID
	h.push(t, wire.EventReceiveMessage, ack)
	eventually(t, "ack", func() bool {
		msgs := h.messages(convPat)
		return len(msgs) == 1 && msgs[0].ID == "s1"
	})
	got := h.messages(convPat)[0]
	if got.State != model.Sent || got.ClientID != sent.ClientID {
		t.Errorf("reconciled = %+v", got)
	}
	if n := h.m.queue.InFlight(); n != 0 {
		t.Errorf("in flight = %d", n)
	}

	// The timer was stopped: advancing past the window changes nothing.
	h.clk.Advance(time.Minute)
	if got := h.messages(convPat)[0]; got.State != model.Sent {
		t.Errorf("state after window = %v", got.State)
	}
}

func TestSendTimeoutAndRetry(t *testing.T) {
	h := newHarness(t, newFakeAPI())

	t2, err := h.m.Send(convPat, "hi")
	if err != nil {
		t.Fatal(err)
	}
	h.clk.Advance(10 * time.Second)

	failed, ok := h.m.stream.Lookup(t2.ID)
	if !ok || failed.State != model.Failed {
		t.Fatalf("after timeout = %+v", failed)
	}
	if reason := h.m.FailureReason(t2.ID); !strings.Contains(reason, "timeout") {
		t.Errorf("reason = %q", reason)
	}

	t3, err := h.m.RetrySend(t2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if t3.ID == t2.ID || t3.State != model.Pending {
		t.Errorf("retry = %+v", t3)
	}
	msgs := h.messages(convPat)
	if len(msgs) != 2 || msgs[0].State != model.Failed || msgs[1].State != model.Pending {
		t.Errorf("sequence = %+v", msgs)
	}
}

func TestConversationIdentityIsSymmetric(t *testing.T) {
	api := newFakeAPI()
	api.convs = nil
	h := newHarness(t, api)

	h.push(t, wire.EventReceiveMessage, wmsg("m1", ana, me, "hey", t0))
	eventually(t, "inbound", func() bool { return h.m.convos.Len() == 1 })

	if _, err := h.m.Send(convAna, "hey back"); err != nil {
		t.Fatal(err)
	}
	convs := h.m.Conversations()
	if len(convs) != 1 || convs[0].ID != convAna || convs[0].Partner.ID != "ana" {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", convs[0].UnreadCount)
	}
	if convs[0].LastMessage.Content != "hey back" {
		t.Errorf("preview = %+v", convs[0].LastMessage)
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	api.convs = append(api.convs, wire.Conversation{Partner: wire.UserFrom(ana), UpdatedAt: t0})
	api.history["ana"] = []wire.Message{wmsg("a1", ana, me, "old", t0)}
	api.history["pat"] = []wire.Message{wmsg("p1", pat, me, "new", t0)}
	gate := make(chan struct{})
	api.gates["ana"] = gate
	h := newHarness(t, api)

	if err := h.m.Select(convAna); err != nil {
		t.Fatal(err)
	}
	if err := h.m.Select(convPat); err != nil {
		t.Fatal(err)
	}
	eventually(t, "pat history", func() bool { return len(h.messages(convPat)) == 1 })

	close(gate)
	eventually(t, "stale discard", func() bool {
		return h.logs.FilterMessage("discarding stale history").Len() == 1
	})
	if msgs := h.messages(convAna); len(msgs) != 0 {
		t.Errorf("stale history applied: %+v", msgs)
	}
	if h.m.Active() != convPat {
		t.Errorf("active = %q", h.m.Active())
	}
}

func TestHistoryFailureIsPaneState(t *testing.T) {
	api := newFakeAPI()
	api.historyErr = errors.New("boom")
	h := newHarness(t, api)

	if err := h.m.Select(convPat); err != nil {
		t.Fatal(err)
	}
	var herr *HistoryFetchError
	eventually(t, "pane error", func() bool { return errors.As(h.m.PaneError(convPat), &herr) })
	if herr.ConversationID != convPat {
		t.Errorf("pane error = %+v", herr)
	}
	if h.m.ConnState() != conn.Connected {
		t.Errorf("history failure touched the connection: %s", h.m.ConnState())
	}

	api.mu.Lock()
	api.historyErr = nil
	api.mu.Unlock()
	if err := h.m.Select(convPat); err != nil {
		t.Fatal(err)
	}
	if err := h.m.PaneError(convPat); err != nil {
		t.Errorf("reselect kept %v", err)
	}
}

func TestSelectUnknownConversation(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	if err := h.m.Select("nobody:me"); !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("err = %v", err)
	}
}

func TestMessageErrorScopes(t *testing.T) {
	h := newHarness(t, newFakeAPI())

	a, _ := h.m.Send(convPat, "one")
	b, _ := h.m.Send(convPat, "two")
	h.push(t, wire.EventMessageError, wire.MessageError{Reason: "too long", CorrelationID: a.ClientID})
	eventually(t, "scoped failure", func() bool {
		m, _ := h.m.stream.Lookup(a.ID)
		return m.State == model.Failed
	})
	if m, _ := h.m.stream.Lookup(b.ID); m.State != model.Pending {
		t.Errorf("other send = %v", m.State)
	}
	if reason := h.m.FailureReason(a.ID); !strings.Contains(reason, "too long") {
		t.Errorf("reason = %q", reason)
	}
	if h.m.ConnState() != conn.Connected {
		t.Errorf("state = %s", h.m.ConnState())
	}

	h.push(t, wire.EventMessageError, wire.MessageError{Reason: "bad frame"})
	eventually(t, "protocol failure", func() bool { return h.m.ConnState() == conn.Failed })

	if err := h.m.Reconnect(); err != nil {
		t.Fatal(err)
	}
	h.link = <-h.tr.links
	eventually(t, "reconnected", func() bool { return h.m.ConnState() == conn.Connected })
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t, newFakeAPI())

	pending, _ := h.m.Send(convPat, "in flight")
	if err := h.m.DeleteMessage(context.Background(), pending.ID); !errors.Is(err, ErrPendingDelete) {
		t.Errorf("pending delete err = %v", err)
	}

	h.clk.Advance(10 * time.Second)
	if err := h.m.DeleteMessage(context.Background(), pending.ID); err != nil {
		t.Fatal(err)
	}
	if m, _ := h.m.stream.Lookup(pending.ID); m.State != model.Deleted {
		t.Errorf("failed delete = %+v", m)
	}

	h.push(t, wire.EventReceiveMessage, wmsg("m1", pat, me, "secret", t0.Add(time.Minute)))
	eventually(t, "inbound", func() bool { _, ok := h.m.stream.Lookup("m1"); return ok })
	if err := h.m.DeleteMessage(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	m, _ := h.m.stream.Lookup("m1")
	if m.State != model.Deleted || m.Content != "" {
		t.Errorf("deleted = %+v", m)
	}
	h.api.mu.Lock()
	deleted := strings.Join(h.api.deletedMsg, ",")
	h.api.mu.Unlock()
	if deleted != "m1" {
		t.Errorf("server deletes = %q, want only m1", deleted)
	}
	c, _ := h.m.convos.Get(convPat)
	if c.LastMessage.ID != "m1" || c.LastMessage.Content != "" {
		t.Errorf("preview = %+v", c.LastMessage)
	}

	// A replayed copy cannot bring it back.
	h.push(t, wire.EventReceiveMessage, wmsg("m1", pat, me, "secret", t0.Add(time.Minute)))
	h.push(t, wire.EventReceiveMessage, wmsg("m2", pat, me, "marker", t0.Add(2*time.Minute)))
	eventually(t, "marker", func() bool { _, ok := h.m.stream.Lookup("m2"); return ok })
	if m, _ := h.m.stream.Lookup("m1"); m.State != model.Deleted {
		t.Errorf("replay resurrected %+v", m)
	}
}

func TestServerDeletePropagates(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	h.push(t, wire.EventReceiveMessage, wmsg("m1", pat, me, "oops", t0))
	h.push(t, wire.EventMessageDeleted, wire.MessageDeleted{ID: "m1"})
	eventually(t, "delete", func() bool {
		m, _ := h.m.stream.Lookup("m1")
		return m.State == model.Deleted
	})
}

func TestDeleteConversationBuriesStaleEvents(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	if _, err := h.m.StartChat(ana); err != nil {
		t.Fatal(err)
	}
	if err := h.m.DeleteConversation(context.Background(), convAna); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.m.convos.Get(convAna); ok {
		t.Fatal("conversation still listed")
	}

	h.push(t, wire.EventReceiveMessage, wmsg("old", ana, me, "late", t0.Add(-time.Minute)))
	h.push(t, wire.EventReceiveMessage, wmsg("m2", pat, me, "marker", t0.Add(time.Minute)))
	eventually(t, "marker", func() bool { _, ok := h.m.stream.Lookup("m2"); return ok })
	if _, ok := h.m.convos.Get(convAna); ok {
		t.Error("stale event resurrected the conversation")
	}
	if err := h.m.DeleteConversation(context.Background(), model.BroadcastConversationID); !errors.Is(err, ErrBroadcastRoom) {
		t.Errorf("broadcast delete err = %v", err)
	}
}

func TestBroadcastRoom(t *testing.T) {
	h := newHarness(t, newFakeAPI())

	h.push(t, wire.EventBroadcastHistory, []wire.Message{
		wmsg("b1", pat, model.Identity{}, "morning", t0),
		wmsg("b2", ana, model.Identity{}, "hi all", t0.Add(time.Second)),
	})
	eventually(t, "broadcast history", func() bool { return len(h.messages(model.BroadcastConversationID)) == 2 })
	room, ok := h.m.convos.Get(model.BroadcastConversationID)
	if !ok || room.UnreadCount != 0 || room.LastMessage.ID != "b2" {
		t.Fatalf("room = %+v", room)
	}

	sticker, err := h.m.SendSticker(model.BroadcastConversationID, "wave")
	if err != nil {
		t.Fatal(err)
	}
	if sticker.Kind != model.Sticker || sticker.ReceiverID != "" {
		t.Errorf("sticker = %+v", sticker)
	}
	events := h.link.events()
	if events[len(events)-1] != wire.EventSendBroadcast {
		t.Errorf("frames = %v", events)
	}

	echo := wmsg("b3", me, model.Identity{}, "wave", t0.Add(2*time.Second))
	echo.IsSticker = true
	echo.CorrelationID = sticker.ClientID
	h.push(t, wire.EventReceiveBroadcast, echo)
	eventually(t, "echo", func() bool { _, ok := h.m.stream.Lookup("b3"); return ok })
	if got := ids(h.messages(model.BroadcastConversationID)); got != "b1,b2,b3" {
		t.Errorf("room = %s", got)
	}
}

func TestNewConversationEvent(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	last := wmsg("m9", ana, me, "hello?", t0.Add(time.Hour))
	h.push(t, wire.EventNewConversation, wire.Conversation{Partner: wire.UserFrom(ana), LastMessage: &last, UnreadCount: 1})
	eventually(t, "merge", func() bool { _, ok := h.m.convos.Get(convAna); return ok })
	convs := h.m.Conversations()
	if convs[0].ID != convAna || convs[0].UnreadCount != 1 || convs[0].Partner.Name != "Ana" {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestMarkReadAndSearch(t *testing.T) {
	api := newFakeAPI()
	api.users = []wire.User{wire.UserFrom(me), wire.UserFrom(ana)}
	h := newHarness(t, api)

	h.push(t, wire.EventReceiveMessage, wmsg("m1", pat, me, "ping", t0.Add(time.Minute)))
	eventually(t, "unread", func() bool { c, _ := h.m.convos.Get(convPat); return c.UnreadCount == 1 })
	if err := h.m.MarkRead(convPat); err != nil {
		t.Fatal(err)
	}
	if c, _ := h.m.convos.Get(convPat); c.UnreadCount != 0 {
		t.Errorf("unread = %d", c.UnreadCount)
	}
	if err := h.m.MarkRead("x:y"); !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("err = %v", err)
	}

	found, err := h.m.SearchUsers(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "ana" {
		t.Errorf("search = %+v", found)
	}
	if _, err := h.m.StartChat(me); err == nil {
		t.Error("chat with self should be rejected")
	}
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	h.link.in <- []byte("not json")
	h.link.in <- []byte(`{"event":"typing","data":{}}`)
	h.push(t, wire.EventReceiveMessage, wmsg("m1", pat, me, "still here", t0))
	eventually(t, "message after junk", func() bool { _, ok := h.m.stream.Lookup("m1"); return ok })
	if h.m.ConnState() != conn.Connected {
		t.Errorf("state = %s", h.m.ConnState())
	}
}

func newTestContext(t *testing.T, api *fakeAPI, db *store.DB) (*Context, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{links: make(chan *fakeLink, 8)}
	sc := NewContext(Config{
		API:       func(string) API { return api },
		Transport: func(string) conn.Transport { return tr },
		Store:     db,
		Bus:       bus.New(),
		Clock:     clock.NewFake(t0),
	})
	t.Cleanup(sc.Clear)
	return sc, tr
}

func TestContextLifecycle(t *testing.T) {
	api := newFakeAPI()
	sc, tr := newTestContext(t, api, nil)

	if _, err := sc.Current(); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("Current() err = %v", err)
	}

	first, err := sc.Login(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	<-tr.links
	if first.Self().ID != "me" {
		t.Errorf("self = %+v", first.Self())
	}
	again, err := sc.SetIdentity(me, "tok")
	if err != nil || again != first {
		t.Errorf("same identity rebuilt the unit: %v", err)
	}

	second, err := sc.SetIdentity(pat, "tok2")
	if err != nil {
		t.Fatal(err)
	}
	<-tr.links
	if second == first {
		t.Fatal("identity change kept the unit")
	}
	if _, err := first.Send(convPat, "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("old unit Send err = %v", err)
	}
	if first.ConnState() != conn.Disconnected {
		t.Errorf("old unit state = %s", first.ConnState())
	}

	sc.Clear()
	if _, err := sc.Current(); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("after Clear err = %v", err)
	}
	if second.ConnState() != conn.Disconnected {
		t.Errorf("cleared unit state = %s", second.ConnState())
	}
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "glide.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestContextSeedsFromCache(t *testing.T) {
	db := testDB(t)
	cached := model.Conversation{ID: convAna, Partner: ana, UnreadCount: 3, LastActivityAt: t0}
	if err := db.UpsertConversation("me", cached); err != nil {
		t.Fatal(err)
	}

	api := newFakeAPI()
	api.convs = nil
	sc, tr := newTestContext(t, api, db)
	unit, err := sc.SetIdentity(me, "tok")
	if err != nil {
		t.Fatal(err)
	}
	<-tr.links
	c, ok := unit.convos.Get(convAna)
	if !ok || c.UnreadCount != 3 || c.Partner.Name != "Ana" {
		t.Errorf("seeded = %+v", c)
	}
}

func TestSettingsFromProfile(t *testing.T) {
	s := SettingsFrom(config.Defaults().Messaging)
	want := Settings{
		SendTimeout:       10 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		MatchWindow:       5 * time.Second,
		HistoryTimeout:    15 * time.Second,
	}
	if s != want {
		t.Errorf("settings = %+v, want %+v", s, want)
	}
	if got := (Settings{}).withDefaults(); got.MatchWindow != 5*time.Second || got.HistoryTimeout <= 0 {
		t.Errorf("zero settings = %+v", got)
	}
}

func TestSelectShowsCachedMessagesUntilHistoryArrives(t *testing.T) {
	db := testDB(t)
	cached := []model.Message{
		{ID: "c1", ConversationID: convPat, SenderID: "pat", ReceiverID: "me", Content: "from cache", CreatedAt: t0, State: model.Sent},
		{ID: "t9", ClientID: "t9", ConversationID: convPat, SenderID: "me", ReceiverID: "pat", Content: "unsettled", CreatedAt: t0.Add(time.Second), State: model.Pending},
	}
	if err := db.ReplaceMessages("me", convPat, cached); err != nil {
		t.Fatal(err)
	}

	api := newFakeAPI()
	api.history["pat"] = []wire.Message{
		wmsg("c1", pat, me, "from cache", t0),
		wmsg("p2", pat, me, "fresh", t0.Add(time.Minute)),
	}
	gate := make(chan struct{})
	api.gates["pat"] = gate
	h := newStoreHarness(t, api, db)

	if err := h.m.Select(convPat); err != nil {
		t.Fatal(err)
	}
	if got := ids(h.messages(convPat)); got != "c1" {
		t.Fatalf("before history = %q, want c1", got)
	}

	close(gate)
	eventually(t, "history", func() bool { return ids(h.messages(convPat)) == "c1,p2" })
}

func TestStartRestoresJournaledSends(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertConversation("me", model.Conversation{ID: convPat, Partner: pat, LastActivityAt: t0}); err != nil {
		t.Fatal(err)
	}
	journal := func(id, content string) {
		t.Helper()
		m := model.Message{ID: id, ClientID: id, ConversationID: convPat, SenderID: "me", Content: content, CreatedAt: t0, State: model.Pending}
		if err := db.JournalSend("me", m); err != nil {
			t.Fatal(err)
		}
	}
	journal("t1", "lost in restart")
	journal("t2", "rejected")
	journal("t3", "delivered")
	if err := db.MarkOutboxFailed("me", "t2", "too long"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("me", "t3", "s3"); err != nil {
		t.Fatal(err)
	}

	h := newStoreHarness(t, newFakeAPI(), db)

	tests := []struct {
		id     string
		reason string
	}{
		{"t1", "interrupted"},
		{"t2", "too long"},
	}
	for _, tt := range tests {
		m, ok := h.m.stream.Lookup(tt.id)
		if !ok || m.State != model.Failed {
			t.Errorf("%s = %+v, %v; want Failed", tt.id, m, ok)
			continue
		}
		if reason := h.m.FailureReason(tt.id); !strings.Contains(reason, tt.reason) {
			t.Errorf("%s reason = %q, want %q", tt.id, reason, tt.reason)
		}
	}
	if _, ok := h.m.stream.Lookup("t3"); ok {
		t.Error("acknowledged send came back")
	}

	retried, err := h.m.RetrySend("t1")
	if err != nil {
		t.Fatal(err)
	}
	if retried.State != model.Pending || retried.ClientID == "t1" || retried.Content != "lost in restart" {
		t.Errorf("retry = %+v", retried)
	}
	eventually(t, "journal updated", func() bool {
		failed, _ := db.OutboxByStatus("me", store.OutboxFailed)
		pending, _ := db.OutboxByStatus("me", store.OutboxPending)
		return len(failed) == 2 && len(pending) == 1 && pending[0].ClientID == retried.ClientID
	})
}

func TestReselectFailureAfterReconnectIsLogged(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	if err := h.m.Select(convPat); err != nil {
		t.Fatal(err)
	}
	if err := h.m.DeleteConversation(context.Background(), convPat); err != nil {
		t.Fatal(err)
	}

	h.link.Close()
	eventually(t, "reconnecting", func() bool { return h.m.ConnState() == conn.Reconnecting })
	h.clk.WaitForTimers(1)
	h.clk.Advance(time.Second)
	h.link = <-h.tr.links
	eventually(t, "reselect logged", func() bool {
		return h.logs.FilterMessage("reselect after reconnect failed").Len() == 1
	})
}

func TestContextNewTokenRebuildsUnit(t *testing.T) {
	api := newFakeAPI()
	var (
		mu     sync.Mutex
		tokens []string
	)
	tr := &fakeTransport{links: make(chan *fakeLink, 8)}
	sc := NewContext(Config{
		API: func(token string) API {
			mu.Lock()
			defer mu.Unlock()
			tokens = append(tokens, token)
			return api
		},
		Transport: func(string) conn.Transport { return tr },
		Bus:       bus.New(),
		Clock:     clock.NewFake(t0),
	})
	t.Cleanup(sc.Clear)

	first, err := sc.SetIdentity(me, "old")
	if err != nil {
		t.Fatal(err)
	}
	<-tr.links
	second, err := sc.SetIdentity(me, "new")
	if err != nil {
		t.Fatal(err)
	}
	<-tr.links
	if second == first {
		t.Fatal("new token kept the old unit")
	}
	if first.ConnState() != conn.Disconnected {
		t.Errorf("old unit state = %s", first.ConnState())
	}
	if again, _ := sc.SetIdentity(me, "new"); again != second {
		t.Error("same identity and token rebuilt the unit")
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(tokens, ",") != "old,new" {
		t.Errorf("tokens = %v", tokens)
	}
}
