package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/clock"
	"github.com/matheus3301/glide/internal/config"
	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/convo"
	"github.com/matheus3301/glide/internal/mirror"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/outbox"
	"github.com/matheus3301/glide/internal/store"
	"github.com/matheus3301/glide/internal/stream"
	"github.com/matheus3301/glide/internal/wire"
)

// API is the request/response side of the backend. *rest.Client
// implements it.
type API interface {
	Me(ctx context.Context) (wire.User, error)
	Conversations(ctx context.Context) ([]wire.Conversation, error)
	History(ctx context.Context, partnerID string) ([]wire.Message, error)
	PostMessage(ctx context.Context, req wire.SendMessage) (wire.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, partnerID string) error
	SearchUsers(ctx context.Context, term string) ([]wire.User, error)
}

// Settings are the messaging knobs of one unit.
type Settings struct {
	SendTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	MatchWindow       time.Duration
	HistoryTimeout    time.Duration
}

// SettingsFrom converts the [messaging] section of a profile.
func SettingsFrom(m config.Messaging) Settings {
	return Settings{
		SendTimeout:       m.SendTimeout.Duration,
		ReconnectAttempts: m.ReconnectAttempts,
		ReconnectDelay:    m.ReconnectDelay.Duration,
		MatchWindow:       m.MatchWindow.Duration,
		HistoryTimeout:    m.HistoryTimeout.Duration,
	}
}

func (s Settings) withDefaults() Settings {
	if s.MatchWindow <= 0 {
		s.MatchWindow = stream.DefaultMatchWindow
	}
	if s.HistoryTimeout <= 0 {
		s.HistoryTimeout = 15 * time.Second
	}
	return s
}

// unitOptions is everything a Messenger is built from.
type unitOptions struct {
	Self      model.Identity
	API       API
	Transport conn.Transport
	Store     *store.DB
	Bus       *bus.Bus
	Clock     clock.Clock
	Logger    *zap.Logger
	Settings  Settings
}

// Messenger is the unit of components owned by one identity. Every
// mutation of the stream, the conversation list and the outbox runs under
// mu: push events, history results, timer expiries and UI actions alike.
type Messenger struct {
	self     model.Identity
	api      API
	bus      *bus.Bus
	clock    clock.Clock
	log      *zap.Logger
	settings Settings

	conn   *conn.Manager
	stream *stream.Stream
	convos *convo.Store
	queue  *outbox.Queue
	mirror *mirror.Mirror
	db     *store.DB

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	panes  map[string]error
	seeded map[string]bool
}

func newMessenger(opts unitOptions) *Messenger {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	settings := opts.Settings.withDefaults()
	log := opts.Logger.Named("session").With(zap.String("user_id", opts.Self.ID))
	ctx, cancel := context.WithCancel(context.Background())

	m := &Messenger{
		self:     opts.Self,
		api:      opts.API,
		bus:      opts.Bus,
		clock:    opts.Clock,
		log:      log,
		settings: settings,
		stream:   stream.New(settings.MatchWindow),
		convos:   convo.New(opts.Self.ID),
		db:       opts.Store,
		ctx:      ctx,
		cancel:   cancel,
		panes:    make(map[string]error),
		seeded:   make(map[string]bool),
	}
	m.conn = conn.New(conn.Options{
		Transport: opts.Transport,
		Clock:     opts.Clock,
		Bus:       opts.Bus,
		Logger:    log,
		Attempts:  settings.ReconnectAttempts,
		Delay:     settings.ReconnectDelay,
		Register:  wire.EncodeRegister,
		Deliver:   m.deliver,
	})
	var fallback outbox.Fallback
	if opts.API != nil {
		fallback = opts.API
	}
	m.queue = outbox.New(outbox.Options{
		Self:      opts.Self,
		Stream:    m.stream,
		Directory: m.convos,
		Channel:   m.conn,
		Fallback:  fallback,
		Exec:      m.exec,
		Echo:      m.receive,
		Clock:     opts.Clock,
		Bus:       opts.Bus,
		Logger:    log,
		Timeout:   settings.SendTimeout,
	})
	if opts.Store != nil {
		m.mirror = mirror.New(opts.Store, opts.Bus, opts.Self.ID, log)
	}
	return m
}

// start seeds the conversation list from the cache, restores unsettled
// sends, connects the push channel and fetches the conversation list.
func (m *Messenger) start() error {
	if m.db != nil {
		cached, err := m.db.ListConversations(m.self.ID, 0)
		if err != nil {
			m.log.Warn("failed to read cached conversations", zap.Error(err))
		} else {
			m.convos.Merge(cached)
			m.log.Info("seeded conversations from cache", zap.Int("count", len(cached)))
		}
	}
	if m.mirror != nil {
		m.mirror.Start(m.ctx)
	}
	m.exec(m.restoreOutbox)
	if m.bus != nil {
		states, unsub := m.bus.Subscribe("conn.", 16)
		m.wg.Add(1)
		go m.followConnection(states, unsub)
	}
	if err := m.conn.Connect(m.self); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	m.refreshConversations()
	return nil
}

// close disposes the unit. It returns once no goroutine of the unit can
// touch its state anymore.
func (m *Messenger) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.queue.Close()
	m.conn.Close()
	m.wg.Wait()
	if m.mirror != nil {
		m.mirror.Stop()
	}
	m.log.Info("session closed")
}

// exec runs f in the critical section unless the unit is closed.
func (m *Messenger) exec(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	f()
}

// enter locks the critical section for an action.
func (m *Messenger) enter() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// followConnection refreshes what may have been missed while the push
// channel was down.
func (m *Messenger) followConnection(states <-chan bus.Event, unsub func()) {
	defer m.wg.Done()
	defer unsub()
	for {
		select {
		case <-m.ctx.Done():
			return
		case evt := <-states:
			change, ok := evt.Payload.(conn.StateChange)
			if !ok || change.To != conn.Connected || change.From != conn.Reconnecting {
				continue
			}
			m.log.Info("reconnected, refreshing")
			m.refreshConversations()
			m.mu.Lock()
			active := m.stream.Active()
			m.mu.Unlock()
			if active == "" {
				continue
			}
			if err := m.Select(active); err != nil {
				m.log.Debug("reselect after reconnect failed", zap.String("conversation", active), zap.Error(err))
			}
		}
	}
}

// restoreOutbox brings back the sends an earlier session journaled but
// never settled. They come back Failed so they can be retried; pending
// ones are failed with outbox.ErrInterrupted. It runs after the mirror
// started, so the journal records the outcome.
func (m *Messenger) restoreOutbox() {
	if m.db == nil {
		return
	}
	restored := 0
	for _, status := range []string{store.OutboxPending, store.OutboxFailed} {
		entries, err := m.db.OutboxByStatus(m.self.ID, status)
		if err != nil {
			m.log.Warn("failed to read outbox journal", zap.String("status", status), zap.Error(err))
			continue
		}
		for _, e := range entries {
			reason := outbox.ErrInterrupted
			if e.Status == store.OutboxFailed && e.Reason != "" {
				reason = errors.New(e.Reason)
			}
			msg := model.Message{
				ID:             e.ClientID,
				ClientID:       e.ClientID,
				ConversationID: e.ConversationID,
				Content:        e.Content,
				Kind:           e.Kind,
				CreatedAt:      e.CreatedAt,
			}
			if p, ok := m.convos.Partner(e.ConversationID); ok && e.ConversationID != model.BroadcastConversationID {
				msg.ReceiverID = p.ID
			}
			if _, err := m.queue.Restore(msg, reason); err != nil {
				m.log.Debug("skipping journaled send", zap.String("client_id", e.ClientID), zap.Error(err))
				continue
			}
			restored++
		}
	}
	if restored > 0 {
		m.log.Info("restored unsettled sends", zap.Int("count", restored))
	}
}

func (m *Messenger) refreshConversations() {
	if m.api == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.settings.HistoryTimeout)
		defer cancel()
		list, err := m.api.Conversations(ctx)
		if err != nil {
			if m.ctx.Err() == nil {
				m.log.Warn("failed to load conversations", zap.Error(err))
			}
			return
		}
		m.exec(func() { m.mergeConversations(list) })
	}()
}

func (m *Messenger) mergeConversations(list []wire.Conversation) {
	convs := make([]model.Conversation, 0, len(list))
	for _, c := range list {
		if c.Partner.ID == "" || c.Partner.ID == m.self.ID {
			continue
		}
		convs = append(convs, c.ToModel(m.self.ID))
	}
	m.convos.Merge(convs)
	for _, c := range convs {
		if merged, ok := m.convos.Get(c.ID); ok {
			m.bus.Emit(bus.KindConversation, merged)
		}
	}
	m.log.Debug("merged conversations", zap.Int("count", len(convs)))
}

// Self returns the identity the unit belongs to.
func (m *Messenger) Self() model.Identity { return m.self }

// ConnState returns the push channel state.
func (m *Messenger) ConnState() conn.State { return m.conn.State() }

// Connect (re)opens the push channel. It is a no-op while connecting or
// connected.
func (m *Messenger) Connect() error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.conn.Connect(m.self)
}

// Reconnect retries a Failed push channel.
func (m *Messenger) Reconnect() error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.conn.Retry()
}

// Conversations returns the conversation list, most recent first.
func (m *Messenger) Conversations() []model.Conversation {
	return m.convos.List()
}

// Messages returns the ordered sequence of a conversation.
func (m *Messenger) Messages(conversationID string) []model.Message {
	return m.stream.MessagesFor(conversationID)
}

// Active returns the selected conversation.
func (m *Messenger) Active() string {
	return m.stream.Active()
}

// PaneError returns the HistoryFetchError of a conversation, if any.
func (m *Messenger) PaneError(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panes[conversationID]
}

// FailureReason returns why a send failed, or "".
func (m *Messenger) FailureReason(id string) string {
	if msg, ok := m.stream.Lookup(id); ok && msg.ClientID != "" {
		id = msg.ClientID
	}
	return m.queue.Reason(id)
}

// Select makes a conversation the one on screen and loads its history.
// Results of earlier selections are discarded when they arrive.
func (m *Messenger) Select(conversationID string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	partner, ok := m.convos.Partner(conversationID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	ticket := m.stream.Select(conversationID)
	m.convos.SetForeground(conversationID)
	delete(m.panes, conversationID)
	if c, ok := m.convos.Get(conversationID); ok {
		m.bus.Emit(bus.KindConversation, c)
	}
	m.seedFromCache(ticket)
	// The broadcast room is hydrated by the server after registration.
	if conversationID == model.BroadcastConversationID || m.api == nil {
		return nil
	}
	m.wg.Add(1)
	go m.loadHistory(ticket, partner)
	return nil
}

// seedFromCache shows the cached sequence of a conversation the first time
// it is selected, until its history arrives. Unsettled sends are left to
// the outbox journal.
func (m *Messenger) seedFromCache(t stream.Ticket) {
	if m.db == nil || t.ConversationID == model.BroadcastConversationID || m.seeded[t.ConversationID] {
		return
	}
	m.seeded[t.ConversationID] = true
	cached, err := m.db.ListMessages(m.self.ID, t.ConversationID, 0)
	if err != nil {
		m.log.Warn("failed to read cached messages", zap.String("conversation", t.ConversationID), zap.Error(err))
		return
	}
	settled := cached[:0]
	for _, msg := range cached {
		if msg.State == model.Sent || msg.State == model.Deleted {
			settled = append(settled, msg)
		}
	}
	if len(settled) == 0 {
		return
	}
	delivered, err := m.stream.Hydrate(t, settled)
	if err != nil {
		return
	}
	m.settle(delivered)
	m.log.Debug("seeded messages from cache", zap.String("conversation", t.ConversationID), zap.Int("count", len(settled)))
	m.bus.Emit(bus.KindHistoryLoaded, model.History{
		ConversationID: t.ConversationID,
		Messages:       m.stream.MessagesFor(t.ConversationID),
	})
}

func (m *Messenger) loadHistory(t stream.Ticket, partner model.Identity) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(m.ctx, m.settings.HistoryTimeout)
	defer cancel()
	raw, err := m.api.History(ctx, partner.ID)

	m.exec(func() {
		if !m.stream.Current(t) {
			m.log.Debug("discarding stale history", zap.String("conversation", t.ConversationID))
			return
		}
		if err != nil {
			herr := &HistoryFetchError{ConversationID: t.ConversationID, Err: err}
			m.panes[t.ConversationID] = herr
			m.log.Warn("failed to load history", zap.String("conversation", t.ConversationID), zap.Error(err))
			m.bus.Emit(bus.KindSessionHistoryErr, herr)
			return
		}
		history := make([]model.Message, 0, len(raw))
		for _, w := range raw {
			history = append(history, w.ToModel(wire.Addressed))
		}
		delivered, err := m.stream.Hydrate(t, history)
		if err != nil {
			m.log.Debug("discarding stale history", zap.Error(err))
			return
		}
		m.settle(delivered)
		m.bus.Emit(bus.KindHistoryLoaded, model.History{
			ConversationID: t.ConversationID,
			Messages:       m.stream.MessagesFor(t.ConversationID),
		})
	})
}

// settle acknowledges pending sends a history proved delivered.
func (m *Messenger) settle(clientIDs []string) {
	for _, cid := range clientIDs {
		if stored, ok := m.stream.Lookup(cid); ok {
			m.queue.Acknowledge(cid, stored.ID)
		}
	}
}

// Send sends a text message optimistically.
func (m *Messenger) Send(conversationID, content string) (model.Message, error) {
	return m.send(func() (model.Message, error) { return m.queue.Send(conversationID, content) })
}

// SendSticker sends a sticker reference optimistically.
func (m *Messenger) SendSticker(conversationID, sticker string) (model.Message, error) {
	return m.send(func() (model.Message, error) { return m.queue.SendSticker(conversationID, sticker) })
}

// RetrySend sends the content of a Failed message again as a new message.
func (m *Messenger) RetrySend(messageID string) (model.Message, error) {
	return m.send(func() (model.Message, error) { return m.queue.Retry(messageID) })
}

func (m *Messenger) send(do func() (model.Message, error)) (model.Message, error) {
	if err := m.enter(); err != nil {
		return model.Message{}, err
	}
	defer m.mu.Unlock()
	msg, err := do()
	if err != nil {
		return msg, err
	}
	m.touch(msg)
	return msg, nil
}

// DeleteMessage deletes a message. Sent messages are deleted on the
// server first; Failed ones never reached it and are deleted locally.
func (m *Messenger) DeleteMessage(ctx context.Context, id string) error {
	if err := m.enter(); err != nil {
		return err
	}
	msg, ok := m.stream.Lookup(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, stream.ErrNotFound)
	}
	switch msg.State {
	case model.Pending:
		m.mu.Unlock()
		return ErrPendingDelete
	case model.Deleted:
		m.mu.Unlock()
		return nil
	case model.Failed:
		m.retract(msg.ID)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.api.DeleteMessage(ctx, msg.ID); err != nil {
		return fmt.Errorf("delete %s: %w", msg.ID, err)
	}
	return m.enterAnd(func() { m.retract(msg.ID) })
}

func (m *Messenger) enterAnd(f func()) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	f()
	return nil
}

// MarkRead clears the unread count of a conversation.
func (m *Messenger) MarkRead(conversationID string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if !m.convos.MarkRead(conversationID) {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	c, _ := m.convos.Get(conversationID)
	m.bus.Emit(bus.KindConversation, c)
	return nil
}

// StartChat opens the conversation with partner, creating it locally.
func (m *Messenger) StartChat(partner model.Identity) (model.Conversation, error) {
	if strings.TrimSpace(partner.ID) == "" || partner.ID == m.self.ID {
		return model.Conversation{}, fmt.Errorf("%w: invalid partner %q", ErrUnknownConversation, partner.ID)
	}
	if err := m.enter(); err != nil {
		return model.Conversation{}, err
	}
	defer m.mu.Unlock()
	c := m.convos.Open(partner, m.clock.Now())
	m.bus.Emit(bus.KindConversation, c)
	return c, nil
}

// SearchUsers looks up people to start a chat with. The session identity
// is left out.
func (m *Messenger) SearchUsers(ctx context.Context, term string) ([]model.Identity, error) {
	users, err := m.api.SearchUsers(ctx, term)
	if err != nil {
		return nil, err
	}
	out := make([]model.Identity, 0, len(users))
	for _, u := range users {
		if u.ID == "" || u.ID == m.self.ID {
			continue
		}
		out = append(out, u.ToModel())
	}
	return out, nil
}

// DeleteConversation deletes a conversation on the server and forgets it
// locally. Stale events about it cannot bring it back.
func (m *Messenger) DeleteConversation(ctx context.Context, conversationID string) error {
	if conversationID == model.BroadcastConversationID {
		return ErrBroadcastRoom
	}
	partner, ok := m.convos.Partner(conversationID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if err := m.api.DeleteConversation(ctx, partner.ID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return m.enterAnd(func() {
		m.convos.Remove(conversationID, m.clock.Now())
		m.stream.Drop(conversationID)
		delete(m.panes, conversationID)
		delete(m.seeded, conversationID)
		m.bus.Emit(bus.KindConversationGone, conversationID)
	})
}

// touch records msg as activity of its conversation.
func (m *Messenger) touch(msg model.Message) {
	partner := m.partnerOf(msg)
	if partner.ID == "" {
		return
	}
	c, ok := m.convos.UpsertIn(msg.ConversationID, partner, msg.Summary(), msg.CreatedAt)
	if !ok {
		m.log.Debug("event for removed conversation", zap.String("conversation", msg.ConversationID))
		return
	}
	m.bus.Emit(bus.KindConversation, c)
}

func (m *Messenger) partnerOf(msg model.Message) model.Identity {
	if msg.ConversationID == model.BroadcastConversationID {
		return model.BroadcastPartner
	}
	if p, ok := m.convos.Partner(msg.ConversationID); ok {
		return p
	}
	return model.Identity{ID: model.PartnerOf(m.self.ID, msg)}
}

// retract tombstones a message and clears it from the preview.
func (m *Messenger) retract(id string) {
	msg, err := m.stream.Delete(id)
	if err != nil {
		if !errors.Is(err, stream.ErrNotFound) {
			m.log.Warn("failed to delete message", zap.String("message_id", id), zap.Error(err))
		}
		return
	}
	m.bus.Emit(bus.KindMessageDeleted, msg)
	if c, ok := m.convos.Retract(msg.ConversationID, msg.ID); ok {
		m.bus.Emit(bus.KindConversation, c)
	}
}
