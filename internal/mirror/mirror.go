// Package mirror writes what a session observes into the local cache. It
// follows the bus, so a slow disk never holds up the messaging core.
package mirror

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/outbox"
	"github.com/matheus3301/glide/internal/store"
)

// Mirror persists one identity's snapshots. It subscribes to the
// "message." and "conversation." namespaces.
type Mirror struct {
	db     *store.DB
	bus    *bus.Bus
	owner  string
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a mirror writing rows owned by owner.
func New(db *store.DB, b *bus.Bus, owner string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{db: db, bus: b, owner: owner, logger: logger.Named("mirror")}
}

// Start subscribes and begins writing in the background.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	msgs, unsubMsgs := m.bus.Subscribe("message.", 512)
	convs, unsubConvs := m.bus.Subscribe("conversation.", 256)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer unsubMsgs()
		defer unsubConvs()
		for {
			select {
			case evt := <-msgs:
				m.handle(evt)
			case evt := <-convs:
				m.handle(evt)
			case <-ctx.Done():
				m.drain(msgs, convs)
				return
			}
		}
	}()
}

// Stop stops following the bus after writing what is already buffered.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Mirror) drain(chans ...<-chan bus.Event) {
	for _, ch := range chans {
		for done := false; !done; {
			select {
			case evt := <-ch:
				m.handle(evt)
			default:
				done = true
			}
		}
	}
}

func (m *Mirror) handle(evt bus.Event) {
	if err := m.apply(evt); err != nil {
		m.logger.Error("failed to mirror event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func (m *Mirror) apply(evt bus.Event) error {
	switch p := evt.Payload.(type) {
	case model.Message:
		switch {
		case p.State == model.Pending:
			if err := m.db.JournalSend(m.owner, p); err != nil {
				return fmt.Errorf("journal send: %w", err)
			}
		case p.State == model.Deleted && p.ClientID != "":
			if err := m.db.DiscardOutbox(m.owner, p.ClientID); err != nil {
				return fmt.Errorf("discard send: %w", err)
			}
		}
		return m.db.UpsertMessage(m.owner, p)
	case model.History:
		return m.db.ReplaceMessages(m.owner, p.ConversationID, p.Messages)
	case outbox.SendAck:
		return m.db.MarkOutboxSent(m.owner, p.ClientID, p.MessageID)
	case outbox.SendFailure:
		return m.db.MarkOutboxFailed(m.owner, p.ClientID, p.Reason)
	case model.Conversation:
		return m.db.UpsertConversation(m.owner, p)
	case string:
		if evt.Kind == bus.KindConversationGone {
			return m.db.DeleteConversation(m.owner, p)
		}
	}
	return nil
}
