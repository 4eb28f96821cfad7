package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/stream"
	"github.com/matheus3301/glide/internal/wire"
)

// deliver routes one push payload. It runs on the connection's read
// goroutine, so payloads are applied in transport order.
func (m *Messenger) deliver(payload []byte) {
	in, err := wire.Decode(payload)
	if err != nil {
		var unknown *wire.ErrUnknownEvent
		if errors.As(err, &unknown) {
			m.log.Debug("ignoring event", zap.String("event", unknown.Event))
		} else {
			m.log.Warn("malformed frame", zap.Error(err))
		}
		return
	}
	m.exec(func() { m.route(in) })
}

// route must be called in the critical section.
func (m *Messenger) route(in wire.Inbound) {
	switch e := in.(type) {
	case wire.Received:
		m.receive(e.Message)
	case wire.History:
		m.replaceBroadcast(e.Messages)
	case wire.Failure:
		if e.CorrelationID == "" {
			m.conn.Fault(&conn.ProtocolError{Reason: e.Reason})
			return
		}
		if _, err := m.queue.Fail(e.CorrelationID, &SendRejected{Reason: e.Reason}); err != nil {
			m.log.Debug("message_error for unknown send", zap.String("client_id", e.CorrelationID), zap.Error(err))
		}
	case wire.NewConversation:
		m.mergeConversations([]wire.Conversation{e.Conversation})
	case wire.Deleted:
		m.retract(e.ID)
	}
}

// receive merges one server message, whether pushed live or returned by
// the send fallback.
func (m *Messenger) receive(msg model.Message) {
	outcome, stored := m.stream.ApplyInbound(msg)
	m.log.Debug("inbound message",
		zap.String("message_id", msg.ID),
		zap.String("conversation", msg.ConversationID),
		zap.Stringer("outcome", outcome))

	switch outcome {
	case stream.Ignored, stream.Duplicate:
		return
	case stream.Updated:
		m.bus.Emit(bus.KindMessageDeleted, stored)
		if c, ok := m.convos.Retract(stored.ConversationID, stored.ID); ok {
			m.bus.Emit(bus.KindConversation, c)
		}
		return
	case stream.Reconciled:
		m.queue.Acknowledge(stored.ClientID, stored.ID)
	}
	m.bus.Emit(bus.KindMessageUpserted, stored)
	m.touch(stored)
}

func (m *Messenger) replaceBroadcast(history []model.Message) {
	var newest model.Message
	for _, msg := range history {
		if newest.ID == "" || newest.Before(msg) {
			newest = msg
		}
	}
	room := model.Conversation{
		ID:             model.BroadcastConversationID,
		Partner:        model.BroadcastPartner,
		LastActivityAt: m.clock.Now(),
	}
	if newest.ID != "" {
		room.LastMessage = newest.Summary()
		room.LastActivityAt = newest.CreatedAt
	}
	// Merge never counts a replay as unread activity.
	m.convos.Merge([]model.Conversation{room})
	delivered := m.stream.Replace(model.BroadcastConversationID, history)
	m.settle(delivered)
	if c, ok := m.convos.Get(model.BroadcastConversationID); ok {
		m.bus.Emit(bus.KindConversation, c)
	}
	m.bus.Emit(bus.KindHistoryLoaded, model.History{
		ConversationID: model.BroadcastConversationID,
		Messages:       m.stream.MessagesFor(model.BroadcastConversationID),
	})
}
