// Package outbox implements optimistic sends: a Pending entry shows up
// immediately, the send frame goes out with a correlation id, and the entry
// settles when the server acknowledges it or the send timer expires.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/clock"
	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/wire"
)

// DefaultTimeout is how long a send may stay Pending.
const DefaultTimeout = 10 * time.Second

var (
	ErrValidation   = errors.New("outbox: message content is empty")
	ErrSendTimeout  = errors.New("outbox: no acknowledgment before timeout")
	ErrNotRetryable = errors.New("outbox: only failed messages can be retried")
	ErrNoPartner    = errors.New("outbox: unknown conversation")
	ErrClosed       = errors.New("outbox: queue closed")
	// ErrInterrupted is the reason of a send that was still pending when
	// its session ended.
	ErrInterrupted = errors.New("outbox: interrupted before acknowledgment")
)

// Channel is the push channel as seen by the queue.
type Channel interface {
	Send(payload []byte) error
}

// Fallback stores a message over request/response when the push channel is
// down. The returned message is the server's stored copy.
type Fallback interface {
	PostMessage(ctx context.Context, req wire.SendMessage) (wire.Message, error)
}

// Stream is the part of the message stream the queue writes to.
type Stream interface {
	AddPending(m model.Message) error
	Fail(id string) (model.Message, error)
	Lookup(id string) (model.Message, bool)
}

// Directory resolves the partner of a conversation.
type Directory interface {
	Partner(conversationID string) (model.Identity, bool)
}

// Options wires a Queue. Stream, Directory and Channel are required.
type Options struct {
	Self      model.Identity
	Stream    Stream
	Directory Directory
	Channel   Channel
	Fallback  Fallback
	// Exec runs timer expiries and fallback results in the owner's critical
	// section. Defaults to calling f directly.
	Exec func(f func())
	// Echo receives the stored copy returned by Fallback, inside Exec.
	Echo    func(m model.Message)
	Clock   clock.Clock
	Bus     *bus.Bus
	Logger  *zap.Logger
	Timeout time.Duration
	NewID   func() string
}

// SendAck is the payload of bus.KindMessageSendAck.
type SendAck struct {
	ClientID       string
	MessageID      string
	ConversationID string
}

// SendFailure is the payload of bus.KindMessageSendFailed.
type SendFailure struct {
	ClientID       string
	ConversationID string
	Reason         string
}

type inflight struct {
	msg   model.Message
	timer clock.Timer
}

// Queue tracks in-flight sends. Its methods are expected to be called from
// the owner's critical section; it guards its own maps regardless.
type Queue struct {
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*inflight
	reasons map[string]string
	closed  bool
}

// New creates a Queue.
func New(opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Exec == nil {
		opts.Exec = func(f func()) { f() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		opts:    opts,
		log:     opts.Logger.Named("outbox"),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*inflight),
		reasons: make(map[string]string),
	}
}

// Send queues a text message for conversationID.
func (q *Queue) Send(conversationID, content string) (model.Message, error) {
	return q.send(conversationID, content, model.Text)
}

// SendSticker queues a sticker; content is the sticker reference.
func (q *Queue) SendSticker(conversationID, sticker string) (model.Message, error) {
	return q.send(conversationID, sticker, model.Sticker)
}

func (q *Queue) send(conversationID, content string, kind model.Kind) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrValidation
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return model.Message{}, ErrClosed
	}
	partner, ok := q.opts.Directory.Partner(conversationID)
	if !ok {
		return model.Message{}, fmt.Errorf("%w: %s", ErrNoPartner, conversationID)
	}

	mode := wire.Addressed
	receiver := partner.ID
	if conversationID == model.BroadcastConversationID {
		mode = wire.Broadcast
		receiver = ""
	}
	id := q.opts.NewID()
	m := model.Message{
		ID:             id,
		ClientID:       id,
		ConversationID: conversationID,
		SenderID:       q.opts.Self.ID,
		ReceiverID:     receiver,
		Content:        content,
		CreatedAt:      q.opts.Clock.Now(),
		State:          model.Pending,
		Kind:           kind,
	}
	if err := q.opts.Stream.AddPending(m); err != nil {
		return model.Message{}, err
	}
	q.opts.Bus.Emit(bus.KindMessageUpserted, m)

	entry := &inflight{msg: m}
	q.mu.Lock()
	q.pending[id] = entry
	entry.timer = q.opts.Clock.AfterFunc(q.opts.Timeout, func() {
		q.opts.Exec(func() { q.expire(id) })
	})
	q.mu.Unlock()

	req := wire.SendMessage{
		SenderID:      q.opts.Self.ID,
		ReceiverID:    receiver,
		Content:       content,
		Kind:          kind.String(),
		CorrelationID: id,
	}
	payload, err := wire.EncodeSend(mode, req)
	if err == nil {
		err = q.opts.Channel.Send(payload)
	}
	switch {
	case err == nil:
		q.log.Debug("send queued", zap.String("client_id", id), zap.String("conversation", conversationID))
	case errors.Is(err, conn.ErrNotConnected) && q.opts.Fallback != nil && mode == wire.Addressed:
		q.log.Info("push channel down, posting", zap.String("client_id", id))
		go q.post(id, req)
	default:
		failed, _ := q.Fail(id, err)
		return failed, nil
	}
	return m, nil
}

func (q *Queue) post(clientID string, req wire.SendMessage) {
	stored, err := q.opts.Fallback.PostMessage(q.ctx, req)
	if q.ctx.Err() != nil {
		return
	}
	q.opts.Exec(func() {
		if err != nil {
			_, _ = q.Fail(clientID, err)
			return
		}
		if stored.CorrelationID == "" {
			stored.CorrelationID = clientID
		}
		if q.opts.Echo != nil {
			q.opts.Echo(stored.ToModel(wire.Addressed))
		} else {
			q.Acknowledge(clientID, stored.ID)
		}
	})
}

// Acknowledge settles an in-flight send. It reports false when clientID is
// not in flight, e.g. because its timer already expired.
func (q *Queue) Acknowledge(clientID, messageID string) bool {
	q.mu.Lock()
	entry, ok := q.pending[clientID]
	if ok {
		entry.timer.Stop()
		delete(q.pending, clientID)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}
	q.log.Debug("send acknowledged", zap.String("client_id", clientID), zap.String("message_id", messageID))
	q.opts.Bus.Emit(bus.KindMessageSendAck, SendAck{
		ClientID:       clientID,
		MessageID:      messageID,
		ConversationID: entry.msg.ConversationID,
	})
	return true
}

// Fail moves one send to Failed and records reason. Other sends are
// unaffected.
func (q *Queue) Fail(clientID string, reason error) (model.Message, error) {
	q.mu.Lock()
	if entry, ok := q.pending[clientID]; ok {
		entry.timer.Stop()
		delete(q.pending, clientID)
	}
	q.mu.Unlock()

	failed, err := q.opts.Stream.Fail(clientID)
	if err != nil {
		return failed, err
	}
	q.mu.Lock()
	q.reasons[clientID] = reason.Error()
	q.mu.Unlock()

	q.log.Warn("send failed", zap.String("client_id", clientID), zap.Error(reason))
	q.opts.Bus.Emit(bus.KindMessageUpserted, failed)
	q.opts.Bus.Emit(bus.KindMessageSendFailed, SendFailure{
		ClientID:       clientID,
		ConversationID: failed.ConversationID,
		Reason:         reason.Error(),
	})
	return failed, nil
}

func (q *Queue) expire(clientID string) {
	q.mu.Lock()
	_, ok := q.pending[clientID]
	q.mu.Unlock()
	if ok {
		_, _ = q.Fail(clientID, ErrSendTimeout)
	}
}

// Retry sends the content of a Failed message again under a new
// correlation id. The Failed entry stays as it is.
func (q *Queue) Retry(messageID string) (model.Message, error) {
	m, ok := q.opts.Stream.Lookup(messageID)
	if !ok {
		return model.Message{}, fmt.Errorf("retry %s: %w", messageID, ErrNotRetryable)
	}
	if m.State != model.Failed {
		return model.Message{}, fmt.Errorf("retry %s in state %s: %w", messageID, m.State, ErrNotRetryable)
	}
	return q.send(m.ConversationID, m.Content, m.Kind)
}

// Restore brings back a send journaled by an earlier session. It shows up
// as Failed with reason, ready for Retry. m.ID must be its correlation id.
func (q *Queue) Restore(m model.Message, reason error) (model.Message, error) {
	if m.ClientID == "" || m.ID != m.ClientID {
		return model.Message{}, fmt.Errorf("restore %s: %w", m.ID, ErrNotRetryable)
	}
	m.SenderID = q.opts.Self.ID
	if err := q.opts.Stream.AddPending(m); err != nil {
		return model.Message{}, fmt.Errorf("restore %s: %w", m.ID, err)
	}
	return q.Fail(m.ClientID, reason)
}

// Reason returns why clientID failed, or "".
func (q *Queue) Reason(clientID string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reasons[clientID]
}

// InFlight returns the number of sends awaiting acknowledgment.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops all timers and abandons fallback posts. Sends still in
// flight stay Pending.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cancel()
	for id, entry := range q.pending {
		entry.timer.Stop()
		delete(q.pending, id)
	}
}
