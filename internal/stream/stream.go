// Package stream keeps, per conversation, the canonical ordered and
// deduplicated message sequence built from history hydration, live push
// events and optimistic local sends.
package stream

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/glide/internal/model"
)

var (
	// ErrStaleHydration is returned when a history result arrives for a
	// selection that is no longer active. The result is discarded.
	ErrStaleHydration = errors.New("stream: stale hydration discarded")
	// ErrInvalidTransition is returned when a state change would move a
	// message backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("stream: invalid state transition")
	// ErrNotFound is returned when no entry matches the given id.
	ErrNotFound = errors.New("stream: message not found")
	// ErrDuplicateID is returned when a pending entry reuses a known id.
	ErrDuplicateID = errors.New("stream: duplicate message id")
)

// DefaultMatchWindow bounds the content heuristic used to correlate an
// inbound message with a pending send that carries no correlation id.
const DefaultMatchWindow = 5 * time.Second

// Outcome describes what ApplyInbound did with an event.
type Outcome int

const (
	// Inserted means a new entry was added.
	Inserted Outcome = iota
	// Reconciled means a pending entry was replaced in place.
	Reconciled
	// Updated means an existing entry moved forward (e.g. to Deleted).
	Updated
	// Duplicate means the id was already present; nothing changed.
	Duplicate
	// Ignored means the event was dropped (tombstoned id, late ack, no id).
	Ignored
)

func (o Outcome) String() string {
	return [...]string{"inserted", "reconciled", "updated", "duplicate", "ignored"}[o]
}

// Ticket identifies one selection of a conversation. Only the ticket of
// the current selection may hydrate.
type Ticket struct {
	ConversationID string
	generation     uint64
}

// Stream is safe for concurrent use. Callers that need several operations
// to appear atomic must serialize them themselves.
type Stream struct {
	mu         sync.RWMutex
	seqs       map[string]*sequence
	where      map[string]string // message id -> conversation id
	clients    map[string]string // correlation id -> current message id
	tombstones map[string]struct{}
	active     string
	generation uint64
	window     time.Duration
}

// New creates an empty stream. A non-positive window selects DefaultMatchWindow.
func New(window time.Duration) *Stream {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &Stream{
		seqs:       make(map[string]*sequence),
		where:      make(map[string]string),
		clients:    make(map[string]string),
		tombstones: make(map[string]struct{}),
		window:     window,
	}
}

// Select makes conversationID the active selection and returns its ticket.
// Any ticket handed out earlier becomes stale.
func (s *Stream) Select(conversationID string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.active = conversationID
	return Ticket{ConversationID: conversationID, generation: s.generation}
}

// Active returns the selected conversation id, or "".
func (s *Stream) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Current reports whether t is still the active selection.
func (s *Stream) Current(t Ticket) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current(t)
}

func (s *Stream) current(t Ticket) bool {
	return t.generation == s.generation && t.ConversationID == s.active
}

// Hydrate replaces the sequence of t's conversation with history.
//
// Local entries survive the replacement when the history cannot know about
// them yet: pending sends and failed sends the server never stored, and
// anything newer than the newest history entry (live events that raced the
// fetch). Tombstoned ids come back as tombstones. The returned slice holds
// the correlation ids of pending sends the history proved delivered.
func (s *Stream) Hydrate(t Ticket, history []model.Message) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(t) {
		return nil, ErrStaleHydration
	}
	return s.hydrate(t.ConversationID, history), nil
}

// Replace hydrates a conversation without a ticket. It serves histories
// pushed by the server rather than requested by a selection.
func (s *Stream) Replace(conversationID string, history []model.Message) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrate(conversationID, history)
}

func (s *Stream) hydrate(convID string, history []model.Message) []string {
	fresh := &sequence{}
	inHistory := make(map[string]struct{}, len(history))
	historyClients := make(map[string]struct{})
	var newest time.Time
	for _, m := range history {
		if m.ID == "" {
			continue
		}
		if _, dup := inHistory[m.ID]; dup {
			continue
		}
		inHistory[m.ID] = struct{}{}
		m.ConversationID = convID
		if _, dead := s.tombstones[m.ID]; dead {
			m = tombstone(m)
		}
		if m.ClientID != "" {
			historyClients[m.ClientID] = struct{}{}
		}
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
		fresh.insert(m)
	}

	var delivered []string
	if old := s.seqs[convID]; old != nil {
		for _, m := range old.msgs {
			delete(s.where, m.ID)
			if m.ClientID != "" {
				delete(s.clients, m.ClientID)
			}
			if _, known := inHistory[m.ID]; known {
				continue
			}
			if m.ClientID != "" {
				if _, ok := historyClients[m.ClientID]; ok {
					if m.State == model.Pending {
						delivered = append(delivered, m.ClientID)
					}
					continue
				}
			}
			switch {
			case m.State == model.Pending:
				if i := fresh.matchIndex(m, s.window, model.Sent); i >= 0 && fresh.msgs[i].ClientID == "" {
					fresh.msgs[i].ClientID = m.ClientID
					delivered = append(delivered, m.ClientID)
					continue
				}
			case m.State == model.Failed:
			case m.CreatedAt.After(newest):
			default:
				continue
			}
			fresh.insert(m)
		}
	}

	s.seqs[convID] = fresh
	for _, m := range fresh.msgs {
		s.where[m.ID] = convID
		if m.ClientID != "" {
			s.clients[m.ClientID] = m.ID
		}
	}
	return delivered
}

// AddPending inserts an optimistic local message. Its id must be its
// correlation id.
func (s *Stream) AddPending(m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" || m.ClientID == "" {
		return ErrNotFound
	}
	if _, ok := s.where[m.ID]; ok {
		return ErrDuplicateID
	}
	if _, ok := s.clients[m.ClientID]; ok {
		return ErrDuplicateID
	}
	m.State = model.Pending
	s.put(m)
	return nil
}

// ApplyInbound merges one live message and returns what happened plus the
// stored version of the entry.
func (s *Stream) ApplyInbound(m model.Message) (Outcome, model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		return Ignored, m
	}
	if _, dead := s.tombstones[m.ID]; dead {
		return Ignored, m
	}

	if convID, ok := s.where[m.ID]; ok {
		seq := s.seqs[convID]
		i := seq.index(m.ID)
		existing := seq.msgs[i]
		// The ack may arrive after hydration already brought the server copy.
		if m.ClientID != "" {
			if pid, ok := s.clients[m.ClientID]; ok && pid != m.ID {
				if p, ok := s.get(pid); ok && p.State == model.Pending {
					s.remove(pid)
					s.clients[m.ClientID] = m.ID
					i = seq.index(m.ID)
					seq.msgs[i].ClientID = m.ClientID
					return Reconciled, seq.msgs[i]
				}
			}
		}
		if m.State == model.Deleted && existing.State.CanTransition(model.Deleted) {
			s.tombstones[m.ID] = struct{}{}
			seq.msgs[i] = tombstone(existing)
			return Updated, seq.msgs[i]
		}
		return Duplicate, existing
	}

	if m.State == model.Deleted {
		s.tombstones[m.ID] = struct{}{}
		return Ignored, m
	}

	if m.ClientID != "" {
		if pid, ok := s.clients[m.ClientID]; ok {
			p, _ := s.get(pid)
			if p.State != model.Pending {
				return Ignored, p
			}
			return Reconciled, s.replace(p, m)
		}
	}

	if seq := s.seqs[m.ConversationID]; seq != nil {
		if i := seq.matchIndex(m, s.window, model.Pending); i >= 0 {
			return Reconciled, s.replace(seq.msgs[i], m)
		}
	}

	m.State = model.Sent
	s.put(m)
	return Inserted, m
}

// Fail moves a pending message to Failed. id may be the message id or its
// correlation id.
func (s *Stream) Fail(id string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.get(s.resolve(id))
	if !ok {
		return model.Message{}, ErrNotFound
	}
	if !m.State.CanTransition(model.Failed) {
		return m, ErrInvalidTransition
	}
	m.State = model.Failed
	s.set(m)
	return m, nil
}

// Delete converts the matching entry into a tombstone in place. The id is
// remembered even when no entry exists, so a stale event cannot insert it
// later; in that case ErrNotFound is returned.
func (s *Stream) Delete(id string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = s.resolve(id)
	m, ok := s.get(id)
	if !ok {
		s.tombstones[id] = struct{}{}
		return model.Message{}, ErrNotFound
	}
	if m.State == model.Deleted {
		return m, nil
	}
	if !m.State.CanTransition(model.Deleted) {
		return m, ErrInvalidTransition
	}
	s.tombstones[id] = struct{}{}
	m = tombstone(m)
	s.set(m)
	return m, nil
}

// MessagesFor returns an ordered copy of a conversation's sequence.
func (s *Stream) MessagesFor(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.seqs[conversationID]
	if seq == nil {
		return nil
	}
	out := make([]model.Message, len(seq.msgs))
	copy(out, seq.msgs)
	return out
}

// Lookup returns a copy of one message by id or correlation id.
func (s *Stream) Lookup(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(s.resolve(id))
}

// Drop forgets a conversation's sequence. Tombstones are kept.
func (s *Stream) Drop(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seqs[conversationID]
	if seq == nil {
		return
	}
	for _, m := range seq.msgs {
		delete(s.where, m.ID)
		if m.ClientID != "" {
			delete(s.clients, m.ClientID)
		}
	}
	delete(s.seqs, conversationID)
}

func (s *Stream) resolve(id string) string {
	if _, ok := s.where[id]; ok {
		return id
	}
	if cur, ok := s.clients[id]; ok {
		return cur
	}
	return id
}

func (s *Stream) get(id string) (model.Message, bool) {
	convID, ok := s.where[id]
	if !ok {
		return model.Message{}, false
	}
	seq := s.seqs[convID]
	return seq.msgs[seq.index(id)], true
}

// set overwrites an entry whose id and timestamp are unchanged.
func (s *Stream) set(m model.Message) {
	seq := s.seqs[s.where[m.ID]]
	seq.msgs[seq.index(m.ID)] = m
}

func (s *Stream) put(m model.Message) {
	seq := s.seqs[m.ConversationID]
	if seq == nil {
		seq = &sequence{}
		s.seqs[m.ConversationID] = seq
	}
	seq.insert(m)
	s.where[m.ID] = m.ConversationID
	if m.ClientID != "" {
		s.clients[m.ClientID] = m.ID
	}
}

func (s *Stream) remove(id string) {
	convID, ok := s.where[id]
	if !ok {
		return
	}
	seq := s.seqs[convID]
	seq.removeAt(seq.index(id))
	delete(s.where, id)
}

// replace swaps pending entry p for its server copy m. The server id and
// timestamp win; the correlation id and conversation are kept.
func (s *Stream) replace(p, m model.Message) model.Message {
	s.remove(p.ID)
	m.ClientID = p.ClientID
	m.ConversationID = p.ConversationID
	m.State = model.Sent
	s.put(m)
	return m
}

func tombstone(m model.Message) model.Message {
	m.State = model.Deleted
	m.Content = ""
	return m
}

// sequence is kept sorted by model.Message.Before.
type sequence struct {
	msgs []model.Message
}

func (q *sequence) insert(m model.Message) {
	i := sort.Search(len(q.msgs), func(i int) bool { return m.Before(q.msgs[i]) })
	q.msgs = append(q.msgs, model.Message{})
	copy(q.msgs[i+1:], q.msgs[i:])
	q.msgs[i] = m
}

func (q *sequence) removeAt(i int) {
	q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
}

func (q *sequence) index(id string) int {
	for i := range q.msgs {
		if q.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// matchIndex finds the earliest entry in state that has m's sender and
// exact content and lies within window of m.
func (q *sequence) matchIndex(m model.Message, window time.Duration, state model.DeliveryState) int {
	for i, c := range q.msgs {
		if c.State != state || c.SenderID != m.SenderID || c.Content != m.Content {
			continue
		}
		d := c.CreatedAt.Sub(m.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return i
		}
	}
	return -1
}
