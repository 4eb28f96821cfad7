// Package convo holds the recency-ordered conversation list of one session.
package convo

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/glide/internal/model"
)

// Store keys conversations by their canonical id. Updates are O(1); the
// recency order is computed when a snapshot is taken.
type Store struct {
	mu         sync.RWMutex
	self       string
	byID       map[string]*model.Conversation
	removed    map[string]time.Time
	foreground string
}

// New returns an empty store for the identity self.
func New(self string) *Store {
	return &Store{
		self:    self,
		byID:    make(map[string]*model.Conversation),
		removed: make(map[string]time.Time),
	}
}

// IDFor returns the canonical id of the direct conversation with partner.
// The broadcast room is never derived from a partner id.
func (s *Store) IDFor(partnerID string) string {
	return model.ConversationID(s.self, partnerID)
}

// Upsert records activity in the direct conversation with partner. See
// UpsertIn.
func (s *Store) Upsert(partner model.Identity, summary model.MessageSummary, at time.Time) (model.Conversation, bool) {
	return s.UpsertIn(s.IDFor(partner.ID), partner, summary, at)
}

// UpsertIn records activity in conversation id, creating it under partner
// if needed. The preview never regresses to older activity. Messages not
// authored by the session identity count as unread unless the
// conversation is in the foreground. It reports false when a removal
// tombstone swallowed the event.
func (s *Store) UpsertIn(id string, partner model.Identity, summary model.MessageSummary, at time.Time) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buried(id, at) {
		return model.Conversation{}, false
	}
	c := s.ensure(id, partner)
	if !at.Before(c.LastActivityAt) {
		c.LastActivityAt = at
		c.LastMessage = summary
	}
	if summary.SenderID != s.self && id != s.foreground {
		c.UnreadCount++
	}
	return *c, true
}

// Open creates the conversation with partner when it does not exist yet.
// An explicit open lifts a removal tombstone.
func (s *Store) Open(partner model.Identity, at time.Time) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.IDFor(partner.ID)
	delete(s.removed, id)
	c := s.ensure(id, partner)
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = at
	}
	return *c
}

// Merge applies a fetched conversation list. Entries are merged one by one
// rather than replacing the list, so conversations created locally since
// the fetch started are kept.
func (s *Store) Merge(list []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range list {
		if in.ID == "" || s.buried(in.ID, in.LastActivityAt) {
			continue
		}
		c := s.ensure(in.ID, in.Partner)
		if in.LastActivityAt.After(c.LastActivityAt) {
			c.LastActivityAt = in.LastActivityAt
			c.LastMessage = in.LastMessage
		}
		if in.ID == s.foreground {
			c.UnreadCount = 0
		} else if in.UnreadCount > c.UnreadCount {
			c.UnreadCount = in.UnreadCount
		}
	}
}

// SetForeground marks id as the conversation on screen and clears its
// unread count. An empty id means none.
func (s *Store) SetForeground(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foreground = id
	if c := s.byID[id]; c != nil {
		c.UnreadCount = 0
	}
}

// Foreground returns the conversation on screen.
func (s *Store) Foreground() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.foreground
}

// MarkRead zeroes the unread count of id.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.byID[id]
	if c == nil {
		return false
	}
	c.UnreadCount = 0
	return true
}

// Retract clears the preview of id if it shows messageID.
func (s *Store) Retract(id, messageID string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.byID[id]
	if c == nil || c.LastMessage.ID != messageID {
		return model.Conversation{}, false
	}
	c.LastMessage.Content = ""
	return *c, true
}

// Remove deletes id and tombstones it. Events stamped at or before the
// later of at and the conversation's last activity cannot bring it back.
func (s *Store) Remove(id string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if ok && c.LastActivityAt.After(at) {
		at = c.LastActivityAt
	}
	s.removed[id] = at
	delete(s.byID, id)
	if s.foreground == id {
		s.foreground = ""
	}
	return ok
}

// Partner returns the other participant of id.
func (s *Store) Partner(id string) (model.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.byID[id]
	if c == nil {
		return model.Identity{}, false
	}
	return c.Partner, true
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.byID[id]
	if c == nil {
		return model.Conversation{}, false
	}
	return *c, true
}

// List returns all conversations, most recent first, ties by id.
func (s *Store) List() []model.Conversation {
	s.mu.RLock()
	out := make([]model.Conversation, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, *c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) buried(id string, at time.Time) bool {
	removedAt, ok := s.removed[id]
	if !ok {
		return false
	}
	if at.After(removedAt) {
		delete(s.removed, id)
		return false
	}
	return true
}

func (s *Store) ensure(id string, partner model.Identity) *model.Conversation {
	c := s.byID[id]
	if c == nil {
		c = &model.Conversation{ID: id, Partner: partner}
		s.byID[id] = c
		return c
	}
	if c.Partner.Name == "" && partner.Name != "" {
		c.Partner.Name = partner.Name
	}
	if c.Partner.Avatar == "" && partner.Avatar != "" {
		c.Partner.Avatar = partner.Avatar
	}
	return c
}
