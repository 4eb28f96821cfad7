// Package model caches what the TUI shows and keeps it current from the
// daemon's event stream.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/glide/internal/api"
	"github.com/matheus3301/glide/internal/bus"
	domain "github.com/matheus3301/glide/internal/model"
)

// Backend is the daemon surface the TUI drives. *client.Client implements it.
type Backend interface {
	Status(ctx context.Context) (*api.StatusResponse, error)
	Login(ctx context.Context, token string, identity *domain.Identity) (domain.Identity, error)
	Logout(ctx context.Context) error
	RetryConnection(ctx context.Context) (string, error)
	ListConversations(ctx context.Context) ([]api.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) (*api.ListMessagesResponse, error)
	SelectConversation(ctx context.Context, conversationID string) error
	StartChat(ctx context.Context, partner domain.Identity) (api.Conversation, error)
	SearchUsers(ctx context.Context, term string) ([]domain.Identity, error)
	Send(ctx context.Context, conversationID, content string, sticker bool) (api.Message, error)
	RetrySend(ctx context.Context, messageID string) (api.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	MarkRead(ctx context.Context, conversationID string) error
}

// EventSource yields daemon events until it returns an error.
type EventSource interface {
	Recv() (*api.Event, error)
}

// Change says which parts of the screen an update touched.
type Change uint8

const (
	ChangedStatus Change = 1 << iota
	ChangedConversations
	ChangedMessages
)

// ViewModel caches daemon state for rendering. Reads are snapshots.
type ViewModel struct {
	backend Backend
	Flash   Flash

	mu            sync.RWMutex
	status        api.StatusResponse
	conversations []api.Conversation
	messages      []api.Message
	activeID      string
	paneError     string
	users         []domain.Identity
}

// NewViewModel creates a view model backed by the daemon.
func NewViewModel(b Backend) *ViewModel {
	return &ViewModel{backend: b}
}

// LoadStatus refreshes the status line.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.backend.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = *st
	vm.mu.Unlock()
	return nil
}

// LoadConversations refreshes the conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	convs, err := vm.backend.ListConversations(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = convs
	sortConversations(vm.conversations)
	vm.mu.Unlock()
	return nil
}

// Open makes id the foreground conversation and shows what is known of it.
// Fresh history arrives later as a history_loaded event.
func (vm *ViewModel) Open(ctx context.Context, id string) error {
	if err := vm.backend.SelectConversation(ctx, id); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.activeID = id
	vm.messages = nil
	vm.paneError = ""
	vm.mu.Unlock()
	if err := vm.backend.MarkRead(ctx, id); err != nil {
		return err
	}
	return vm.loadMessages(ctx, id)
}

func (vm *ViewModel) loadMessages(ctx context.Context, id string) error {
	resp, err := vm.backend.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.activeID != id {
		return nil
	}
	vm.messages = resp.Messages
	vm.paneError = resp.PaneError
	return nil
}

// Close leaves the foreground conversation.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.activeID = ""
	vm.messages = nil
	vm.paneError = ""
}

// Send posts text to the foreground conversation. A leading ":sticker "
// sends the rest as a sticker.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	id := vm.ActiveID()
	if id == "" {
		return errors.New("no conversation open")
	}
	sticker := false
	if rest, ok := strings.CutPrefix(text, ":sticker "); ok {
		text, sticker = rest, true
	}
	msg, err := vm.backend.Send(ctx, id, text, sticker)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.upsertMessageLocked(msg)
	vm.mu.Unlock()
	return nil
}

// Retry resends a failed message.
func (vm *ViewModel) Retry(ctx context.Context, messageID string) error {
	msg, err := vm.backend.RetrySend(ctx, messageID)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.upsertMessageLocked(msg)
	vm.mu.Unlock()
	return nil
}

// Delete removes one of the foreground conversation's messages.
func (vm *ViewModel) Delete(ctx context.Context, messageID string) error {
	return vm.backend.DeleteMessage(ctx, messageID)
}

// DeleteConversation deletes a conversation for the signed-in identity.
func (vm *ViewModel) DeleteConversation(ctx context.Context, id string) error {
	if err := vm.backend.DeleteConversation(ctx, id); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.removeConversationLocked(id)
	vm.mu.Unlock()
	return nil
}

// StartChat opens the conversation with partner, creating it if needed.
func (vm *ViewModel) StartChat(ctx context.Context, partner domain.Identity) (string, error) {
	c, err := vm.backend.StartChat(ctx, partner)
	if err != nil {
		return "", err
	}
	vm.mu.Lock()
	vm.upsertConversationLocked(c)
	vm.mu.Unlock()
	return c.ID, vm.Open(ctx, c.ID)
}

// Search looks up users to start a chat with.
func (vm *ViewModel) Search(ctx context.Context, term string) error {
	users, err := vm.backend.SearchUsers(ctx, term)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.users = users
	vm.mu.Unlock()
	return nil
}

// Login signs the daemon in with token and reloads everything.
func (vm *ViewModel) Login(ctx context.Context, token string) (domain.Identity, error) {
	id, err := vm.backend.Login(ctx, token, nil)
	if err != nil {
		return domain.Identity{}, err
	}
	vm.reset()
	if err := vm.LoadStatus(ctx); err != nil {
		return id, err
	}
	return id, vm.LoadConversations(ctx)
}

// Logout signs the daemon out.
func (vm *ViewModel) Logout(ctx context.Context) error {
	if err := vm.backend.Logout(ctx); err != nil {
		return err
	}
	vm.reset()
	return vm.LoadStatus(ctx)
}

// Reconnect asks the daemon to retry the push channel.
func (vm *ViewModel) Reconnect(ctx context.Context) error {
	state, err := vm.backend.RetryConnection(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status.Connection = state
	vm.mu.Unlock()
	return nil
}

func (vm *ViewModel) reset() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.conversations = nil
	vm.messages = nil
	vm.activeID = ""
	vm.paneError = ""
	vm.users = nil
}

// Follow applies events from src until it fails, calling onChange after
// every update that touched the screen. io.EOF ends it cleanly.
func (vm *ViewModel) Follow(src EventSource, onChange func(Change)) error {
	for {
		evt, err := src.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		changed, err := vm.Apply(evt)
		if err != nil {
			vm.Flash.Error("event "+evt.Kind, err)
			continue
		}
		if changed != 0 && onChange != nil {
			onChange(changed)
		}
	}
}

// Apply folds one daemon event into the cache.
func (vm *ViewModel) Apply(evt *api.Event) (Change, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	switch evt.Kind {
	case bus.KindConnState:
		var p api.ConnectionChange
		if err := decode(evt, &p); err != nil {
			return 0, err
		}
		vm.status.Connection = p.To
		return ChangedStatus, nil

	case bus.KindSessionIdentity:
		var id domain.Identity
		if err := decode(evt, &id); err != nil {
			return 0, err
		}
		vm.status.Identity = nil
		if !id.IsZero() {
			vm.status.Identity = &id
		}
		vm.conversations, vm.messages, vm.activeID, vm.paneError = nil, nil, "", ""
		return ChangedStatus | ChangedConversations | ChangedMessages, nil

	case bus.KindMessageUpserted, bus.KindMessageDeleted:
		var m api.Message
		if err := decode(evt, &m); err != nil {
			return 0, err
		}
		if m.ConversationID != vm.activeID {
			return 0, nil
		}
		vm.upsertMessageLocked(m)
		return ChangedMessages, nil

	case bus.KindMessageSendFailed:
		var r api.SendResult
		if err := decode(evt, &r); err != nil {
			return 0, err
		}
		if r.ConversationID != vm.activeID {
			return 0, nil
		}
		for i := range vm.messages {
			if vm.messages[i].ClientID == r.ClientID {
				vm.messages[i].State = domain.Failed.String()
				vm.messages[i].FailureReason = r.Reason
				return ChangedMessages, nil
			}
		}
		return 0, nil

	case bus.KindHistoryLoaded:
		var h api.History
		if err := decode(evt, &h); err != nil {
			return 0, err
		}
		if h.ConversationID != vm.activeID {
			return 0, nil
		}
		vm.messages = h.Messages
		vm.paneError = ""
		return ChangedMessages, nil

	case bus.KindSessionHistoryErr:
		var h api.HistoryError
		if err := decode(evt, &h); err != nil {
			return 0, err
		}
		if h.ConversationID != vm.activeID {
			return 0, nil
		}
		vm.paneError = h.Error
		return ChangedMessages, nil

	case bus.KindConversation:
		var c api.Conversation
		if err := decode(evt, &c); err != nil {
			return 0, err
		}
		vm.upsertConversationLocked(c)
		vm.status.ConversationCount = len(vm.conversations)
		return ChangedConversations | ChangedStatus, nil

	case bus.KindConversationGone:
		var id string
		if err := decode(evt, &id); err != nil {
			return 0, err
		}
		changed := vm.removeConversationLocked(id)
		vm.status.ConversationCount = len(vm.conversations)
		return changed | ChangedStatus, nil
	}
	return 0, nil
}

func decode(evt *api.Event, v any) error {
	if err := json.Unmarshal(evt.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", evt.Kind, err)
	}
	return nil
}

// upsertMessageLocked replaces the entry with the same id, or the pending
// entry with the same client id, and keeps creation order.
func (vm *ViewModel) upsertMessageLocked(m api.Message) {
	for i := range vm.messages {
		cur := vm.messages[i]
		if cur.ID == m.ID || (m.ClientID != "" && cur.ClientID == m.ClientID) {
			vm.messages[i] = m
			return
		}
	}
	vm.messages = append(vm.messages, m)
	sort.SliceStable(vm.messages, func(i, j int) bool {
		return vm.messages[i].CreatedAt.Before(vm.messages[j].CreatedAt)
	})
}

func (vm *ViewModel) upsertConversationLocked(c api.Conversation) {
	idx := slices.IndexFunc(vm.conversations, func(x api.Conversation) bool { return x.ID == c.ID })
	if idx >= 0 {
		vm.conversations[idx] = c
	} else {
		vm.conversations = append(vm.conversations, c)
	}
	sortConversations(vm.conversations)
}

func (vm *ViewModel) removeConversationLocked(id string) Change {
	before := len(vm.conversations)
	vm.conversations = slices.DeleteFunc(vm.conversations, func(c api.Conversation) bool { return c.ID == id })
	changed := Change(0)
	if len(vm.conversations) != before {
		changed |= ChangedConversations
	}
	if vm.activeID == id {
		vm.activeID, vm.messages, vm.paneError = "", nil, ""
		changed |= ChangedMessages
	}
	return changed
}

// sortConversations orders by most recent activity, ties by id.
func sortConversations(cs []api.Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].LastActivityAt.Equal(cs[j].LastActivityAt) {
			return cs[i].LastActivityAt.After(cs[j].LastActivityAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

// Status returns the last known daemon status.
func (vm *ViewModel) Status() api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// SelfID returns the signed-in identity's id, or "".
func (vm *ViewModel) SelfID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status.Identity == nil {
		return ""
	}
	return vm.status.Identity.ID
}

// Conversations returns the list, most recent first.
func (vm *ViewModel) Conversations() []api.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.conversations)
}

// Conversation returns one list entry.
func (vm *ViewModel) Conversation(id string) (api.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return api.Conversation{}, false
}

// Messages returns the foreground conversation's messages, oldest first.
func (vm *ViewModel) Messages() []api.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.messages)
}

// ActiveID returns the foreground conversation, or "".
func (vm *ViewModel) ActiveID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeID
}

// PaneError returns why the foreground history failed to load, or "".
func (vm *ViewModel) PaneError() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.paneError
}

// Users returns the last search results.
func (vm *ViewModel) Users() []domain.Identity {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.users)
}
