// Package mockserver emulates the messaging backend: the REST API under
// /api and the push channel under /ws. It keeps everything in memory and
// serves local development and integration tests.
package mockserver

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/wire"
)

// Options configures a Server.
type Options struct {
	Logger *zap.Logger
	// Now stamps stored messages. Defaults to time.Now.
	Now func() time.Time
}

// Server is the in-memory backend.
type Server struct {
	log *zap.Logger
	now func() time.Time
	hub *hub

	mu        sync.Mutex
	users     map[string]wire.User
	tokens    map[string]string
	messages  []wire.Message
	broadcast []wire.Message
	// unread[user][partner] counts messages user has not fetched yet.
	unread map[string]map[string]uint
	// cleared[user][partner] hides older messages from user.
	cleared    map[string]map[string]time.Time
	seq        int
	dropEchoes bool
}

// New creates an empty backend.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		log:     opts.Logger.Named("mock"),
		now:     opts.Now,
		users:   make(map[string]wire.User),
		tokens:  make(map[string]string),
		unread:  make(map[string]map[string]uint),
		cleared: make(map[string]map[string]time.Time),
	}
	s.hub = newHub(s.log)
	return s
}

// AddUser registers u, authenticated by token.
func (s *Server) AddUser(u wire.User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.tokens[token] = u.ID
}

// DropEchoes makes the server store sends without acknowledging them to
// the sender, which lets clients run into their send timeout.
func (s *Server) DropEchoes(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropEchoes = drop
}

// Kick closes every push connection of userID.
func (s *Server) Kick(userID string) int {
	return s.hub.kick(userID)
}

// Online reports how many push connections userID has.
func (s *Server) Online(userID string) int {
	return s.hub.count(userID)
}

// Messages returns a copy of the stored addressed messages.
func (s *Server) Messages() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Handler returns the HTTP handler serving /api and /ws.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/ws", s.handleSocket)

	api := r.Group("/api", s.authenticate())
	api.GET("/auth/me", s.handleMe)
	api.GET("/conversations", s.handleConversations)
	api.DELETE("/conversations/:partnerId", s.handleDeleteConversation)
	api.GET("/messages/:partnerId", s.handleHistory)
	api.POST("/messages", s.handlePostMessage)
	api.DELETE("/messages/:id", s.handleDeleteMessage)
	api.GET("/users/search", s.handleSearch)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// userFor resolves a bearer token.
func (s *Server) userFor(token string) (wire.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	if !ok {
		return wire.User{}, false
	}
	u, ok := s.users[id]
	return u, ok
}

// store records a send from sender. It must be called with s.mu held.
func (s *Server) store(sender wire.User, req wire.SendMessage, broadcast bool) (wire.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return wire.Message{}, errEmpty
	}
	msg := wire.Message{
		CorrelationID: req.CorrelationID,
		Sender:        sender,
		Content:       req.Content,
		Kind:          req.Kind,
		IsSticker:     req.Kind == model.Sticker.String(),
		CreatedAt:     s.now().UTC(),
	}
	s.seq++
	if broadcast {
		msg.ID = fmt.Sprintf("b%d", s.seq)
		s.broadcast = append(s.broadcast, msg)
		return msg, nil
	}
	receiver, ok := s.users[req.ReceiverID]
	if !ok || receiver.ID == sender.ID {
		s.seq--
		return wire.Message{}, errNoReceiver
	}
	msg.ID = fmt.Sprintf("m%d", s.seq)
	msg.Receiver = receiver
	s.messages = append(s.messages, msg)
	counts := s.unread[receiver.ID]
	if counts == nil {
		counts = make(map[string]uint)
		s.unread[receiver.ID] = counts
	}
	counts[sender.ID]++
	return msg, nil
}

// firstVisible reports whether msg is the first message of its pair that
// the receiver can see, i.e. it opens a conversation for them.
func (s *Server) firstVisible(msg wire.Message) bool {
	seen := 0
	for _, m := range s.messages {
		if s.visible(msg.Receiver.ID, m) && pairOf(m) == pairOf(msg) {
			seen++
		}
	}
	return seen == 1
}

func (s *Server) visible(userID string, m wire.Message) bool {
	if m.Sender.ID != userID && m.Receiver.ID != userID {
		return false
	}
	partner := m.Sender.ID
	if partner == userID {
		partner = m.Receiver.ID
	}
	if at, ok := s.cleared[userID][partner]; ok && !m.CreatedAt.After(at) {
		return false
	}
	return true
}

func pairOf(m wire.Message) string {
	return model.ConversationID(m.Sender.ID, m.Receiver.ID)
}

// conversationsOf builds user's conversation list, most recent first.
func (s *Server) conversationsOf(userID string) []wire.Conversation {
	byPartner := make(map[string]*wire.Conversation)
	for i := range s.messages {
		m := s.messages[i]
		if !s.visible(userID, m) {
			continue
		}
		partner := m.Sender
		if partner.ID == userID {
			partner = m.Receiver
		}
		c := byPartner[partner.ID]
		if c == nil {
			c = &wire.Conversation{ID: pairOf(m), Partner: partner}
			byPartner[partner.ID] = c
		}
		if !m.CreatedAt.Before(c.UpdatedAt) {
			last := m
			last.CorrelationID = ""
			c.LastMessage = &last
			c.UpdatedAt = m.CreatedAt
		}
	}
	out := make([]wire.Conversation, 0, len(byPartner))
	for id, c := range byPartner {
		c.UnreadCount = s.unread[userID][id]
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// send stores a message from sender and fans it out over the push channel.
// The receiver gets new_conversation first when the message opens a
// conversation for them.
func (s *Server) send(sender wire.User, req wire.SendMessage, broadcast bool) (wire.Message, error) {
	s.mu.Lock()
	msg, err := s.store(sender, req, broadcast)
	if err != nil {
		s.mu.Unlock()
		return wire.Message{}, err
	}
	drop := s.dropEchoes
	var opened *wire.Conversation
	if !broadcast && s.firstVisible(msg) {
		last := msg
		last.CorrelationID = ""
		opened = &wire.Conversation{
			ID:          pairOf(msg),
			Partner:     sender,
			LastMessage: &last,
			UnreadCount: s.unread[msg.Receiver.ID][sender.ID],
			UpdatedAt:   msg.CreatedAt,
		}
	}
	s.mu.Unlock()

	s.log.Debug("message stored",
		zap.String("id", msg.ID),
		zap.String("sender", sender.ID),
		zap.Bool("broadcast", broadcast))

	if broadcast {
		except := ""
		if drop {
			except = sender.ID
		}
		s.hub.broadcast(wire.EventReceiveBroadcast, msg, except)
		return msg, nil
	}
	theirs := msg
	theirs.CorrelationID = ""
	if opened != nil {
		s.hub.publish(wire.EventNewConversation, opened, msg.Receiver.ID)
	}
	s.hub.publish(wire.EventReceiveMessage, theirs, msg.Receiver.ID)
	if !drop {
		s.hub.publish(wire.EventReceiveMessage, msg, sender.ID)
	}
	return msg, nil
}

// history returns the broadcast room's messages, oldest first.
func (s *Server) history() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, 0, len(s.broadcast))
	for _, m := range s.broadcast {
		m.CorrelationID = ""
		out = append(out, m)
	}
	return out
}

func sortUsers(users []wire.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
