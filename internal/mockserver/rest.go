package mockserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/wire"
)

const userKey = "user"

var (
	errEmpty      = errors.New("message content is empty")
	errNoReceiver = errors.New("unknown receiver")
)

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
			return
		}
		u, ok := s.userFor(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func caller(c *gin.Context) wire.User {
	return c.MustGet(userKey).(wire.User)
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, caller(c))
}

func (s *Server) handleConversations(c *gin.Context) {
	me := caller(c)
	s.mu.Lock()
	out := s.conversationsOf(me.ID)
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

// handleHistory returns the visible messages with a partner, oldest first.
// Fetching history marks the conversation read.
func (s *Server) handleHistory(c *gin.Context) {
	me := caller(c)
	partner := c.Param("partnerId")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[partner]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown user"})
		return
	}
	out := []wire.Message{}
	for _, m := range s.messages {
		if !s.visible(me.ID, m) {
			continue
		}
		if m.Sender.ID != partner && m.Receiver.ID != partner {
			continue
		}
		m.CorrelationID = ""
		out = append(out, m)
	}
	delete(s.unread[me.ID], partner)
	c.JSON(http.StatusOK, out)
}

// handlePostMessage is the non-push send path.
func (s *Server) handlePostMessage(c *gin.Context) {
	me := caller(c)
	var req wire.SendMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	msg, err := s.send(me, req, false)
	switch {
	case errors.Is(err, errEmpty):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	case errors.Is(err, errNoReceiver):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// handleDeleteMessage tombstones a message. Only its sender may delete it.
func (s *Server) handleDeleteMessage(c *gin.Context) {
	me := caller(c)
	id := c.Param("id")

	s.mu.Lock()
	idx := -1
	for i, m := range s.messages {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"message": "message not found"})
		return
	}
	m := &s.messages[idx]
	if m.Sender.ID != me.ID {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"message": "only the sender can delete a message"})
		return
	}
	m.Deleted = true
	m.Content = ""
	sender, receiver := m.Sender.ID, m.Receiver.ID
	s.mu.Unlock()

	s.hub.publish(wire.EventMessageDeleted, wire.MessageDeleted{ID: id}, sender, receiver)
	c.Status(http.StatusNoContent)
}

// handleDeleteConversation hides the conversation from the caller only.
// A later message reopens it.
func (s *Server) handleDeleteConversation(c *gin.Context) {
	me := caller(c)
	partner := c.Param("partnerId")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[partner]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown user"})
		return
	}
	if s.cleared[me.ID] == nil {
		s.cleared[me.ID] = make(map[string]time.Time)
	}
	s.cleared[me.ID][partner] = s.now().UTC()
	delete(s.unread[me.ID], partner)
	s.log.Info("conversation cleared", zap.String("user", me.ID), zap.String("partner", partner))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSearch(c *gin.Context) {
	me := caller(c)
	term := strings.ToLower(strings.TrimSpace(c.Query("term")))

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []wire.User{}
	for _, u := range s.users {
		if u.ID == me.ID {
			continue
		}
		if term == "" || strings.Contains(strings.ToLower(u.FullName), term) || strings.Contains(strings.ToLower(u.ID), term) {
			out = append(out, u)
		}
	}
	sortUsers(out)
	c.JSON(http.StatusOK, out)
}
