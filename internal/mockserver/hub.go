package mockserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/wire"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// peer is one push connection. Writes are serialized per connection.
type peer struct {
	user wire.User
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) send(event string, data any) error {
	payload, err := wire.Encode(event, data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// hub tracks connected peers by user id.
type hub struct {
	log *zap.Logger

	mu    sync.Mutex
	peers map[string]map[*peer]struct{}
}

func newHub(log *zap.Logger) *hub {
	return &hub{log: log, peers: make(map[string]map[*peer]struct{})}
}

func (h *hub) add(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.peers[p.user.ID]
	if set == nil {
		set = make(map[*peer]struct{})
		h.peers[p.user.ID] = set
	}
	set[p] = struct{}{}
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.peers[p.user.ID]
	delete(set, p)
	if len(set) == 0 {
		delete(h.peers, p.user.ID)
	}
}

func (h *hub) snapshot(match func(userID string) bool) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*peer
	for id, set := range h.peers {
		if !match(id) {
			continue
		}
		for p := range set {
			out = append(out, p)
		}
	}
	return out
}

// publish sends one frame to every connection of the given users.
func (h *hub) publish(event string, data any, userIDs ...string) {
	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	h.deliver(event, data, h.snapshot(func(id string) bool { return want[id] }))
}

// broadcast sends one frame to everybody except the given user.
func (h *hub) broadcast(event string, data any, except string) {
	h.deliver(event, data, h.snapshot(func(id string) bool { return id != except }))
}

func (h *hub) deliver(event string, data any, peers []*peer) {
	for _, p := range peers {
		if err := p.send(event, data); err != nil {
			h.log.Warn("push failed", zap.String("user", p.user.ID), zap.String("event", event), zap.Error(err))
		}
	}
}

func (h *hub) kick(userID string) int {
	peers := h.snapshot(func(id string) bool { return id == userID })
	for _, p := range peers {
		_ = p.conn.Close()
	}
	return len(peers)
}

func (h *hub) count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers[userID])
}

// handleSocket authenticates the upgrade request, then serves frames until
// the connection drops. Peers only receive pushes after registering.
func (s *Server) handleSocket(c *gin.Context) {
	token, ok := bearer(c.Request)
	if !ok {
		token = c.Query("token")
	}
	u, ok := s.userFor(token)
	if !ok || c.Query("userId") != u.ID {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	p := &peer{user: u, conn: ws}
	defer func() {
		s.hub.remove(p)
		_ = ws.Close()
	}()
	s.log.Info("peer connected", zap.String("user", u.ID))

	registered := false
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("read error", zap.String("user", u.ID), zap.Error(err))
			}
			s.log.Info("peer disconnected", zap.String("user", u.ID))
			return
		}
		f, err := wire.DecodeFrame(payload)
		if err != nil {
			_ = p.send(wire.EventMessageError, wire.MessageError{Reason: err.Error()})
			continue
		}
		if f.Event != wire.EventRegister && !registered {
			_ = p.send(wire.EventMessageError, wire.MessageError{Reason: "register first"})
			continue
		}
		switch f.Event {
		case wire.EventRegister:
			if registered {
				continue
			}
			registered = true
			s.hub.add(p)
			if err := p.send(wire.EventBroadcastHistory, s.history()); err != nil {
				return
			}
		case wire.EventSendMessage, wire.EventSendBroadcast:
			s.handleSocketSend(p, f)
		default:
			s.log.Debug("ignoring frame", zap.String("event", f.Event))
		}
	}
}

func (s *Server) handleSocketSend(p *peer, f wire.Frame) {
	var req wire.SendMessage
	if err := unmarshalData(f, &req); err != nil {
		_ = p.send(wire.EventMessageError, wire.MessageError{Reason: err.Error()})
		return
	}
	_, err := s.send(p.user, req, f.Event == wire.EventSendBroadcast)
	if err == nil {
		return
	}
	if !errors.Is(err, errEmpty) && !errors.Is(err, errNoReceiver) {
		s.log.Error("send failed", zap.Error(err))
	}
	_ = p.send(wire.EventMessageError, wire.MessageError{Reason: err.Error(), CorrelationID: req.CorrelationID})
}

func unmarshalData(f wire.Frame, v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return nil
}
