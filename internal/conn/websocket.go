package conn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matheus3301/glide/internal/model"
)

// Transport opens push channel links for an identity.
type Transport interface {
	Dial(ctx context.Context, self model.Identity) (Link, error)
}

// Link is one live push channel connection. Read is called from a single
// goroutine; Write may be called concurrently with Read.
type Link interface {
	Read() ([]byte, error)
	Write(payload []byte) error
	Close() error
}

const writeWait = 10 * time.Second

// WebSocketTransport dials the server's push endpoint. The identity is
// passed as the userId query parameter and the token as a bearer header.
type WebSocketTransport struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

// Dial implements Transport. Handshake rejections with 401 or 403 are
// protocol errors; everything else is a TransportError.
func (t *WebSocketTransport) Dial(ctx context.Context, self model.Identity) (Link, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("bad socket url %q: %v", t.URL, err)}
	}
	q := u.Query()
	q.Set("userId", self.ID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	c, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &ProtocolError{Reason: "handshake rejected: " + resp.Status}
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return &wsLink{conn: c}, nil
}

type wsLink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (l *wsLink) Read() ([]byte, error) {
	_, data, err := l.conn.ReadMessage()
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	return data, nil
}

func (l *wsLink) Write(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (l *wsLink) Close() error {
	l.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	l.mu.Unlock()
	return l.conn.Close()
}
