package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/glide/internal/api"
	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/session"
)

// startDaemon serves the API for a signed-out session on a temporary socket.
func startDaemon(t *testing.T) (*Client, *bus.Bus) {
	t.Helper()
	// Unix socket paths are length-limited, so stay under /tmp.
	dir, err := os.MkdirTemp("/tmp", "glide-client-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "d.sock")

	lis, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	srv := grpc.NewServer()
	api.RegisterMessengerServer(srv, api.NewService("test", session.NewContext(session.Config{Bus: b}), b, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := New(sock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, b
}

func TestStatusSignedOut(t *testing.T) {
	c, _ := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Profile != "test" || st.Identity != nil || st.Connection != "DISCONNECTED" {
		t.Errorf("status = %+v", st)
	}
}

func TestCallsWithoutIdentityFailPrecondition(t *testing.T) {
	c, _ := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.ListConversations(ctx)
	if code := grpcstatus.Code(err); code != codes.FailedPrecondition {
		t.Errorf("ListConversations code = %s, want FailedPrecondition (err %v)", code, err)
	}
	_, err = c.Send(ctx, "a:b", "hi", false)
	if code := grpcstatus.Code(err); code != codes.FailedPrecondition {
		t.Errorf("Send code = %s, want FailedPrecondition (err %v)", code, err)
	}
	if err := c.Logout(ctx); err != nil {
		t.Errorf("Logout() error = %v", err)
	}
}

func TestWatchEventsFiltersByNamespace(t *testing.T) {
	c, b := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.WatchEvents(ctx, "conversation.")
	if err != nil {
		t.Fatal(err)
	}

	// The server subscribes asynchronously; keep emitting until one arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				b.Emit(bus.KindConnState, "ignored")
				b.Emit(bus.KindConversationGone, "a:b")
			}
		}
	}()

	evt, err := events.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if evt.Kind != bus.KindConversationGone || string(evt.Payload) != `"a:b"` {
		t.Errorf("event = %s %s", evt.Kind, evt.Payload)
	}
	if evt.ID == "" {
		t.Error("event without id")
	}
}
