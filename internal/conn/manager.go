// Package conn owns the push channel of one session: connect, reconnect
// with a fixed delay, identity registration and connection state.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/clock"
	"github.com/matheus3301/glide/internal/model"
)

// Defaults for the reconnect policy.
const (
	DefaultAttempts = 5
	DefaultDelay    = time.Second
)

// Options configures a Manager. Transport is required.
type Options struct {
	Transport Transport
	Clock     clock.Clock
	Bus       *bus.Bus
	Logger    *zap.Logger
	// Attempts is the number of dials made in Reconnecting before giving up.
	Attempts int
	// Delay precedes every reconnect dial.
	Delay time.Duration
	// Register builds the frame written after every successful dial.
	Register func(model.Identity) ([]byte, error)
	// Deliver receives inbound payloads in transport order, from the read
	// goroutine. It must not call Close.
	Deliver func([]byte)
}

// Manager runs at most one connection loop at a time.
type Manager struct {
	opts    Options
	log     *zap.Logger
	machine *Machine

	mu     sync.Mutex
	self   model.Identity
	link   Link
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager in the Disconnected state.
func New(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Deliver == nil {
		opts.Deliver = func([]byte) {}
	}
	return &Manager{
		opts:    opts,
		log:     opts.Logger.Named("conn"),
		machine: NewMachine(opts.Bus),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Connect starts connecting as self. It is a no-op while a connection is
// being established or is up.
func (m *Manager) Connect(self model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.machine.Current() {
	case Connecting, Connected, Reconnecting:
		return nil
	}
	m.self = self
	return m.start()
}

// Retry restarts the connection after it Failed.
func (m *Manager) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.machine.Current(); cur != Failed {
		return fmt.Errorf("retry from %s: %w", cur, ErrInvalidState)
	}
	return m.start()
}

// start must be called with m.mu held.
func (m *Manager) start() error {
	if err := m.machine.Transition(Connecting, 0, nil); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done
	self := m.self
	go func() {
		defer close(done)
		m.run(ctx, self)
	}()
	return nil
}

// Send writes payload to the live link.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil || m.machine.Current() != Connected {
		return ErrNotConnected
	}
	return m.link.Write(payload)
}

// Fault records a protocol error reported by the server. The connection
// moves to Failed and is not retried.
func (m *Manager) Fault(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.machine.Current() {
	case Connecting, Connected, Reconnecting:
	default:
		return
	}
	m.stop()
	if !IsProtocol(cause) {
		cause = &ProtocolError{Reason: cause.Error()}
	}
	m.log.Warn("connection faulted", zap.Error(cause))
	_ = m.machine.Transition(Failed, 0, cause)
}

// Disconnect closes the link and stops reconnecting. It does not wait
// for the connection loop to exit.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stop()
	if m.machine.Current() != Disconnected {
		_ = m.machine.Transition(Disconnected, 0, nil)
	}
}

// Close disconnects and waits for the connection loop to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// stop must be called with m.mu held.
func (m *Manager) stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.link != nil {
		_ = m.link.Close()
		m.link = nil
	}
}

func (m *Manager) run(ctx context.Context, self model.Identity) {
	link, err := m.open(ctx, self)
	attempt := 0
	for {
		if err == nil {
			err = m.serve(ctx, link, attempt)
		}
		if ctx.Err() != nil {
			return
		}
		if IsProtocol(err) {
			m.fail(ctx, err, attempt)
			return
		}
		m.log.Warn("connection lost", zap.Error(err))
		if !m.transition(ctx, Reconnecting, 0, err) {
			return
		}
		link, attempt, err = m.redial(ctx, self)
		if err != nil {
			m.fail(ctx, err, attempt)
			return
		}
	}
}

// open dials and registers the identity on the new link.
func (m *Manager) open(ctx context.Context, self model.Identity) (Link, error) {
	link, err := m.opts.Transport.Dial(ctx, self)
	if err != nil {
		return nil, err
	}
	if m.opts.Register != nil {
		frame, err := m.opts.Register(self)
		if err == nil {
			err = link.Write(frame)
		}
		if err != nil {
			_ = link.Close()
			return nil, err
		}
	}
	return link, nil
}

// redial returns the link and the attempt that produced it, or the
// attempt that gave up.
func (m *Manager) redial(ctx context.Context, self model.Identity) (Link, int, error) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-m.opts.Clock.After(m.opts.Delay):
		}
		m.log.Info("reconnecting", zap.Int("attempt", attempt), zap.Int("of", m.opts.Attempts))
		link, err := m.open(ctx, self)
		if err == nil {
			return link, attempt, nil
		}
		lastErr = err
		if IsProtocol(err) || ctx.Err() != nil {
			return nil, attempt, err
		}
	}
	return nil, m.opts.Attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, m.opts.Attempts, lastErr)
}

// serve publishes link, marks the connection up and reads until the link
// breaks. attempt is the reconnect attempt that dialed link, 0 for the
// first dial.
func (m *Manager) serve(ctx context.Context, link Link, attempt int) error {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = link.Close()
		return ctx.Err()
	}
	m.link = link
	if err := m.machine.Transition(Connected, attempt, nil); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	m.log.Info("connected")

	for {
		payload, err := link.Read()
		if err != nil {
			m.mu.Lock()
			if m.link == link {
				_ = link.Close()
				m.link = nil
			}
			m.mu.Unlock()
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.opts.Deliver(payload)
	}
}

func (m *Manager) fail(ctx context.Context, cause error, attempt int) {
	if errors.Is(cause, context.Canceled) {
		return
	}
	m.log.Error("connection failed", zap.Error(cause), zap.Int("attempt", attempt))
	m.transition(ctx, Failed, attempt, cause)
}

// transition applies a loop-driven state change unless the loop has been
// superseded by Disconnect, Fault or a new Connect.
func (m *Manager) transition(ctx context.Context, to State, attempt int, cause error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	if err := m.machine.Transition(to, attempt, cause); err != nil {
		m.log.Warn("dropped transition", zap.Error(err))
		return false
	}
	return true
}
