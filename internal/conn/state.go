package conn

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/glide/internal/bus"
)

// State is the push channel connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Failed, Disconnected},
	Connected:    {Reconnecting, Failed, Disconnected},
	Reconnecting: {Connected, Failed, Disconnected},
	Failed:       {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state and publishes a StateChange. err and
// attempt are carried in the event for observers.
func (m *Machine) Transition(to State, attempt int, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	change := StateChange{From: from, To: to, Attempt: attempt}
	if cause != nil {
		change.Reason = cause.Error()
	}
	m.bus.Emit(bus.KindConnState, change)
	return nil
}

// StateChange is the payload of bus.KindConnState events.
type StateChange struct {
	From    State
	To      State
	Attempt int
	Reason  string
}
