package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/innosphere/chatsync/internal/bus"
)

// State represents a session runtime state.
type State string

const (
	Booting      State = "BOOTING"
	Connecting   State = "CONNECTING"
	Ready        State = "READY"
	Degraded     State = "DEGRADED"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. DEGRADED means
// the push channel is down but REST still works; the session remains
// usable in that state.
var validTransitions = map[State][]State{
	Booting:      {Connecting, Error, Closed},
	Connecting:   {Ready, Degraded, Error, Closed},
	Ready:        {Degraded, Reconnecting, Error, Closed},
	Degraded:     {Ready, Reconnecting, Error, Closed},
	Reconnecting: {Ready, Degraded, Error, Closed},
	Error:        {Booting, Closed},
	Closed:       {},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Topic:     bus.TopicSessionStatus,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
