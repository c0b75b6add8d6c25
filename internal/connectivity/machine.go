// Package connectivity tracks whether the gateway is reachable and whether
// the offline queue is replaying.
package connectivity

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/partyline/internal/bus"
)

// State is the connectivity state of a profile.
type State string

const (
	Offline State = "OFFLINE"
	Syncing State = "SYNCING"
	Idle    State = "IDLE"
)

// validTransitions defines allowed state transitions. OFFLINE goes straight to
// IDLE when there is nothing to replay.
var validTransitions = map[State][]State{
	Offline: {Syncing, Idle},
	Syncing: {Idle, Offline},
	Idle:    {Offline, Syncing},
}

// Machine tracks and enforces connectivity transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting Offline. Nothing is assumed reachable
// until a probe says so.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Offline, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online reports whether the gateway is considered reachable.
func (m *Machine) Online() bool {
	return m.Current() != Offline
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindConnectivityChanged, Change{From: from, To: to})
	return nil
}

// Change is the payload of connectivity.changed events.
type Change struct {
	From State
	To   State
}
