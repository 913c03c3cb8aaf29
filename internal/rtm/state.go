package rtm

import (
	"fmt"
	"slices"
)

// State is the realtime channel lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Closing      State = "CLOSING"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. Live is reachable
// only from Connecting, and only the hello frame takes us there: an open
// socket that has not said hello carries no sends.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Live, Closing, Error},
	Live:         {Closing, Error},
	Closing:      {Disconnected},
	Error:        {Disconnected},
}

// Machine tracks and enforces channel state transitions. It is owned by
// the control goroutine and carries no lock.
type Machine struct {
	current State
}

// NewMachine creates a machine starting Disconnected.
func NewMachine() *Machine {
	return &Machine{current: Disconnected}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	return nil
}
