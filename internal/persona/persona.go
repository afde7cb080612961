// Package persona tracks which agent identity fronts the session.
//
// A session runs with exactly one active persona at a time: the default
// front-desk agent, or the emergency dispatcher once the caller's situation
// is flagged urgent. Switching is driven by the model's tool calls and is
// idempotent, so repeated emergency declarations never thrash the session.
package persona

import "sync"

// Persona is one agent identity the session can speak as.
type Persona struct {
	// Name identifies the persona in config and logs ("front_desk").
	Name string

	// Voice is the provider voice the persona speaks with.
	Voice string

	// Label is the human-readable agent name stamped on lead records.
	Label string
}

// State is a snapshot of the machine.
type State struct {
	// Active is the persona currently fronting the session.
	Active Persona

	// EmergencyActive reports whether the emergency persona is engaged.
	EmergencyActive bool
}

// Machine holds the default/emergency persona pair and which one is active.
// Safe for concurrent use.
type Machine struct {
	defaultPersona   Persona
	emergencyPersona Persona

	mu        sync.Mutex
	emergency bool
}

// NewMachine creates a Machine starting on the default persona.
func NewMachine(defaultPersona, emergencyPersona Persona) *Machine {
	return &Machine{
		defaultPersona:   defaultPersona,
		emergencyPersona: emergencyPersona,
	}
}

// SetEmergency engages or disengages the emergency persona. changed is false
// when the machine was already in the requested state, letting callers skip
// redundant announcements.
func (m *Machine) SetEmergency(active bool) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.emergency != active
	m.emergency = active
	return m.stateLocked(), changed
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Active returns the persona currently fronting the session.
func (m *Machine) Active() Persona {
	return m.State().Active
}

// Reset returns the machine to the default persona. Called when a session
// ends so the next caller always greets the front desk.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergency = false
}

func (m *Machine) stateLocked() State {
	if m.emergency {
		return State{Active: m.emergencyPersona, EmergencyActive: true}
	}
	return State{Active: m.defaultPersona}
}
