// Package activity derives per-session agent state from callback signals.
// It is transport-free: the hook server feeds it parsed signals, tests feed
// it directly.
package activity

import "sync"

type State string

const (
	StateIdle           State = "idle"
	StateBusy           State = "busy"
	StateNeedsAttention State = "needs_attention"
)

// Notification categories that force the needs-attention state. Any other
// category leaves the state unchanged.
const (
	CategoryPermissionPrompt = "permission-prompt"
	CategoryIdlePrompt       = "idle-prompt"
)

// ChangeHandler is invoked after a state transition, outside the monitor's
// lock. It is not called for the initial registration.
type ChangeHandler func(sessionID string, state State)

// CountHandler is invoked with the new session count after every
// register and unregister, outside the monitor's lock.
type CountHandler func(n int)

// Monitor tracks the activity state and OS process id of each registered
// session. The pid is kept independently of the HTTP-derived state so a
// hung process can be distinguished from a busy one.
type Monitor struct {
	mu       sync.RWMutex
	states   map[string]State
	pids     map[string]int
	onChange ChangeHandler
	onCount  CountHandler
}

func NewMonitor() *Monitor {
	return &Monitor{
		states: make(map[string]State),
		pids:   make(map[string]int),
	}
}

func (m *Monitor) SetChangeHandler(handler ChangeHandler) {
	m.mu.Lock()
	m.onChange = handler
	m.mu.Unlock()
}

func (m *Monitor) SetCountHandler(handler CountHandler) {
	m.mu.Lock()
	m.onCount = handler
	m.mu.Unlock()
}

// Register creates an idle entry for the session. Re-registering an id
// (kill + respawn) resets it to idle and records the new pid.
func (m *Monitor) Register(sessionID string, pid int) {
	m.mu.Lock()
	m.states[sessionID] = StateIdle
	m.pids[sessionID] = pid
	n, onCount := len(m.states), m.onCount
	m.mu.Unlock()
	if onCount != nil {
		onCount(n)
	}
}

// Unregister removes the session entirely. Signals for an unregistered id
// are ignored.
func (m *Monitor) Unregister(sessionID string) {
	m.mu.Lock()
	delete(m.states, sessionID)
	delete(m.pids, sessionID)
	n, onCount := len(m.states), m.onCount
	m.mu.Unlock()
	if onCount != nil {
		onCount(n)
	}
}

func (m *Monitor) TurnStarted(sessionID string) {
	m.transition(sessionID, StateBusy)
}

func (m *Monitor) TurnEnded(sessionID string) {
	m.transition(sessionID, StateIdle)
}

// Notify applies a notification signal. Attention-demanding categories
// force needs-attention regardless of the current state.
func (m *Monitor) Notify(sessionID, category string) {
	switch category {
	case CategoryPermissionPrompt, CategoryIdlePrompt:
		m.transition(sessionID, StateNeedsAttention)
	}
}

func (m *Monitor) transition(sessionID string, to State) {
	m.mu.Lock()
	current, ok := m.states[sessionID]
	if !ok || current == to {
		m.mu.Unlock()
		return
	}
	m.states[sessionID] = to
	handler := m.onChange
	m.mu.Unlock()

	if handler != nil {
		handler(sessionID, to)
	}
}

// State returns the current activity state for a session, if registered.
func (m *Monitor) State(sessionID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[sessionID]
	return s, ok
}

// PID returns the OS process id recorded at registration.
func (m *Monitor) PID(sessionID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pid, ok := m.pids[sessionID]
	return pid, ok
}

// Snapshot returns a copy of every session's state.
func (m *Monitor) Snapshot() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.states))
	for id, s := range m.states {
		out[id] = s
	}
	return out
}
