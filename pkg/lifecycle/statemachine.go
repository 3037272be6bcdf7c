// Package lifecycle implements the Integration State Machine (§4.5) and the
// Lifecycle Manager that drives side effects at its transition boundaries
// (§4.7).
package lifecycle

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/reins-ai/agentd/pkg/agentderr"
)

// State is one of the six integration lifecycle states.
type State string

const (
	StateInstalled    State = "installed"
	StateConfigured   State = "configured"
	StateConnected    State = "connected"
	StateActive       State = "active"
	StateSuspended    State = "suspended"
	StateDisconnected State = "disconnected"
)

// allowedTransitions is the transition table from §4.5. disconnect from any
// non-disconnected state is always allowed, which this table already
// satisfies for every row.
var allowedTransitions = map[State][]State{
	StateInstalled:    {StateConfigured, StateDisconnected},
	StateConfigured:   {StateConnected, StateDisconnected},
	StateConnected:    {StateActive, StateDisconnected},
	StateActive:       {StateSuspended, StateDisconnected},
	StateSuspended:    {StateActive, StateDisconnected},
	StateDisconnected: {StateInstalled},
}

// Listener observes every successful transition. A panicking listener is
// isolated: it does not prevent subsequent listeners from running and does
// not undo the transition (§4.5, §8 property 6).
type Listener func(integrationID string, from, to State)

// Machine is the Integration State Machine: one state per integration id,
// with transition-table enforcement and isolated listener fan-out.
type Machine struct {
	mu        sync.Mutex
	states    map[string]State
	listeners []Listener
	seen      map[uintptr]bool
	logger    *slog.Logger
}

func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		states: make(map[string]State),
		seen:   make(map[uintptr]bool),
		logger: logger,
	}
}

// Register sets the initial state for id to StateInstalled if it is not
// already known; it is a no-op otherwise.
func (m *Machine) Register(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		m.states[id] = StateInstalled
	}
}

// State returns the current state for id, or false if id is unknown.
func (m *Machine) State(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	return s, ok
}

// CanTransition is a non-mutating query against the transition table.
func CanTransition(from, to State) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AddListener registers fn for every transition. Registering the same
// function value twice is a no-op (§4.5).
func (m *Machine) AddListener(fn Listener) {
	ptr := reflect.ValueOf(fn).Pointer()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[ptr] {
		return
	}
	m.seen[ptr] = true
	m.listeners = append(m.listeners, fn)
}

// Transition attempts from->to for id. On rejection the state is left
// unchanged and the error names id, the current state, and the requested
// state.
func (m *Machine) Transition(id string, to State) error {
	m.mu.Lock()
	from, ok := m.states[id]
	if !ok {
		from = StateInstalled
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return agentderr.New(agentderr.CodeStateTransition,
			fmt.Sprintf("lifecycle: %s cannot transition from %s to %s", id, from, to))
	}
	m.states[id] = to
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	m.notify(listeners, id, from, to)
	return nil
}

func (m *Machine) notify(listeners []Listener, id string, from, to State) {
	for _, l := range listeners {
		m.callListener(l, id, from, to)
	}
}

func (m *Machine) callListener(l Listener, id string, from, to State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle listener panicked", "integrationId", id, "from", from, "to", to, "panic", r)
		}
	}()
	l(id, from, to)
}
