package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition_AllowedTable(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateInstalled, StateConfigured, true},
		{StateInstalled, StateConnected, false},
		{StateConfigured, StateConnected, true},
		{StateConnected, StateActive, true},
		{StateActive, StateSuspended, true},
		{StateSuspended, StateActive, true},
		{StateDisconnected, StateInstalled, true},
		{StateActive, StateInstalled, false},
	}
	for _, c := range cases {
		require.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestCanTransition_DisconnectAlwaysAllowedFromNonDisconnected(t *testing.T) {
	for _, s := range []State{StateInstalled, StateConfigured, StateConnected, StateActive, StateSuspended} {
		require.True(t, CanTransition(s, StateDisconnected), "disconnect from %s must be allowed", s)
	}
}

func TestMachine_RejectedTransitionLeavesStateUnchanged(t *testing.T) {
	m := NewMachine(nil)
	m.Register("gmail")

	err := m.Transition("gmail", StateActive)
	require.Error(t, err)

	state, ok := m.State("gmail")
	require.True(t, ok)
	require.Equal(t, StateInstalled, state)
}

func TestMachine_ListenerIsolation(t *testing.T) {
	m := NewMachine(nil)
	m.Register("gmail")

	var mu sync.Mutex
	var calls []string

	m.AddListener(func(id string, from, to State) {
		panic("boom")
	})
	m.AddListener(func(id string, from, to State) {
		mu.Lock()
		calls = append(calls, id)
		mu.Unlock()
	})

	require.NoError(t, m.Transition("gmail", StateConfigured))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"gmail"}, calls)

	state, _ := m.State("gmail")
	require.Equal(t, StateConfigured, state)
}

func TestMachine_DuplicateListenerIsNoOp(t *testing.T) {
	m := NewMachine(nil)
	m.Register("gmail")

	var count int
	fn := func(id string, from, to State) { count++ }
	m.AddListener(fn)
	m.AddListener(fn)

	require.NoError(t, m.Transition("gmail", StateConfigured))
	require.Equal(t, 1, count)
}
