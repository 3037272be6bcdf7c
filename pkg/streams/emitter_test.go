package streams

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitThrottled_AlwaysForwardsLifecycleBoundaries(t *testing.T) {
	r := NewRegistry(nil)
	e := NewEmitter(r, time.Minute)
	key := StreamKey("conv-1", "msg-1")
	conn := &fakeConn{id: "a"}
	r.Subscribe(key, conn)

	require.NoError(t, e.EmitThrottled(key, StateStarted, nil))
	require.NoError(t, e.EmitThrottled(key, StateComplete, nil))
	require.Len(t, conn.sent, 2)
}

func TestEmitThrottled_DropsProgressWithinMinInterval(t *testing.T) {
	r := NewRegistry(nil)
	e := NewEmitter(r, time.Minute)
	key := StreamKey("conv-1", "msg-1")
	conn := &fakeConn{id: "a"}
	r.Subscribe(key, conn)

	base := time.Now()
	clock := base
	e.now = func() time.Time { return clock }

	require.NoError(t, e.EmitThrottled(key, StateProgress, 10))
	require.Len(t, conn.sent, 1)

	clock = base.Add(10 * time.Second)
	require.NoError(t, e.EmitThrottled(key, StateProgress, 20))
	require.Len(t, conn.sent, 1, "progress within the throttle window must not forward")

	last, ok := e.LastEvent(key)
	require.True(t, ok)
	require.EqualValues(t, 20, last.Payload)
}

func TestEmitThrottled_ForwardsProgressAfterMinInterval(t *testing.T) {
	r := NewRegistry(nil)
	e := NewEmitter(r, time.Minute)
	key := StreamKey("conv-1", "msg-1")
	conn := &fakeConn{id: "a"}
	r.Subscribe(key, conn)

	base := time.Now()
	clock := base
	e.now = func() time.Time { return clock }

	require.NoError(t, e.EmitThrottled(key, StateProgress, 1))
	clock = base.Add(61 * time.Second)
	require.NoError(t, e.EmitThrottled(key, StateProgress, 2))
	require.Len(t, conn.sent, 2)
}

func TestLastEvent_CachedForLatecomers(t *testing.T) {
	r := NewRegistry(nil)
	e := NewEmitter(r, time.Minute)
	key := StreamKey("conv-1", "msg-1")

	_, ok := e.LastEvent(key)
	require.False(t, ok)

	require.NoError(t, e.EmitThrottled(key, StateStarted, "go"))
	last, ok := e.LastEvent(key)
	require.True(t, ok)
	require.Equal(t, StateStarted, last.State)
	require.Equal(t, "go", last.Payload)
}

func TestForget_ClearsBookkeeping(t *testing.T) {
	r := NewRegistry(nil)
	e := NewEmitter(r, time.Minute)
	key := StreamKey("conv-1", "msg-1")

	require.NoError(t, e.EmitThrottled(key, StateComplete, nil))
	e.Forget(key)
	_, ok := e.LastEvent(key)
	require.False(t, ok)
}

func TestDefaultMinInterval_UsedWhenZero(t *testing.T) {
	e := NewEmitter(NewRegistry(nil), 0)
	require.Equal(t, DefaultMinInterval, e.minInterval)
}
