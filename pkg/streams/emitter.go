package streams

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LifecycleState is a progress event's stage. started/complete/error are
// always forwarded; progress is throttled (§4.11).
type LifecycleState string

const (
	StateStarted  LifecycleState = "started"
	StateProgress LifecycleState = "progress"
	StateComplete LifecycleState = "complete"
	StateError    LifecycleState = "error"
)

// DefaultMinInterval is the Progress Emitter's default throttle window for
// intermediate progress events (§4.11).
const DefaultMinInterval = 60 * time.Second

// Event is one published progress update.
type Event struct {
	State     LifecycleState `json:"state"`
	Payload   any            `json:"payload,omitempty"`
	EmittedAt time.Time      `json:"emittedAt"`
}

type streamState struct {
	limiter   *rate.Limiter
	lastEvent Event
}

// Emitter delivers events synchronously to every Registry subscriber of a
// stream key, throttling intermediate progress events via a per-key token
// bucket while always forwarding lifecycle-boundary states, and caching
// the last event per key for latecomer subscribers.
type Emitter struct {
	mu          sync.Mutex
	registry    *Registry
	minInterval time.Duration
	now         func() time.Time
	streams     map[string]*streamState
}

// NewEmitter constructs an Emitter publishing through registry. A
// minInterval <= 0 falls back to DefaultMinInterval.
func NewEmitter(registry *Registry, minInterval time.Duration) *Emitter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Emitter{
		registry:    registry,
		minInterval: minInterval,
		now:         time.Now,
		streams:     make(map[string]*streamState),
	}
}

func (e *Emitter) stateFor(key string) *streamState {
	st, ok := e.streams[key]
	if !ok {
		st = &streamState{limiter: rate.NewLimiter(rate.Every(e.minInterval), 1)}
		e.streams[key] = st
	}
	return st
}

// EmitThrottled publishes event under key, subject to throttling: started,
// complete, and error are always forwarded; progress events within
// minInterval of the last forwarded progress event for this key are
// dropped. The event is cached regardless of whether it was forwarded, so
// a later latecomer subscriber (via LastEvent) still sees the freshest
// state.
func (e *Emitter) EmitThrottled(key string, state LifecycleState, payload any) error {
	now := e.now()
	event := Event{State: state, Payload: payload, EmittedAt: now}

	e.mu.Lock()
	st := e.stateFor(key)
	forward := state != StateProgress || st.limiter.AllowN(now, 1)
	st.lastEvent = event
	e.mu.Unlock()

	if !forward {
		return nil
	}
	return e.registry.Publish(key, event)
}

// LastEvent returns the most recently recorded event for key, for a
// subscriber that joins after earlier events were throttled away.
func (e *Emitter) LastEvent(key string) (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.streams[key]
	if !ok {
		return Event{}, false
	}
	return st.lastEvent, true
}

// Forget drops a stream's throttle/cache bookkeeping once it is known
// finished (typically after a StateComplete or StateError emission).
func (e *Emitter) Forget(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streams, key)
}
