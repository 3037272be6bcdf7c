// Package streams implements the WebSocket Stream Registry and Progress
// Emitter (§4.11): subscription bookkeeping for progress/event fan-out on
// long-running background work. The transport itself (HTTP upgrade, CORS,
// connection accounting beyond this bookkeeping) is an external collaborator
// per §1; this package only owns the publish/subscribe semantics.
package streams

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Conn is the narrow send contract a transport connection must satisfy to
// receive fan-out. Gorilla's *websocket.Conn is adapted to this via
// wsConn (conn_ws.go).
type Conn interface {
	Send(payload []byte) error
}

// StreamKey builds the "<conversationId>:<assistantMessageId>" key events
// are published under (§4.11).
func StreamKey(conversationID, assistantMessageID string) string {
	return fmt.Sprintf("%s:%s", conversationID, assistantMessageID)
}

// Registry maps stream keys to subscriber connections, and the reverse
// (connection to its subscribed keys) so a dropped connection can be
// unwound in one pass.
type Registry struct {
	mu          sync.Mutex
	subscribers map[string]map[Conn]struct{}
	connStreams map[Conn]map[string]struct{}
	logger      *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subscribers: make(map[string]map[Conn]struct{}),
		connStreams: make(map[Conn]map[string]struct{}),
		logger:      logger,
	}
}

// Subscribe adds conn as a listener of key.
func (r *Registry) Subscribe(key string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscribers[key] == nil {
		r.subscribers[key] = make(map[Conn]struct{})
	}
	r.subscribers[key][conn] = struct{}{}

	if r.connStreams[conn] == nil {
		r.connStreams[conn] = make(map[string]struct{})
	}
	r.connStreams[conn][key] = struct{}{}
}

// Unsubscribe removes conn from key's subscriber set.
func (r *Registry) Unsubscribe(key string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(key, conn)
}

func (r *Registry) unsubscribeLocked(key string, conn Conn) {
	if set, ok := r.subscribers[key]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.subscribers, key)
		}
	}
	if keys, ok := r.connStreams[conn]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.connStreams, conn)
		}
	}
}

// UnsubscribeAll removes conn from every stream it is currently subscribed
// to. Called once a connection closes.
func (r *Registry) UnsubscribeAll(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.connStreams[conn] {
		if set, ok := r.subscribers[key]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(r.subscribers, key)
			}
		}
	}
	delete(r.connStreams, conn)
}

// SubscriberCount reports how many connections currently listen on key.
func (r *Registry) SubscriberCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers[key])
}

// Publish serializes payload once and fans it out to every subscriber of
// key. A connection whose Send fails is treated as stale and removed from
// both indexes atomically with the fan-out pass.
func (r *Registry) Publish(key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("streams: marshal payload for %q: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[key]
	var stale []Conn
	for conn := range subs {
		if err := conn.Send(body); err != nil {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		r.logger.Debug("dropping stale stream subscriber", "streamKey", key)
		r.unsubscribeLocked(key, conn)
	}
	return nil
}
