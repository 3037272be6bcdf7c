package streams

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// upgrader performs the handshake only; request parsing, CORS, and origin
// policy are the transport's concern and live outside this package (§1).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts *websocket.Conn to the Conn contract. Gorilla connections
// are not safe for concurrent writers, so every Send is serialized.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) Send(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// Upgrade performs the WebSocket handshake on r and returns a Conn ready
// to Subscribe against a Registry. The caller owns the connection's
// lifetime: on read-loop exit it must call Registry.UnsubscribeAll and
// Close.
func Upgrade(w http.ResponseWriter, r *http.Request) (*wsConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(conn), nil
}
