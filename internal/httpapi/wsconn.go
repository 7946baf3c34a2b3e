package httpapi

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ebongard/renfield/pkg/protocol"
)

// wsConn serializes writes to one *websocket.Conn (gorilla connections
// are not safe for concurrent writers) and implements bus.Conn; the
// devices.Transport over the same socket is deviceTransport, which wraps it.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// WriteEnvelope implements bus.Conn.
func (c *wsConn) WriteEnvelope(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}
