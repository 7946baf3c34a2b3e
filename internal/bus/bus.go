// Package bus is the connection registry backing the /ws chat
// transport (spec §6.1): one entry per live session, each wrapping a
// raw WS connection so the Orchestrator can address a session without
// knowing anything about the transport underneath it.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ebongard/renfield/internal/agent"
	"github.com/ebongard/renfield/pkg/protocol"
)

// Conn is the minimal write surface a WS handler exposes; satisfied by
// a thin wrapper around *websocket.Conn in internal/httpapi.
type Conn interface {
	WriteEnvelope(env protocol.Envelope) error
}

// Hub tracks one Conn per session id and implements
// orchestrator.Client-shaped sends by looking the session up and
// framing the call as a protocol.Envelope.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[string]Conn
}

// New wires an empty Hub.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, conns: make(map[string]Conn)}
}

// Register binds sessionID to conn, replacing any prior connection for
// that session (a reconnect supersedes the stale socket).
func (h *Hub) Register(sessionID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sessionID] = conn
}

// Unregister drops sessionID's connection, if conn is still the one
// registered (a racing reconnect must not be torn down by the old
// connection's own close handler).
func (h *Hub) Unregister(sessionID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[sessionID] == conn {
		delete(h.conns, sessionID)
	}
}

// Session returns an orchestrator.Client bound to sessionID. The
// returned value is safe to keep across the lifetime of one turn only;
// it re-resolves the live Conn on every call so it tolerates
// reconnects mid-turn (subsequent sends land on the new socket, any
// in-flight ones before the swap go to the old one).
func (h *Hub) Session(sessionID string) *SessionClient {
	return &SessionClient{hub: h, sessionID: sessionID}
}

func (h *Hub) connFor(sessionID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[sessionID]
	return c, ok
}

// Broadcast fans env out to every connected session, used for
// system-wide notices (e.g. a maintenance warning) that target no
// particular room.
func (h *Hub) Broadcast(ctx context.Context, env protocol.Envelope) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteEnvelope(env); err != nil {
			h.log.Warn("bus.broadcast_write_failed", "error", err)
		}
	}
}

// SessionClient implements orchestrator.Client over one Hub session,
// translating each call into a protocol.Envelope frame.
type SessionClient struct {
	hub       *Hub
	sessionID string
}

func (c *SessionClient) send(env protocol.Envelope) {
	conn, ok := c.hub.connFor(c.sessionID)
	if !ok {
		return
	}
	if err := conn.WriteEnvelope(env); err != nil {
		c.hub.log.Warn("bus.write_failed", "session_id", c.sessionID, "error", err)
	}
}

// SendAgentEvent forwards one Agent Loop event, framed under the
// matching protocol event name.
func (c *SessionClient) SendAgentEvent(ev agent.Event) {
	typ := agentEventType(ev.Type)
	c.send(protocol.NewEnvelope(typ, ev))
}

// SendDelta forwards one streamed content chunk.
func (c *SessionClient) SendDelta(text string) {
	c.send(protocol.NewEnvelope(protocol.EventDelta, struct {
		Text string `json:"text"`
	}{Text: text}))
}

// SendDone marks the turn complete.
func (c *SessionClient) SendDone(ttsHandled bool) {
	c.send(protocol.NewEnvelope(protocol.EventDone, struct {
		TTSHandled bool `json:"tts_handled"`
	}{TTSHandled: ttsHandled}))
}

func agentEventType(t string) string {
	switch t {
	case agent.EventThinking:
		return protocol.EventThinking
	case agent.EventToolCall:
		return protocol.EventToolCall
	case agent.EventToolResult:
		return protocol.EventToolResult
	case agent.EventFinalToken:
		return protocol.EventFinalToken
	case agent.EventDone:
		return protocol.EventDone
	default:
		return protocol.EventError
	}
}
