package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ebongard/renfield/internal/clockcfg"
	"github.com/ebongard/renfield/internal/devices"
)

// Manager tracks active WebSocket sessions. Sessions are purely
// in-memory: conversation/message state is persisted implicitly via
// the Conversation/Message rows written elsewhere (spec §4.12
// "destroyed on close" — there is no session file/row of its own).
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	lastSeen      map[string]time.Time
	clock         clockcfg.Clock
	maxAudioBytes int
}

// New wires a Manager. maxAudioBytes<=0 defaults to 10 MiB.
func New(clock clockcfg.Clock, maxAudioBytes int) *Manager {
	if clock == nil {
		clock = clockcfg.SystemClock{}
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		lastSeen:      make(map[string]time.Time),
		clock:         clock,
		maxAudioBytes: maxAudioBytes,
	}
}

// ResolveID determines the session id for a newly opened transport.
// A client-supplied id is always used as-is (stable across
// reconnects). Otherwise, a satellite gets a daily-rotating id keyed
// to its device id so repeated reconnects within the same UTC day
// share one session; any other device kind gets a fresh random id
// (spec §4.12 "Satellites get a new session per 24-hour window unless
// client supplies a stable id").
func (m *Manager) ResolveID(clientID, deviceID string, kind devices.Kind) string {
	if clientID != "" {
		return clientID
	}
	if kind == devices.KindSatellite {
		return fmt.Sprintf("satellite:%s:%s", deviceID, m.clock.Now().UTC().Format("2006-01-02"))
	}
	return uuid.NewString()
}

// Open creates the session if absent and returns it (transport-open
// lifecycle hook, spec §4.12 "created on transport open").
func (m *Manager) Open(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[sessionID] = m.clock.Now()
	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s := newSession(sessionID, m.maxAudioBytes)
	m.sessions[sessionID] = s
	return s
}

// Get returns an existing session without creating one.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Close destroys a session on transport close.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.lastSeen, sessionID)
}

// LastActiveRoomForUser returns the room of userID's most recently
// opened session, if any session is currently active for that user
// (the Reminder Scheduler's room resolution, spec §4.16).
func (m *Manager) LastActiveRoomForUser(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Session
	var bestSeen time.Time
	for id, s := range m.sessions {
		if s.UserID != userID || s.Room == "" {
			continue
		}
		if best == nil || m.lastSeen[id].After(bestSeen) {
			best = s
			bestSeen = m.lastSeen[id]
		}
	}
	if best == nil {
		return "", false
	}
	return best.Room, true
}

// UsersInRoom returns the distinct user ids with an active session in
// room (notify.Service's SuppressionRule presence check, spec §4.15).
func (m *Manager) UsersInRoom(room string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.sessions {
		if s.Room != room || s.UserID == "" || seen[s.UserID] {
			continue
		}
		seen[s.UserID] = true
		out = append(out, s.UserID)
	}
	return out
}

// Count returns the number of active sessions (diagnostics).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
