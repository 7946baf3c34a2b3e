package breaker

import (
	"log/slog"
	"sync"

	"github.com/ebongard/renfield/internal/clockcfg"
)

// Manager hands out one Breaker per resource key, creating it lazily,
// so that one failing LLM endpoint, MCP server, or agent step kind
// never trips the breaker for an unrelated resource.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	clock    clockcfg.Clock
	log      *slog.Logger
}

// NewManager creates a manager applying cfg to every breaker it creates.
func NewManager(cfg Config, clock clockcfg.Clock, log *slog.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		clock:    clock,
		log:      log,
	}
}

// Get returns the breaker for resource, creating it on first use.
func (m *Manager) Get(resource string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[resource]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[resource]; ok {
		return b
	}
	b = New(resource, m.cfg, m.clock, m.log)
	m.breakers[resource] = b
	return b
}

// AllStats returns a snapshot of every breaker's stats, keyed by resource.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Stats()
	}
	return out
}

// Reset resets the breaker for a specific resource, if it exists.
func (m *Manager) Reset(resource string) {
	m.mu.RLock()
	b, ok := m.breakers[resource]
	m.mu.RUnlock()
	if ok {
		b.Reset()
	}
}

// ResetAll resets every known breaker.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}
