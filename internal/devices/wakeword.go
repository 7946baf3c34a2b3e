package devices

import (
	"context"
	"sync"
)

// WakeWordConfig is the admin-mutable global wake-word detector config
// (spec §4.11 "Wake-word config distribution").
type WakeWordConfig struct {
	Version   int
	Keyword   string
	Threshold float64
	CooldownMs int
}

// SyncStatus is one device's wake-word config sync state.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
)

type wakeWordState struct {
	mu      sync.Mutex
	current WakeWordConfig
	status  map[string]SyncStatus
}

func newWakeWordState() *wakeWordState {
	return &wakeWordState{status: make(map[string]SyncStatus)}
}

func (w *wakeWordState) forget(deviceID string) {
	w.mu.Lock()
	delete(w.status, deviceID)
	w.mu.Unlock()
}

// BroadcastWakeWordConfig versioned-broadcasts the new config to every
// connected device declaring supports_local_wake_word, marking each
// pending until it acknowledges (spec §4.11).
func (m *Manager) BroadcastWakeWordConfig(ctx context.Context, cfg WakeWordConfig) WakeWordConfig {
	m.wakeword.mu.Lock()
	cfg.Version = m.wakeword.current.Version + 1
	m.wakeword.current = cfg
	m.wakeword.mu.Unlock()

	m.mu.RLock()
	var targets []string
	for id, e := range m.devices {
		if e.device.Capabilities.SupportsLocalWakeWord {
			targets = append(targets, id)
		}
	}
	m.mu.RUnlock()

	m.wakeword.mu.Lock()
	for _, id := range targets {
		m.wakeword.status[id] = SyncPending
	}
	m.wakeword.mu.Unlock()

	env := Envelope{Type: "config_update", Payload: map[string]any{
		"version": cfg.Version,
		"config": map[string]any{
			"keyword":     cfg.Keyword,
			"threshold":   cfg.Threshold,
			"cooldown_ms": cfg.CooldownMs,
		},
	}}
	for _, id := range targets {
		_ = m.SendTo(ctx, id, env)
	}
	return cfg
}

// AckWakeWordConfig records a device's config_ack. A device is marked
// failed if it reports any failed_keywords or is acknowledging a stale
// version; otherwise synced.
func (m *Manager) AckWakeWordConfig(deviceID string, version int, failedKeywords []string) {
	m.wakeword.mu.Lock()
	defer m.wakeword.mu.Unlock()

	if _, ok := m.wakeword.status[deviceID]; !ok {
		return
	}
	if version != m.wakeword.current.Version || len(failedKeywords) > 0 {
		m.wakeword.status[deviceID] = SyncFailed
		return
	}
	m.wakeword.status[deviceID] = SyncSynced
}

// WakeWordSyncStatus reports one device's current sync state.
func (m *Manager) WakeWordSyncStatus(deviceID string) (SyncStatus, bool) {
	m.wakeword.mu.Lock()
	defer m.wakeword.mu.Unlock()
	s, ok := m.wakeword.status[deviceID]
	return s, ok
}

// WakeWordSyncStatuses enumerates every tracked device's sync status
// for admin queries (spec §4.11 "synced / pending / failed").
func (m *Manager) WakeWordSyncStatuses() map[string]SyncStatus {
	m.wakeword.mu.Lock()
	defer m.wakeword.mu.Unlock()
	out := make(map[string]SyncStatus, len(m.wakeword.status))
	for k, v := range m.wakeword.status {
		out[k] = v
	}
	return out
}

// CurrentWakeWordConfig returns the last broadcast config.
func (m *Manager) CurrentWakeWordConfig() WakeWordConfig {
	m.wakeword.mu.Lock()
	defer m.wakeword.mu.Unlock()
	return m.wakeword.current
}
