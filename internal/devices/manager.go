package devices

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ebongard/renfield/internal/clockcfg"
)

const defaultHeartbeatTimeout = 60 * time.Second

type entry struct {
	device    Device
	transport Transport
	clientIP  string
}

// RoomPreferenceSource resolves a room's ordered output preferences.
// Satisfied by the room/config store; kept as a narrow interface here
// so the Device Manager doesn't need the full store layer wired in to
// be built and tested.
type RoomPreferenceSource interface {
	OutputPreferences(roomID string) []OutputPreference
}

// OutputPreference mirrors the Room-owned preference entries relevant
// to speaker selection (spec §3 glossary "OutputPreference"); only the
// renfield-device-targeted entries participate in find_speakers_in_room.
type OutputPreference struct {
	DeviceID         string
	Priority         int
	AllowInterruption bool
	Enabled          bool
}

// SpeakerCandidate is one ordered result of FindSpeakersInRoom.
type SpeakerCandidate struct {
	DeviceID          string
	Priority          int
	InterruptionAllowed bool
}

// Manager tracks registered devices keyed by device id.
type Manager struct {
	mu               sync.RWMutex
	devices          map[string]*entry
	ipRoomIndex      map[string]string
	clock            clockcfg.Clock
	heartbeatTimeout time.Duration
	rooms            RoomPreferenceSource
	wakeword         *wakeWordState
}

// New wires a Manager. A nil clock defaults to the system clock; a
// zero heartbeatTimeout defaults to 60s (spec §4.11).
func New(clock clockcfg.Clock, heartbeatTimeout time.Duration, rooms RoomPreferenceSource) *Manager {
	if clock == nil {
		clock = clockcfg.SystemClock{}
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = defaultHeartbeatTimeout
	}
	return &Manager{
		devices:          make(map[string]*entry),
		ipRoomIndex:      make(map[string]string),
		clock:            clock,
		heartbeatTimeout: heartbeatTimeout,
		rooms:            rooms,
		wakeword:         newWakeWordState(),
	}
}

// Register adds a device under its live transport. If the device is a
// stationary web kind and clientIP already maps to a placed room, that
// room is inferred; otherwise the device starts UnassignedRoom until
// administratively placed (spec §4.11 "Room inference").
func (m *Manager) Register(device Device, transport Transport, clientIP string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if device.Room == "" {
		device.Room = UnassignedRoom
	}
	if device.Room == UnassignedRoom && stationaryWebKinds[device.Kind] && clientIP != "" {
		if known, ok := m.ipRoomIndex[clientIP]; ok {
			device.Room = known
		}
	}
	device.lastHeartbeat = m.clock.Now()

	m.devices[device.ID] = &entry{device: device, transport: transport, clientIP: clientIP}

	if device.Room != UnassignedRoom && clientIP != "" {
		m.ipRoomIndex[clientIP] = device.Room
	}
}

// Unregister removes a device from active routing, closing its transport.
func (m *Manager) Unregister(deviceID string) {
	m.mu.Lock()
	e, ok := m.devices[deviceID]
	if ok {
		delete(m.devices, deviceID)
	}
	m.wakeword.forget(deviceID)
	m.mu.Unlock()

	if ok && e.transport != nil {
		_ = e.transport.Close()
	}
}

// SetRoom administratively places a device, updating the client-IP
// index so later stationary-web registrations from the same IP infer it.
func (m *Manager) SetRoom(deviceID, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.devices[deviceID]
	if !ok {
		return fmt.Errorf("devices: unknown device %q", deviceID)
	}
	e.device.Room = room
	if room != UnassignedRoom && e.clientIP != "" {
		m.ipRoomIndex[e.clientIP] = room
	}
	return nil
}

// Get returns a snapshot of a registered device.
func (m *Manager) Get(deviceID string) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	return e.device, true
}

// Heartbeat records a liveness ping from a connected device.
func (m *Manager) Heartbeat(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.devices[deviceID]
	if !ok {
		return fmt.Errorf("devices: unknown device %q", deviceID)
	}
	e.device.lastHeartbeat = m.clock.Now()
	return nil
}

// IsStale reports whether a device has missed heartbeat_timeout worth
// of liveness pings. The Output Router treats stale devices as
// UNAVAILABLE (spec §4.11 "Heartbeat").
func (m *Manager) IsStale(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[deviceID]
	if !ok {
		return true
	}
	return m.clock.Now().Sub(e.device.lastHeartbeat) > m.heartbeatTimeout
}

// SendTo delivers message to a single device's transport.
func (m *Manager) SendTo(ctx context.Context, deviceID string, message Envelope) error {
	m.mu.RLock()
	e, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("devices: unknown device %q", deviceID)
	}
	return e.transport.Send(ctx, message)
}

// BroadcastToRoom delivers message to every connected, non-stale device
// in room matching predicate (predicate may be nil to match all).
func (m *Manager) BroadcastToRoom(ctx context.Context, roomID string, predicate func(Device) bool, message Envelope) {
	for _, d := range m.devicesInRoom(roomID) {
		if m.IsStale(d.ID) {
			continue
		}
		if predicate != nil && !predicate(d) {
			continue
		}
		_ = m.SendTo(ctx, d.ID, message)
	}
}

func (m *Manager) devicesInRoom(roomID string) []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Device
	for _, e := range m.devices {
		if e.device.Room == roomID {
			out = append(out, e.device)
		}
	}
	return out
}

// FindSpeakersInRoom resolves the room's OutputPreference list (sorted
// by priority ascending, spec §4.13's selection algorithm) down to the
// subset that targets a currently connected, non-stale, speaker-capable
// Renfield device.
func (m *Manager) FindSpeakersInRoom(roomID string) []SpeakerCandidate {
	if m.rooms == nil {
		return nil
	}
	prefs := m.rooms.OutputPreferences(roomID)
	sorted := make([]OutputPreference, len(prefs))
	copy(sorted, prefs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	var out []SpeakerCandidate
	for _, p := range sorted {
		if !p.Enabled || p.DeviceID == "" {
			continue
		}
		d, ok := m.Get(p.DeviceID)
		if !ok || !d.Capabilities.HasSpeaker || m.IsStale(p.DeviceID) {
			continue
		}
		out = append(out, SpeakerCandidate{DeviceID: p.DeviceID, Priority: p.Priority, InterruptionAllowed: p.AllowInterruption})
	}
	return out
}
