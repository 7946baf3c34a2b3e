// Package roomprefs is the in-memory cache backing both
// devices.RoomPreferenceSource and outputrouter.RoomPreferenceSource.
// Both interfaces are synchronous and error-free by design (the Device
// Manager and Output Router must resolve a room's preferences without
// a database round trip on every call), so the source of truth lives
// in Postgres (internal/store/pg.RoomStore) and is pulled into this
// cache by Reload, which serve calls once at startup; there is no
// periodic refresh.
package roomprefs

import (
	"context"
	"sync"

	"github.com/ebongard/renfield/internal/devices"
	"github.com/ebongard/renfield/internal/outputrouter"
)

// Preference is the room-store row shape; it carries every field
// either consumer needs, and each accessor below narrows it down to
// the subset its own interface expects.
type Preference struct {
	RenfieldDeviceID       string
	SmartHomeMediaEntityID string
	DLNARendererName       string
	Priority               int
	AllowInterruption      bool
	Volume                 float64
	Enabled                bool
}

// Loader fetches every room's preferences in one round trip,
// satisfied by (*pg.RoomStore).LoadAll.
type Loader func(ctx context.Context) (map[string][]Preference, error)

// Cache holds the latest snapshot pulled from a Loader.
type Cache struct {
	mu     sync.RWMutex
	byRoom map[string][]Preference
}

// New wires an empty Cache; call Reload before serving traffic.
func New() *Cache {
	return &Cache{byRoom: make(map[string][]Preference)}
}

// Reload replaces the cache's contents with a fresh load.
func (c *Cache) Reload(ctx context.Context, load Loader) error {
	snap, err := load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.byRoom = snap
	c.mu.Unlock()
	return nil
}

func (c *Cache) get(roomID string) []Preference {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byRoom[roomID]
}

// OutputRouterSource adapts Cache to outputrouter.RoomPreferenceSource.
type OutputRouterSource struct{ Cache *Cache }

// OutputPreferences implements outputrouter.RoomPreferenceSource.
func (s OutputRouterSource) OutputPreferences(roomID string) []outputrouter.OutputPreference {
	prefs := s.Cache.get(roomID)
	out := make([]outputrouter.OutputPreference, len(prefs))
	for i, p := range prefs {
		out[i] = outputrouter.OutputPreference{
			RenfieldDeviceID:       p.RenfieldDeviceID,
			SmartHomeMediaEntityID: p.SmartHomeMediaEntityID,
			DLNARendererName:       p.DLNARendererName,
			Priority:               p.Priority,
			AllowInterruption:      p.AllowInterruption,
			Volume:                 p.Volume,
			Enabled:                p.Enabled,
		}
	}
	return out
}

// DeviceManagerSource adapts Cache to devices.RoomPreferenceSource,
// keeping only the renfield-device-targeted entries (spec §4.11
// "only the renfield-device-targeted entries participate in
// find_speakers_in_room").
type DeviceManagerSource struct{ Cache *Cache }

// OutputPreferences implements devices.RoomPreferenceSource.
func (s DeviceManagerSource) OutputPreferences(roomID string) []devices.OutputPreference {
	prefs := s.Cache.get(roomID)
	out := make([]devices.OutputPreference, 0, len(prefs))
	for _, p := range prefs {
		if p.RenfieldDeviceID == "" {
			continue
		}
		out = append(out, devices.OutputPreference{
			DeviceID:          p.RenfieldDeviceID,
			Priority:          p.Priority,
			AllowInterruption: p.AllowInterruption,
			Enabled:           p.Enabled,
		})
	}
	return out
}
