// Package outputrouter implements the Output Router (spec §4.13): for
// each outbound audio reply, it selects the highest-priority available
// speaker in the target room under an availability + interruption
// policy, and enforces invariant I2 (one active playback per room).
package outputrouter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ebongard/renfield/internal/devices"
)

// State is a resolved target's availability for this routing decision.
type State string

const (
	StateAvailable   State = "available"
	StateBusy        State = "busy"
	StateUnavailable State = "unavailable"
)

// OutputPreference is one Room-owned output target (spec §3 glossary):
// exactly one of RenfieldDeviceID / SmartHomeMediaEntityID /
// DLNARendererName is populated.
type OutputPreference struct {
	RenfieldDeviceID       string
	SmartHomeMediaEntityID string
	DLNARendererName       string

	Priority          int
	AllowInterruption bool
	Volume            float64
	Enabled           bool
}

func (p OutputPreference) targetKey() string {
	switch {
	case p.RenfieldDeviceID != "":
		return "device:" + p.RenfieldDeviceID
	case p.SmartHomeMediaEntityID != "":
		return "smarthome:" + p.SmartHomeMediaEntityID
	case p.DLNARendererName != "":
		return "dlna:" + p.DLNARendererName
	default:
		return ""
	}
}

// Playable is an opaque audio-content reference plus a preferred volume.
type Playable struct {
	URL    string
	Volume float64
}

// RoomPreferenceSource resolves a room's ordered output preferences.
type RoomPreferenceSource interface {
	OutputPreferences(roomID string) []OutputPreference
}

// DeviceAvailability reports a Renfield device's online/speaker state.
// Satisfied directly by *devices.Manager.
type DeviceAvailability interface {
	Get(deviceID string) (devices.Device, bool)
	IsStale(deviceID string) bool
}

// DeviceDispatcher unicasts a playback directive to a device. Satisfied
// directly by *devices.Manager.
type DeviceDispatcher interface {
	SendTo(ctx context.Context, deviceID string, message devices.Envelope) error
}

// SmartHomeStateSource queries the smart-home collaborator for a media
// entity's raw state string (e.g. "idle", "playing", "off").
type SmartHomeStateSource interface {
	MediaState(ctx context.Context, entityID string) (string, error)
}

// SmartHomePlayer dispatches playback to a smart-home media entity.
type SmartHomePlayer interface {
	Play(ctx context.Context, entityID, url string, volume float64) error
}

// DLNAPlayer dispatches playback to a DLNA renderer.
type DLNAPlayer interface {
	Play(ctx context.Context, rendererName, url string, volume float64) error
}

// ErrRoomBusy is returned when a room already has a non-interruptible
// active playback and the new emission does not target an
// interruption-allowed preference (invariant I2).
var ErrRoomBusy = errors.New("outputrouter: room has a non-interruptible active playback")

// ErrNoOutput is returned when no preference resolves and the
// originating device (if any) has no speaker either.
var ErrNoOutput = errors.New("outputrouter: no available output target")

// EmissionPlan describes what Route selected and dispatched.
type EmissionPlan struct {
	RoomID            string
	Target            string // "device:<id>" | "smarthome:<entity>" | "dlna:<renderer>"
	State             State
	AllowInterruption bool
	Volume            float64
}

type activeEmission struct {
	target            string
	allowInterruption bool
}

// Router implements route(room_id, playable) -> emission plan.
type Router struct {
	rooms     RoomPreferenceSource
	devAvail  DeviceAvailability
	devSend   DeviceDispatcher
	smartHome SmartHomeStateSource
	shPlayer  SmartHomePlayer
	dlna      DLNAPlayer

	mu     sync.Mutex
	active map[string]activeEmission
}

// New wires a Router. Any collaborator may be nil if the deployment
// doesn't use it (e.g. no DLNA renderers configured); preferences
// targeting an unwired collaborator simply resolve UNAVAILABLE.
func New(rooms RoomPreferenceSource, devAvail DeviceAvailability, devSend DeviceDispatcher, smartHome SmartHomeStateSource, shPlayer SmartHomePlayer, dlna DLNAPlayer) *Router {
	return &Router{
		rooms:     rooms,
		devAvail:  devAvail,
		devSend:   devSend,
		smartHome: smartHome,
		shPlayer:  shPlayer,
		dlna:      dlna,
		active:    make(map[string]activeEmission),
	}
}

// Route selects the highest-priority available/interruptible
// preference for roomID and dispatches playable to it. originatingDevice
// is the session's originating device id, used as a fallback when no
// Room preference qualifies.
func (r *Router) Route(ctx context.Context, roomID string, playable Playable, originatingDevice string) (EmissionPlan, error) {
	prefs := r.rooms.OutputPreferences(roomID)
	sorted := make([]OutputPreference, len(prefs))
	copy(sorted, prefs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	for _, p := range sorted {
		if !p.Enabled {
			continue
		}
		state := r.resolveState(ctx, p)
		if state == StateAvailable || (state == StateBusy && p.AllowInterruption) {
			return r.emit(ctx, roomID, p, state, playable)
		}
	}

	// Fallback: the session's originating device, if it has a speaker.
	if originatingDevice != "" {
		if d, ok := r.devAvail.Get(originatingDevice); ok && d.Capabilities.HasSpeaker && !r.devAvail.IsStale(originatingDevice) {
			p := OutputPreference{RenfieldDeviceID: originatingDevice, AllowInterruption: true, Volume: playable.Volume, Enabled: true}
			return r.emit(ctx, roomID, p, StateAvailable, playable)
		}
	}

	return EmissionPlan{}, ErrNoOutput
}

func (r *Router) resolveState(ctx context.Context, p OutputPreference) State {
	switch {
	case p.RenfieldDeviceID != "":
		d, ok := r.devAvail.Get(p.RenfieldDeviceID)
		if !ok || !d.Capabilities.HasSpeaker || r.devAvail.IsStale(p.RenfieldDeviceID) {
			return StateUnavailable
		}
		return StateAvailable
	case p.SmartHomeMediaEntityID != "":
		if r.smartHome == nil {
			return StateUnavailable
		}
		raw, err := r.smartHome.MediaState(ctx, p.SmartHomeMediaEntityID)
		if err != nil {
			return StateUnavailable
		}
		return mapSmartHomeState(raw)
	case p.DLNARendererName != "":
		// Probing a DLNA renderer is too expensive for a routing
		// decision; treat as always available and let playback
		// errors surface later (spec §4.13).
		return StateAvailable
	default:
		return StateUnavailable
	}
}

func mapSmartHomeState(raw string) State {
	switch raw {
	case "idle", "paused", "standby":
		return StateAvailable
	case "playing", "buffering":
		return StateBusy
	default: // "off", "unknown", "unreachable", anything else
		return StateUnavailable
	}
}

func (r *Router) emit(ctx context.Context, roomID string, p OutputPreference, state State, playable Playable) (EmissionPlan, error) {
	target := p.targetKey()

	r.mu.Lock()
	if cur, ok := r.active[roomID]; ok && cur.target != target && !cur.allowInterruption {
		r.mu.Unlock()
		return EmissionPlan{}, ErrRoomBusy
	}
	r.active[roomID] = activeEmission{target: target, allowInterruption: p.AllowInterruption}
	r.mu.Unlock()

	volume := playable.Volume
	if p.Volume > 0 {
		volume = p.Volume
	}

	var err error
	switch {
	case p.RenfieldDeviceID != "":
		err = r.devSend.SendTo(ctx, p.RenfieldDeviceID, devices.Envelope{Type: "play_audio", Payload: map[string]any{"url": playable.URL, "volume": volume}})
	case p.SmartHomeMediaEntityID != "":
		if r.shPlayer == nil {
			err = fmt.Errorf("outputrouter: no smart-home player wired")
		} else {
			err = r.shPlayer.Play(ctx, p.SmartHomeMediaEntityID, playable.URL, volume)
		}
	case p.DLNARendererName != "":
		if r.dlna == nil {
			err = fmt.Errorf("outputrouter: no DLNA player wired")
		} else {
			err = r.dlna.Play(ctx, p.DLNARendererName, playable.URL, volume)
		}
	}
	if err != nil {
		r.FinishRoom(roomID)
		return EmissionPlan{}, err
	}

	return EmissionPlan{RoomID: roomID, Target: target, State: state, AllowInterruption: p.AllowInterruption, Volume: volume}, nil
}

// FinishRoom clears the room's active-playback tracking once the
// device/collaborator reports playback has ended, allowing the next
// non-interruptible emission to proceed.
func (r *Router) FinishRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, roomID)
}
