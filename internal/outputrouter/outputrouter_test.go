package outputrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/devices"
)

type fakeRooms struct {
	prefs map[string][]OutputPreference
}

func (f *fakeRooms) OutputPreferences(roomID string) []OutputPreference {
	return f.prefs[roomID]
}

type fakeDeviceAvail struct {
	devices map[string]devices.Device
	stale   map[string]bool
}

func (f *fakeDeviceAvail) Get(deviceID string) (devices.Device, bool) {
	d, ok := f.devices[deviceID]
	return d, ok
}

func (f *fakeDeviceAvail) IsStale(deviceID string) bool {
	return f.stale[deviceID]
}

type fakeDeviceDispatcher struct {
	sent []string
	err  error
}

func (f *fakeDeviceDispatcher) SendTo(ctx context.Context, deviceID string, message devices.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, deviceID)
	return nil
}

type fakeSmartHome struct {
	states map[string]string
}

func (f *fakeSmartHome) MediaState(ctx context.Context, entityID string) (string, error) {
	return f.states[entityID], nil
}

type fakeSmartHomePlayer struct {
	played []string
}

func (f *fakeSmartHomePlayer) Play(ctx context.Context, entityID, url string, volume float64) error {
	f.played = append(f.played, entityID)
	return nil
}

type fakeDLNAPlayer struct {
	played []string
}

func (f *fakeDLNAPlayer) Play(ctx context.Context, rendererName, url string, volume float64) error {
	f.played = append(f.played, rendererName)
	return nil
}

func deviceAvail(online map[string]bool) *fakeDeviceAvail {
	f := &fakeDeviceAvail{devices: map[string]devices.Device{}, stale: map[string]bool{}}
	for id, up := range online {
		f.devices[id] = devices.Device{ID: id, Capabilities: devices.Capabilities{HasSpeaker: true}}
		f.stale[id] = !up
	}
	return f
}

func TestRoutePicksFirstAvailablePreferenceByPriority(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{
		"kitchen": {
			{RenfieldDeviceID: "speaker-2", Priority: 2, Enabled: true},
			{RenfieldDeviceID: "speaker-1", Priority: 1, Enabled: true},
		},
	}}
	avail := deviceAvail(map[string]bool{"speaker-1": true, "speaker-2": true})
	dispatch := &fakeDeviceDispatcher{}
	r := New(rooms, avail, dispatch, nil, nil, nil)

	plan, err := r.Route(context.Background(), "kitchen", Playable{URL: "clip.mp3", Volume: 0.5}, "")

	require.NoError(t, err)
	assert.Equal(t, "device:speaker-1", plan.Target)
	assert.Equal(t, []string{"speaker-1"}, dispatch.sent)
}

func TestRouteSkipsUnavailableDeviceForNextPreference(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{
		"kitchen": {
			{RenfieldDeviceID: "speaker-1", Priority: 1, Enabled: true},
			{RenfieldDeviceID: "speaker-2", Priority: 2, Enabled: true},
		},
	}}
	avail := deviceAvail(map[string]bool{"speaker-1": false, "speaker-2": true})
	dispatch := &fakeDeviceDispatcher{}
	r := New(rooms, avail, dispatch, nil, nil, nil)

	plan, err := r.Route(context.Background(), "kitchen", Playable{URL: "clip.mp3"}, "")

	require.NoError(t, err)
	assert.Equal(t, "device:speaker-2", plan.Target)
}

func TestRouteMapsSmartHomeStatesCorrectly(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{
		"living_room": {
			{SmartHomeMediaEntityID: "media_player.sonos", Priority: 1, Enabled: true},
		},
	}}
	sh := &fakeSmartHome{states: map[string]string{"media_player.sonos": "idle"}}
	player := &fakeSmartHomePlayer{}
	r := New(rooms, &fakeDeviceAvail{}, &fakeDeviceDispatcher{}, sh, player, nil)

	plan, err := r.Route(context.Background(), "living_room", Playable{URL: "clip.mp3"}, "")

	require.NoError(t, err)
	assert.Equal(t, StateAvailable, plan.State)
	assert.Equal(t, []string{"media_player.sonos"}, player.played)
}

func TestRouteTreatsPlayingSmartHomeAsBusyUnlessInterruptionAllowed(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{
		"living_room": {
			{SmartHomeMediaEntityID: "media_player.sonos", Priority: 1, Enabled: true, AllowInterruption: false},
		},
	}}
	sh := &fakeSmartHome{states: map[string]string{"media_player.sonos": "playing"}}
	r := New(rooms, &fakeDeviceAvail{}, &fakeDeviceDispatcher{}, sh, &fakeSmartHomePlayer{}, nil)

	_, err := r.Route(context.Background(), "living_room", Playable{URL: "clip.mp3"}, "")
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestRouteAllowsInterruptionOfBusySmartHome(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{
		"living_room": {
			{SmartHomeMediaEntityID: "media_player.sonos", Priority: 1, Enabled: true, AllowInterruption: true},
		},
	}}
	sh := &fakeSmartHome{states: map[string]string{"media_player.sonos": "playing"}}
	player := &fakeSmartHomePlayer{}
	r := New(rooms, &fakeDeviceAvail{}, &fakeDeviceDispatcher{}, sh, player, nil)

	plan, err := r.Route(context.Background(), "living_room", Playable{URL: "clip.mp3"}, "")
	require.NoError(t, err)
	assert.Equal(t, StateBusy, plan.State)
}

func TestRouteDLNAAlwaysTreatedAvailable(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{
		"office": {{DLNARendererName: "living-room-tv", Priority: 1, Enabled: true}},
	}}
	dlna := &fakeDLNAPlayer{}
	r := New(rooms, &fakeDeviceAvail{}, &fakeDeviceDispatcher{}, nil, nil, dlna)

	plan, err := r.Route(context.Background(), "office", Playable{URL: "clip.mp3"}, "")
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, plan.State)
	assert.Equal(t, []string{"living-room-tv"}, dlna.played)
}

func TestRouteFallsBackToOriginatingDeviceWhenNoPreferenceQualifies(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{"kitchen": {}}}
	avail := deviceAvail(map[string]bool{"satellite-origin": true})
	dispatch := &fakeDeviceDispatcher{}
	r := New(rooms, avail, dispatch, nil, nil, nil)

	plan, err := r.Route(context.Background(), "kitchen", Playable{URL: "clip.mp3"}, "satellite-origin")

	require.NoError(t, err)
	assert.Equal(t, "device:satellite-origin", plan.Target)
}

func TestRouteReturnsNoOutputWhenNothingQualifies(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{"kitchen": {}}}
	r := New(rooms, &fakeDeviceAvail{}, &fakeDeviceDispatcher{}, nil, nil, nil)

	_, err := r.Route(context.Background(), "kitchen", Playable{URL: "clip.mp3"}, "")
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestRouteRejectsOverlappingEmissionWithoutInterruption(t *testing.T) {
	rooms := &fakeRooms{prefs: map[string][]OutputPreference{
		"kitchen": {{RenfieldDeviceID: "speaker-1", Priority: 1, Enabled: true, AllowInterruption: false}},
	}}
	avail := deviceAvail(map[string]bool{"speaker-1": true})
	r := New(rooms, avail, &fakeDeviceDispatcher{}, nil, nil, nil)

	_, err := r.Route(context.Background(), "kitchen", Playable{URL: "clip1.mp3"}, "")
	require.NoError(t, err)

	_, err = r.Route(context.Background(), "kitchen", Playable{URL: "clip2.mp3"}, "")
	assert.ErrorIs(t, err, ErrRoomBusy)

	r.FinishRoom("kitchen")
	_, err = r.Route(context.Background(), "kitchen", Playable{URL: "clip3.mp3"}, "")
	assert.NoError(t, err)
}
