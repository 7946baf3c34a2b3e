package devices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/clockcfg"
)

func TestBroadcastWakeWordConfigOnlyTargetsSupportingDevices(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	m := New(clock, 0, nil)

	supporting := &fakeTransport{}
	plain := &fakeTransport{}
	m.Register(Device{ID: "smart-speaker", Capabilities: Capabilities{SupportsLocalWakeWord: true}}, supporting, "")
	m.Register(Device{ID: "dumb-panel"}, plain, "")

	cfg := m.BroadcastWakeWordConfig(context.Background(), WakeWordConfig{Keyword: "hey renfield", Threshold: 0.8, CooldownMs: 1500})

	assert.Equal(t, 1, cfg.Version)
	assert.Len(t, supporting.sent, 1)
	assert.Empty(t, plain.sent)

	status, ok := m.WakeWordSyncStatus("smart-speaker")
	require.True(t, ok)
	assert.Equal(t, SyncPending, status)

	_, ok = m.WakeWordSyncStatus("dumb-panel")
	assert.False(t, ok)
}

func TestAckWakeWordConfigMarksSyncedOrFailed(t *testing.T) {
	m := New(nil, 0, nil)
	m.Register(Device{ID: "d1", Capabilities: Capabilities{SupportsLocalWakeWord: true}}, &fakeTransport{}, "")

	m.BroadcastWakeWordConfig(context.Background(), WakeWordConfig{Keyword: "hey renfield"})

	m.AckWakeWordConfig("d1", 1, nil)
	status, _ := m.WakeWordSyncStatus("d1")
	assert.Equal(t, SyncSynced, status)

	m.BroadcastWakeWordConfig(context.Background(), WakeWordConfig{Keyword: "hey renfield 2"})
	m.AckWakeWordConfig("d1", 1, nil) // stale version ack
	status, _ = m.WakeWordSyncStatus("d1")
	assert.Equal(t, SyncFailed, status)
}

func TestAckWakeWordConfigWithFailedKeywordsMarksFailed(t *testing.T) {
	m := New(nil, 0, nil)
	m.Register(Device{ID: "d1", Capabilities: Capabilities{SupportsLocalWakeWord: true}}, &fakeTransport{}, "")
	m.BroadcastWakeWordConfig(context.Background(), WakeWordConfig{Keyword: "hey renfield"})

	m.AckWakeWordConfig("d1", 1, []string{"hey renfield"})

	status, _ := m.WakeWordSyncStatus("d1")
	assert.Equal(t, SyncFailed, status)
}

func TestWakeWordSyncStatusesEnumeratesAll(t *testing.T) {
	m := New(nil, 0, nil)
	m.Register(Device{ID: "d1", Capabilities: Capabilities{SupportsLocalWakeWord: true}}, &fakeTransport{}, "")
	m.Register(Device{ID: "d2", Capabilities: Capabilities{SupportsLocalWakeWord: true}}, &fakeTransport{}, "")
	m.BroadcastWakeWordConfig(context.Background(), WakeWordConfig{Keyword: "hey renfield"})
	m.AckWakeWordConfig("d1", 1, nil)

	statuses := m.WakeWordSyncStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, SyncSynced, statuses["d1"])
	assert.Equal(t, SyncPending, statuses["d2"])
}

func TestUnregisterForgetsWakeWordStatus(t *testing.T) {
	m := New(nil, 0, nil)
	m.Register(Device{ID: "d1", Capabilities: Capabilities{SupportsLocalWakeWord: true}}, &fakeTransport{}, "")
	m.BroadcastWakeWordConfig(context.Background(), WakeWordConfig{Keyword: "hey renfield"})

	m.Unregister("d1")

	_, ok := m.WakeWordSyncStatus("d1")
	assert.False(t, ok)
}
