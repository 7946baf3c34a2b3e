package session

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/agentrouter"
	"github.com/ebongard/renfield/internal/clockcfg"
	"github.com/ebongard/renfield/internal/devices"
)

func TestEnsureConversationIsLazyAndStable(t *testing.T) {
	s := newSession("s1", 0)

	calls := 0
	newID := func() string { calls++; return "conv-1" }

	first := s.EnsureConversation(newID)
	second := s.EnsureConversation(newID)

	assert.Equal(t, "conv-1", first)
	assert.Equal(t, "conv-1", second)
	assert.Equal(t, 1, calls, "conversation id must only be generated once")
}

func TestAppendAudioRejectsOverCapacity(t *testing.T) {
	s := newSession("s1", 10)

	require.NoError(t, s.AppendAudio(bytes.Repeat([]byte{0x01}, 6)))
	err := s.AppendAudio(bytes.Repeat([]byte{0x02}, 6))

	assert.ErrorIs(t, err, ErrAudioBufferFull)
	assert.Len(t, s.Audio(), 6, "the rejected chunk must not be partially appended")
}

func TestResetAudioClearsBuffer(t *testing.T) {
	s := newSession("s1", 0)
	require.NoError(t, s.AppendAudio([]byte{1, 2, 3}))
	s.ResetAudio()
	assert.Empty(t, s.Audio())
}

func TestFollowUpContextRoundTrips(t *testing.T) {
	s := newSession("s1", 0)
	s.SetFollowUpContext([]string{"doc-1", "doc-2"}, agentrouter.RoleKnowledge)

	sources, role := s.FollowUpContext()
	assert.Equal(t, []string{"doc-1", "doc-2"}, sources)
	assert.Equal(t, agentrouter.RoleKnowledge, role)
}

func TestRunTurnSerializesConcurrentTurns(t *testing.T) {
	s := newSession("s1", 0)

	var order []int
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunTurn(func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Len(t, order, 5)
	assert.Equal(t, 1, maxActive, "turns must never run concurrently")
}

func TestResolveIDUsesClientSuppliedIDWhenPresent(t *testing.T) {
	m := New(nil, 0)
	id := m.ResolveID("client-supplied", "device-1", devices.KindSatellite)
	assert.Equal(t, "client-supplied", id)
}

func TestResolveIDGeneratesDailyIDForSatellitesWithoutClientID(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC))
	m := New(clock, 0)

	id1 := m.ResolveID("", "sat-1", devices.KindSatellite)
	id2 := m.ResolveID("", "sat-1", devices.KindSatellite)
	assert.Equal(t, id1, id2, "same satellite, same day must reuse the session id")

	clock.Advance(25 * time.Hour)
	id3 := m.ResolveID("", "sat-1", devices.KindSatellite)
	assert.NotEqual(t, id1, id3, "crossing a day boundary must rotate the session id")
}

func TestResolveIDGeneratesRandomIDForNonSatelliteWithoutClientID(t *testing.T) {
	m := New(nil, 0)
	id1 := m.ResolveID("", "panel-1", devices.KindWebPanel)
	id2 := m.ResolveID("", "panel-1", devices.KindWebPanel)
	assert.NotEqual(t, id1, id2)
}

func TestOpenIsIdempotentAndCloseRemoves(t *testing.T) {
	m := New(nil, 0)
	s1 := m.Open("s1")
	s2 := m.Open("s1")
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, m.Count())

	m.Close("s1")
	assert.Equal(t, 0, m.Count())
	_, ok := m.Get("s1")
	assert.False(t, ok)
}

func TestLastActiveRoomForUserPicksMostRecentlyOpenedSession(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC))
	m := New(clock, 0)

	kitchen := m.Open("s-kitchen")
	kitchen.UserID = "u1"
	kitchen.Room = "kitchen"

	clock.Advance(time.Minute)
	bedroom := m.Open("s-bedroom")
	bedroom.UserID = "u1"
	bedroom.Room = "bedroom"

	room, ok := m.LastActiveRoomForUser("u1")
	require.True(t, ok)
	assert.Equal(t, "bedroom", room)
}

func TestLastActiveRoomForUserIgnoresOtherUsersAndRoomlessSessions(t *testing.T) {
	m := New(nil, 0)

	other := m.Open("s-other")
	other.UserID = "u2"
	other.Room = "office"

	roomless := m.Open("s-roomless")
	roomless.UserID = "u1"

	_, ok := m.LastActiveRoomForUser("u1")
	assert.False(t, ok)
}

func TestLastActiveRoomForUserReturnsFalseWhenSessionClosed(t *testing.T) {
	m := New(nil, 0)
	s := m.Open("s1")
	s.UserID = "u1"
	s.Room = "kitchen"

	m.Close("s1")

	_, ok := m.LastActiveRoomForUser("u1")
	assert.False(t, ok)
}

func TestUsersInRoomReturnsDistinctUsersPresentInRoom(t *testing.T) {
	m := New(nil, 0)

	a := m.Open("s1")
	a.UserID = "u1"
	a.Room = "kitchen"

	b := m.Open("s2")
	b.UserID = "u2"
	b.Room = "kitchen"

	c := m.Open("s3")
	c.UserID = "u3"
	c.Room = "office"

	users := m.UsersInRoom("kitchen")
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}

func TestUsersInRoomEmptyWhenNobodyPresent(t *testing.T) {
	m := New(nil, 0)
	assert.Empty(t, m.UsersInRoom("kitchen"))
}

func TestRoomResolverDelegatesToManager(t *testing.T) {
	m := New(nil, 0)
	s := m.Open("s1")
	s.UserID = "u1"
	s.Room = "kitchen"

	r := NewRoomResolver(m)
	room, ok := r.LastActiveRoom(context.Background(), "u1")
	require.True(t, ok)
	assert.Equal(t, "kitchen", room)

	_, ok = r.LastActiveRoom(context.Background(), "nobody")
	assert.False(t, ok)
}
