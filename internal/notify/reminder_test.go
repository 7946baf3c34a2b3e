package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReminderStore struct {
	due     []Reminder
	fired   map[string]bool
	markErr error
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{fired: map[string]bool{}}
}

func (f *fakeReminderStore) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	return f.due, nil
}

func (f *fakeReminderStore) MarkFired(ctx context.Context, id string) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	if f.fired[id] {
		return false, nil
	}
	f.fired[id] = true
	return true, nil
}

type fakeRoomResolver struct {
	room string
	ok   bool
}

func (f *fakeRoomResolver) LastActiveRoom(ctx context.Context, userID string) (string, bool) {
	return f.room, f.ok
}

func TestReminderSchedulerFiresDueRemindersAndIngests(t *testing.T) {
	store := newFakeReminderStore()
	store.due = []Reminder{{ID: "r1", UserID: "u1", Title: "Take medicine", Body: "with water"}}
	rooms := &fakeRoomResolver{room: "bedroom", ok: true}
	ingest := &fakeIngester{}
	clock := fixedClock{t: time.Now()}

	s := NewReminderScheduler(store, rooms, ingest, clock, ParseSchedule("", 15*time.Second), nil)
	s.CheckOnce(context.Background())

	require.Len(t, ingest.requests, 1)
	assert.Equal(t, "Take medicine", ingest.requests[0].Title)
	assert.Equal(t, "bedroom", ingest.requests[0].RoomName)
	assert.Equal(t, "reminder:r1", ingest.requests[0].DedupKey)
	assert.True(t, store.fired["r1"])
}

func TestReminderSchedulerBroadcastsWhenNoActiveRoomKnown(t *testing.T) {
	store := newFakeReminderStore()
	store.due = []Reminder{{ID: "r1", UserID: "u1", Title: "Stretch", Body: "break time"}}
	ingest := &fakeIngester{}
	clock := fixedClock{t: time.Now()}

	s := NewReminderScheduler(store, &fakeRoomResolver{ok: false}, ingest, clock, ParseSchedule("", 15*time.Second), nil)
	s.CheckOnce(context.Background())

	require.Len(t, ingest.requests, 1)
	assert.Empty(t, ingest.requests[0].RoomName)
}

func TestReminderSchedulerSkipsReminderAlreadyWonByARacingTick(t *testing.T) {
	store := newFakeReminderStore()
	store.due = []Reminder{{ID: "r1", UserID: "u1", Title: "Take medicine"}}
	store.fired["r1"] = true // another tick already claimed it
	ingest := &fakeIngester{}
	clock := fixedClock{t: time.Now()}

	s := NewReminderScheduler(store, nil, ingest, clock, ParseSchedule("", 15*time.Second), nil)
	s.CheckOnce(context.Background())

	assert.Empty(t, ingest.requests)
}
