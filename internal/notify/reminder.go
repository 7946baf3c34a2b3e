package notify

import (
	"context"
	"log/slog"
	"time"
)

// ReminderStore manages Reminder rows for the scheduler's tick.
type ReminderStore interface {
	DueReminders(ctx context.Context, now time.Time) ([]Reminder, error)
	// MarkFired atomically transitions id from pending to fired,
	// reporting false (no error) if a racing tick already won — this
	// is what keeps overlapping ticks from double-delivering spec
	// §4.16 "avoiding duplicate delivery from overlapping tick races".
	MarkFired(ctx context.Context, id string) (bool, error)
}

// RoomResolver infers a user's current room from their last active
// device, for reminders that don't name a room explicitly.
type RoomResolver interface {
	LastActiveRoom(ctx context.Context, userID string) (string, bool)
}

// ReminderScheduler implements the Reminder Scheduler (spec §4.16).
type ReminderScheduler struct {
	store    ReminderStore
	rooms    RoomResolver
	ingest   Ingester
	clock    Clock
	schedule Schedule
	log      *slog.Logger
}

// NewReminderScheduler wires a ReminderScheduler. rooms may be nil, in
// which case every fired reminder broadcasts room-less.
func NewReminderScheduler(store ReminderStore, rooms RoomResolver, ingest Ingester, clock Clock, schedule Schedule, log *slog.Logger) *ReminderScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &ReminderScheduler{store: store, rooms: rooms, ingest: ingest, clock: clock, schedule: schedule, log: log}
}

// CheckOnce runs one tick: fire every due reminder and ingest it as a
// notification. Exposed separately from Run so tests can drive it
// deterministically without a real ticker.
func (s *ReminderScheduler) CheckOnce(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		s.log.Warn("notify.reminder.query_failed", "error", err)
		return
	}

	for _, r := range due {
		won, err := s.store.MarkFired(ctx, r.ID)
		if err != nil {
			s.log.Warn("notify.reminder.mark_fired_failed", "reminder", r.ID, "error", err)
			continue
		}
		if !won {
			continue
		}

		room := ""
		if s.rooms != nil {
			if rm, ok := s.rooms.LastActiveRoom(ctx, r.UserID); ok {
				room = rm
			}
		}

		if _, err := s.ingest.Ingest(ctx, IngestRequest{
			EventType: "reminder",
			Title:     r.Title,
			Message:   r.Body,
			Urgency:   UrgencyInfo,
			RoomName:  room,
			DedupKey:  "reminder:" + r.ID,
		}); err != nil {
			s.log.Warn("notify.reminder.ingest_failed", "reminder", r.ID, "error", err)
		}
	}
}

// Run ticks CheckOnce until ctx is cancelled.
func (s *ReminderScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.schedule.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if s.schedule.Due(t) {
				s.CheckOnce(ctx)
			}
		}
	}
}
