package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebongard/renfield/internal/notify"
)

// ReminderStore implements notify.ReminderStore: due-reminder
// selection and the atomic fired-claim that resolves races between
// overlapping scheduler ticks.
type ReminderStore struct {
	pool *pgxpool.Pool
}

// NewReminderStore wires a ReminderStore.
func NewReminderStore(pool *pgxpool.Pool) *ReminderStore {
	return &ReminderStore{pool: pool}
}

// DueReminders returns pending reminders whose scheduled_at has passed.
func (s *ReminderStore) DueReminders(ctx context.Context, now time.Time) ([]notify.Reminder, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, scheduled_at, title, body, status
FROM reminders
WHERE status = 'pending' AND scheduled_at <= $1
`, now)
	if err != nil {
		return nil, fmt.Errorf("store: due reminders: %w", err)
	}
	defer rows.Close()

	var out []notify.Reminder
	for rows.Next() {
		var r notify.Reminder
		if err := rows.Scan(&r.ID, &r.UserID, &r.ScheduledAt, &r.Title, &r.Body, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkFired atomically claims a reminder for firing. false means
// another tick already won the race (the UPDATE matched zero rows
// because status was no longer 'pending'), not an error.
func (s *ReminderStore) MarkFired(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE reminders SET status = 'fired' WHERE id = $1 AND status = 'pending'
`, id)
	if err != nil {
		return false, fmt.Errorf("store: mark fired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
