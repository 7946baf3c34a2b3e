package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebongard/renfield/internal/roomprefs"
)

// RoomStore persists rooms and their ordered output preferences.
type RoomStore struct {
	pool *pgxpool.Pool
}

// NewRoomStore wires a RoomStore.
func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

// LoadAll reads every room's output preferences, ordered by priority,
// for roomprefs.Cache.Reload to swap in atomically.
func (s *RoomStore) LoadAll(ctx context.Context) (map[string][]roomprefs.Preference, error) {
	rows, err := s.pool.Query(ctx, `
SELECT room_id, renfield_device_id, smart_home_media_entity_id, dlna_renderer_name,
       priority, allow_interruption, volume, enabled
FROM output_preferences
ORDER BY room_id, priority
`)
	if err != nil {
		return nil, fmt.Errorf("store: load output preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]roomprefs.Preference)
	for rows.Next() {
		var roomID string
		var p roomprefs.Preference
		if err := rows.Scan(&roomID, &p.RenfieldDeviceID, &p.SmartHomeMediaEntityID, &p.DLNARendererName,
			&p.Priority, &p.AllowInterruption, &p.Volume, &p.Enabled); err != nil {
			return nil, fmt.Errorf("store: scan output preference: %w", err)
		}
		out[roomID] = append(out[roomID], p)
	}
	return out, rows.Err()
}

// UpsertRoom registers a room, creating it if absent.
func (s *RoomStore) UpsertRoom(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO rooms (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
`, id, name)
	if err != nil {
		return fmt.Errorf("store: upsert room: %w", err)
	}
	return nil
}

// AddPreference appends one output preference to roomID.
func (s *RoomStore) AddPreference(ctx context.Context, id, roomID string, p roomprefs.Preference) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO output_preferences
	(id, room_id, renfield_device_id, smart_home_media_entity_id, dlna_renderer_name, priority, allow_interruption, volume, enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, id, roomID, p.RenfieldDeviceID, p.SmartHomeMediaEntityID, p.DLNARendererName, p.Priority, p.AllowInterruption, p.Volume, p.Enabled)
	if err != nil {
		return fmt.Errorf("store: add output preference: %w", err)
	}
	return nil
}
