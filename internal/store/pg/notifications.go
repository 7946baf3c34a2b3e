package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebongard/renfield/internal/notify"
)

// NotificationStore implements notify.Store against Postgres +
// pgvector, the same split internal/memory.Store uses: exact
// dedup/expiry queries run as plain SQL, semantic-similarity search
// is delegated to pgvector's <=> operator.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore wires a NotificationStore.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// RecentFingerprint reports whether a notification with the given
// dedup fingerprint was created within the suppression window.
func (s *NotificationStore) RecentFingerprint(ctx context.Context, fingerprint string, within time.Duration) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(
	SELECT 1 FROM notifications
	WHERE dedup_fingerprint = $1 AND created_at > $2
)`, fingerprint, time.Now().Add(-within)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: recent fingerprint: %w", err)
	}
	return exists, nil
}

// SimilarActive reports whether a still-undismissed notification in
// the same room has an embedding within threshold cosine similarity.
func (s *NotificationStore) SimilarActive(ctx context.Context, roomName string, embedding []float32, threshold float64) (bool, error) {
	vecLit := toVectorLiteral(embedding)
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(
	SELECT 1 FROM notifications
	WHERE room_name = $1
	  AND status NOT IN ('dismissed', 'expired')
	  AND 1 - (embedding <=> $2::vector) >= $3
)`, roomName, vecLit, threshold).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: similar active: %w", err)
	}
	return exists, nil
}

// Insert persists a new Notification. The embedding column is not
// written (Notification carries no embedding), so it stays NULL and
// rows inserted here are never matched by SimilarActive.
func (s *NotificationStore) Insert(ctx context.Context, n *notify.Notification) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO notifications (id, event_type, title, body, urgency, room_name, dedup_fingerprint, status, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, n.ID, n.EventType, n.Title, n.Body, n.Urgency, n.RoomName, n.DedupFingerprint, n.Status, n.CreatedAt, n.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store: insert notification: %w", err)
	}
	return nil
}

// UpdateStatus transitions a notification's delivery status.
func (s *NotificationStore) UpdateStatus(ctx context.Context, id string, status notify.Status) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	return nil
}

// DeleteExpired hard-deletes notifications whose expires_at has
// passed, returning the count removed.
func (s *NotificationStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RoomPresence resolves which users currently have an active session
// in a room. internal/session.Manager implements this; devices.Device
// carries no user association, so room presence is a session-layer
// concept, not a device-table join.
type RoomPresence interface {
	UsersInRoom(room string) []string
}

// SuppressionRuleStore implements notify.SuppressionRuleSource: the
// active SuppressionRules for users currently present in a room.
// Unlike NotificationStore.SimilarActive, this set is small enough
// per room that cosine similarity is computed in Go by notify.Service
// itself rather than in SQL.
type SuppressionRuleStore struct {
	pool     *pgxpool.Pool
	presence RoomPresence
}

// NewSuppressionRuleStore wires a SuppressionRuleStore.
func NewSuppressionRuleStore(pool *pgxpool.Pool, presence RoomPresence) *SuppressionRuleStore {
	return &SuppressionRuleStore{pool: pool, presence: presence}
}

// ActiveRulesForRoom returns the active SuppressionRules belonging to
// users the session manager currently has present in roomName.
func (s *SuppressionRuleStore) ActiveRulesForRoom(ctx context.Context, roomName string) ([]notify.SuppressionRule, error) {
	userIDs := s.presence.UsersInRoom(roomName)
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
SELECT user_id, embedding, threshold, active
FROM suppression_rules
WHERE active AND user_id = ANY($1)
`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("store: active suppression rules: %w", err)
	}
	defer rows.Close()

	var out []notify.SuppressionRule
	for rows.Next() {
		var r notify.SuppressionRule
		var vecText string
		if err := rows.Scan(&r.UserID, &vecText, &r.Threshold, &r.Active); err != nil {
			return nil, err
		}
		r.Embedding = parseVectorLiteral(vecText)
		out = append(out, r)
	}
	return out, rows.Err()
}

// parseVectorLiteral decodes the "[1,2,3]" text form pgx returns for
// an unregistered pgvector OID (no pgvector-go type registration).
func parseVectorLiteral(s string) []float32 {
	s = trimVectorBrackets(s)
	if s == "" {
		return nil
	}
	var out []float32
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			var f float32
			fmt.Sscanf(s[start:i], "%g", &f)
			out = append(out, f)
			start = i + 1
		}
	}
	return out
}

func trimVectorBrackets(s string) string {
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}
