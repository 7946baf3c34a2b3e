package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebongard/renfield/internal/llm"
)

// ConversationStore persists turn messages and answers the
// Orchestrator's short-term-context query. It satisfies
// internal/orchestrator.ConversationStore.
type ConversationStore struct {
	pool *pgxpool.Pool
}

// NewConversationStore wires a ConversationStore.
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

// AppendMessage appends one message to a conversation, creating the
// conversation row on its first message.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO conversations (id, created_at) VALUES ($1, now())
ON CONFLICT (id) DO NOTHING
`, conversationID); err != nil {
		return fmt.Errorf("store: ensure conversation: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
VALUES ($1, $2, $3, $4, now())
`, uuid.NewString(), conversationID, role, content); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// TailMessages returns the last n messages of a conversation, oldest
// first, the shape internal/llm.Gateway.ChatStream expects as context.
func (s *ConversationStore) TailMessages(ctx context.Context, conversationID string, n int) ([]llm.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT role, content
FROM (
	SELECT role, content, created_at
	FROM conversation_messages
	WHERE conversation_id = $1
	ORDER BY created_at DESC
	LIMIT $2
) recent
ORDER BY created_at ASC
`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("store: tail messages: %w", err)
	}
	defer rows.Close()

	var out []llm.Message
	for rows.Next() {
		var m llm.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
