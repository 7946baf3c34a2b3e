// Package pg implements Renfield's Postgres-backed stores: Conversation
// history, Notifications, Reminders, and SuppressionRules. Each store
// is a small, independently constructed type (no central DI
// container) following the same pgxpool-direct style as
// internal/memory.Store and internal/knowledge.Retriever.
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open creates a connection pool for the given DSN.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return pool, nil
}

// toVectorLiteral formats a float32 vector as a pgvector literal,
// matching internal/memory.Store's and internal/knowledge.Retriever's
// own unexported copies of the same helper.
func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	out := "["
	for i, x := range v {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%g", x)
	}
	return out + "]"
}
