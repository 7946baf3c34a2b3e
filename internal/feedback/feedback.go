// Package feedback implements the Feedback Retriever (spec §2 item 6):
// a cached few-shot example lookup over a log of past intent/tool
// corrections, so the Intent Classifier and Agent Router can steer
// away from mistakes a user has already corrected.
package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebongard/renfield/internal/clockcfg"
)

// Correction is one recorded user correction of a prior intent/tool decision.
type Correction struct {
	ID           string
	UserID       string
	InputText    string
	WrongDecision string
	RightDecision string
	CreatedAt    time.Time
}

// cacheEntry pairs a cached example set with the time it was fetched.
type cacheEntry struct {
	examples []Correction
	fetchedAt time.Time
}

// ttl bounds how long a user's cached examples are served before a
// fresh lookup, so a correction recorded moments ago is picked up
// promptly without hitting Postgres on every classification call.
const ttl = 5 * time.Minute

// Retriever looks up and caches few-shot correction examples per user.
type Retriever struct {
	pool  *pgxpool.Pool
	clock clockcfg.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New wires a Retriever.
func New(pool *pgxpool.Pool, clock clockcfg.Clock) *Retriever {
	if clock == nil {
		clock = clockcfg.SystemClock{}
	}
	return &Retriever{pool: pool, clock: clock, cache: make(map[string]cacheEntry)}
}

// Record appends a new correction to the log and invalidates the
// user's cache entry so the next lookup reflects it immediately.
func (r *Retriever) Record(ctx context.Context, userID, inputText, wrongDecision, rightDecision string) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO feedback_corrections (id, user_id, input_text, wrong_decision, right_decision, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
`, userID, inputText, wrongDecision, rightDecision, r.clock.Now())
	if err != nil {
		return fmt.Errorf("feedback: record correction: %w", err)
	}
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
	return nil
}

// FewShot returns up to limit of the user's most recent corrections,
// serving from cache when still fresh.
func (r *Retriever) FewShot(ctx context.Context, userID string, limit int) ([]Correction, error) {
	r.mu.Lock()
	entry, ok := r.cache[userID]
	r.mu.Unlock()
	if ok && r.clock.Now().Sub(entry.fetchedAt) < ttl {
		return capExamples(entry.examples, limit), nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, input_text, wrong_decision, right_decision, created_at
FROM feedback_corrections
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 20
`, userID)
	if err != nil {
		return nil, fmt.Errorf("feedback: query corrections: %w", err)
	}
	defer rows.Close()

	var examples []Correction
	for rows.Next() {
		var c Correction
		if err := rows.Scan(&c.ID, &c.UserID, &c.InputText, &c.WrongDecision, &c.RightDecision, &c.CreatedAt); err != nil {
			return nil, err
		}
		examples = append(examples, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[userID] = cacheEntry{examples: examples, fetchedAt: r.clock.Now()}
	r.mu.Unlock()

	return capExamples(examples, limit), nil
}

func capExamples(examples []Correction, limit int) []Correction {
	if limit <= 0 || limit >= len(examples) {
		return examples
	}
	return examples[:limit]
}
