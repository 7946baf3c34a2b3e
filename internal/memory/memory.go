// Package memory implements the Memory Store (spec §4.4): per-user
// long-term facts persisted in Postgres with a pgvector column,
// deduplicated on insert, reconciled against conflicting memories via
// an LLM pass, decayed by age for the "context" category, and capped
// per user.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebongard/renfield/internal/clockcfg"
	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/llm"
)

// Memory is one stored fact about a user.
type Memory struct {
	ID             string
	UserID         string
	Category       string // e.g. "preference", "fact", "context"
	Content        string
	Importance     float64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	DeletedAt      *time.Time
}

// HistoryEntry is one audit record for a memory, per spec §4.4
// (created/system, deleted/system, contradiction_resolution sources).
type HistoryEntry struct {
	MemoryID  string
	Action    string // created|updated|deleted
	Source    string // system|contradiction_resolution
	Content   string
	CreatedAt time.Time
}

// ReconcileDecision is the LLM's classification of a candidate against
// one existing memory in the conflict band.
type ReconcileDecision string

const (
	DecisionAdd    ReconcileDecision = "add"
	DecisionUpdate ReconcileDecision = "update"
	DecisionDelete ReconcileDecision = "delete"
	DecisionNoop   ReconcileDecision = "noop"
)

// Store implements the Memory Store operations over Postgres+pgvector.
type Store struct {
	pool   *pgxpool.Pool
	gw     llm.Gateway
	cfg    *config.Config
	clock  clockcfg.Clock
}

// New wires a Store. pool must already have the pgvector extension
// available (the migration in internal/store/pg creates it).
func New(pool *pgxpool.Pool, gw llm.Gateway, cfg *config.Config, clock clockcfg.Clock) *Store {
	if clock == nil {
		clock = clockcfg.SystemClock{}
	}
	return &Store{pool: pool, gw: gw, cfg: cfg, clock: clock}
}

// Insert embeds content, deduplicates against existing active
// memories of the user, and persists a new row (or bumps
// last_accessed_at on a dedup hit), per spec §4.4 "Insert".
func (s *Store) Insert(ctx context.Context, userID, category, content string, importance float64) (string, error) {
	vec, err := s.gw.Embed(ctx, "embed", content)
	if err != nil {
		return "", fmt.Errorf("memory: embed: %w", err)
	}

	dedupThreshold := s.cfg.Snapshot().Memory.DedupThreshold
	existing, err := s.similaritySearch(ctx, userID, vec, 1, dedupThreshold)
	if err != nil {
		return "", fmt.Errorf("memory: dedup search: %w", err)
	}
	if len(existing) > 0 {
		hit := existing[0]
		if _, err := s.pool.Exec(ctx, `UPDATE memories SET last_accessed_at=$1 WHERE id=$2`, s.clock.Now(), hit.ID); err != nil {
			return "", fmt.Errorf("memory: bump last_accessed_at: %w", err)
		}
		return hit.ID, nil
	}

	if err := s.enforcePerUserCap(ctx, userID); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.clock.Now()
	vecLit := toVectorLiteral(vec)
	_, err = s.pool.Exec(ctx, `
INSERT INTO memories (id, user_id, category, content, embedding, importance, created_at, last_accessed_at)
VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $7)
`, id, userID, category, content, vecLit, importance, now)
	if err != nil {
		return "", fmt.Errorf("memory: insert: %w", err)
	}
	if err := s.appendHistory(ctx, id, "created", "system", content); err != nil {
		return "", err
	}
	return id, nil
}

// Retrieve performs cosine-similarity search over active memories of
// user, filters by threshold, limits to retrieval_limit, and updates
// last_accessed_at for the returned rows (spec §4.4 "Retrieve").
func (s *Store) Retrieve(ctx context.Context, userID, queryText string, limit int, threshold float64) ([]Memory, error) {
	snap := s.cfg.Snapshot()
	if limit <= 0 {
		limit = snap.Memory.RetrievalLimit
	}
	if threshold <= 0 {
		threshold = snap.Memory.RetrievalThreshold
	}

	vec, err := s.gw.Embed(ctx, "embed", queryText)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	results, err := s.similaritySearch(ctx, userID, vec, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("memory: retrieve: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	if _, err := s.pool.Exec(ctx, `UPDATE memories SET last_accessed_at=$1 WHERE id = ANY($2)`, s.clock.Now(), ids); err != nil {
		return nil, fmt.Errorf("memory: bump last_accessed_at: %w", err)
	}
	return results, nil
}

// similaritySearch returns up to limit active memories of userID whose
// cosine similarity to vec is at least threshold, closest first.
func (s *Store) similaritySearch(ctx context.Context, userID string, vec []float32, limit int, threshold float64) ([]Memory, error) {
	vecLit := toVectorLiteral(vec)
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, category, content, importance, created_at, last_accessed_at,
       1 - (embedding <=> $1::vector) AS score
FROM memories
WHERE user_id = $2 AND deleted_at IS NULL
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vecLit, userID, limit*4) // over-fetch, then filter by threshold below
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Memory, 0, limit)
	for rows.Next() {
		var m Memory
		var score float64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Content, &m.Importance, &m.CreatedAt, &m.LastAccessedAt, &score); err != nil {
			return nil, err
		}
		if score < threshold {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// Reconcile implements the optional contradiction-resolution pass
// (spec §4.4 "Reconcile"), active only when Memory.ContradictionResolution
// is on. It embeds newContent, retrieves existing memories in the
// conflict band [contradiction_threshold, dedup_threshold-0.01], asks
// the LLM Gateway's intent role to classify each pair, and applies the
// decision.
func (s *Store) Reconcile(ctx context.Context, userID, newContent string) (ReconcileDecision, string, error) {
	snap := s.cfg.Snapshot()
	if !snap.Memory.ContradictionResolution {
		return DecisionNoop, "", nil
	}

	vec, err := s.gw.Embed(ctx, "embed", newContent)
	if err != nil {
		return DecisionNoop, "", fmt.Errorf("memory: embed candidate: %w", err)
	}

	lower := snap.Memory.ContradictionThreshold
	upper := snap.Memory.DedupThreshold - 0.01
	candidates, err := s.conflictBandSearch(ctx, userID, vec, lower, upper)
	if err != nil {
		return DecisionNoop, "", fmt.Errorf("memory: conflict band search: %w", err)
	}
	if len(candidates) == 0 {
		return DecisionAdd, "", nil
	}

	for _, cand := range candidates {
		decision, err := s.classifyPair(ctx, newContent, cand.Content)
		if err != nil {
			return DecisionNoop, "", err
		}
		switch decision {
		case DecisionUpdate:
			if _, err := s.pool.Exec(ctx, `UPDATE memories SET content=$1, last_accessed_at=$2 WHERE id=$3`, newContent, s.clock.Now(), cand.ID); err != nil {
				return DecisionNoop, "", err
			}
			_ = s.appendHistorySourced(ctx, cand.ID, "updated", "contradiction_resolution", newContent)
			return DecisionUpdate, cand.ID, nil
		case DecisionDelete:
			if err := s.softDelete(ctx, cand.ID, "contradiction_resolution"); err != nil {
				return DecisionNoop, "", err
			}
			return DecisionDelete, cand.ID, nil
		case DecisionNoop:
			continue
		}
	}
	return DecisionAdd, "", nil
}

func (s *Store) conflictBandSearch(ctx context.Context, userID string, vec []float32, lower, upper float64) ([]Memory, error) {
	vecLit := toVectorLiteral(vec)
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, category, content, importance, created_at, last_accessed_at,
       1 - (embedding <=> $1::vector) AS score
FROM memories
WHERE user_id = $2 AND deleted_at IS NULL
ORDER BY embedding <=> $1::vector
LIMIT 50
`, vecLit, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var score float64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Content, &m.Importance, &m.CreatedAt, &m.LastAccessedAt, &score); err != nil {
			return nil, err
		}
		if score >= lower && score <= upper {
			out = append(out, m)
		}
	}
	return out, rows.Err()
}

func (s *Store) classifyPair(ctx context.Context, newContent, existingContent string) (ReconcileDecision, error) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"decision"},
		"properties": map[string]any{
			"decision": map[string]any{"type": "string", "enum": []any{"add", "update", "delete", "noop"}},
		},
	}
	prompt := fmt.Sprintf(
		"Existing memory: %q\nNew statement: %q\nDoes the new statement contradict, update, or duplicate the existing memory? Respond with JSON {\"decision\": one of add|update|delete|noop}.",
		existingContent, newContent)
	out, err := s.gw.CompleteJSON(ctx, "intent", prompt, schema, llm.Options{})
	if err != nil {
		return DecisionNoop, err
	}
	d, _ := out["decision"].(string)
	switch ReconcileDecision(strings.ToLower(d)) {
	case DecisionAdd, DecisionUpdate, DecisionDelete, DecisionNoop:
		return ReconcileDecision(strings.ToLower(d)), nil
	default:
		return DecisionNoop, nil
	}
}

// Decay soft-deletes memories of category "context" older than
// context_decay_days, relative to now (spec §4.4 "Decay").
func (s *Store) Decay(ctx context.Context, now time.Time) (int, error) {
	days := s.cfg.Snapshot().Memory.ContextDecayDays
	cutoff := now.AddDate(0, 0, -days)
	rows, err := s.pool.Query(ctx, `
SELECT id FROM memories WHERE category = 'context' AND deleted_at IS NULL AND created_at < $1
`, cutoff)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.softDelete(ctx, id, "system"); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// enforcePerUserCap evicts the lowest-importance, oldest-last_accessed_at
// memory when active count would exceed max_per_user (spec §4.4 "Per-user cap").
func (s *Store) enforcePerUserCap(ctx context.Context, userID string) error {
	maxPerUser := s.cfg.Snapshot().Memory.MaxPerUser
	if maxPerUser <= 0 {
		return nil
	}
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM memories WHERE user_id=$1 AND deleted_at IS NULL`, userID).Scan(&count); err != nil {
		return fmt.Errorf("memory: count active: %w", err)
	}
	if count < maxPerUser {
		return nil
	}
	var evictID string
	err := s.pool.QueryRow(ctx, `
SELECT id FROM memories
WHERE user_id=$1 AND deleted_at IS NULL
ORDER BY importance ASC, last_accessed_at ASC
LIMIT 1
`, userID).Scan(&evictID)
	if err != nil {
		return fmt.Errorf("memory: select eviction candidate: %w", err)
	}
	return s.softDelete(ctx, evictID, "system")
}

func (s *Store) softDelete(ctx context.Context, id, source string) error {
	now := s.clock.Now()
	if _, err := s.pool.Exec(ctx, `UPDATE memories SET deleted_at=$1 WHERE id=$2`, now, id); err != nil {
		return fmt.Errorf("memory: soft delete: %w", err)
	}
	var content string
	_ = s.pool.QueryRow(ctx, `SELECT content FROM memories WHERE id=$1`, id).Scan(&content)
	return s.appendHistorySourced(ctx, id, "deleted", source, content)
}

// History returns the audit trail for memoryID (spec §4.4 "history").
func (s *Store) History(ctx context.Context, memoryID string) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT memory_id, action, source, content, created_at
FROM memory_history
WHERE memory_id = $1
ORDER BY created_at ASC
`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.MemoryID, &h.Action, &h.Source, &h.Content, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) appendHistory(ctx context.Context, memoryID, action, source, content string) error {
	return s.appendHistorySourced(ctx, memoryID, action, source, content)
}

func (s *Store) appendHistorySourced(ctx context.Context, memoryID, action, source, content string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO memory_history (id, memory_id, action, source, content, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, uuid.NewString(), memoryID, action, source, content, s.clock.Now())
	return err
}

// toVectorLiteral formats a float32 vector as a pgvector literal.
func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
