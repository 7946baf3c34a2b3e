// Package knowledge implements the Knowledge Retriever (spec §4.5):
// hybrid dense+BM25 search over DocumentChunks, fused with Reciprocal
// Rank Fusion, expanded to neighboring chunks for prompt assembly.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/llm"
)

// Chunk is one retrieved document chunk, ready for prompt assembly
// and attribution in the Orchestrator's response (spec §4.5 "Output").
type Chunk struct {
	ID             string
	DocumentID     string
	DocumentName   string
	Ordinal        int
	Text           string
	Page           *int
	Section        string
	Score          float64
}

// Retriever implements the retrieve contract over Postgres.
type Retriever struct {
	pool *pgxpool.Pool
	gw   llm.Gateway
	cfg  *config.Config
}

// New wires a Retriever.
func New(pool *pgxpool.Pool, gw llm.Gateway, cfg *config.Config) *Retriever {
	return &Retriever{pool: pool, gw: gw, cfg: cfg}
}

// Retrieve implements spec §4.5's retrieve(query_text, knowledge_base_ids,
// user, top_k) contract: dense + BM25 arms filtered to readable
// knowledge bases, RRF fusion, neighbor expansion, document-ordinal
// ordering within each document.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, kbIDs []string, userID string, topK int) ([]Chunk, error) {
	snap := r.cfg.Snapshot()
	if topK <= 0 {
		topK = snap.RAG.TopK
	}
	fetchK := topK * 2

	dense, err := r.denseSearch(ctx, queryText, kbIDs, userID, fetchK)
	if err != nil {
		return nil, fmt.Errorf("knowledge: dense search: %w", err)
	}

	var sparse []sparseHit
	if snap.RAG.HybridEnabled {
		sparse, err = r.sparseSearch(ctx, queryText, kbIDs, userID, fetchK, snap.RAG.TextLanguage)
		if err != nil {
			return nil, fmt.Errorf("knowledge: sparse search: %w", err)
		}
	}

	var selected []string
	scores := make(map[string]float64)
	if snap.RAG.HybridEnabled {
		fused := fuseRRF(dense, sparse, snap.RAG.RRFK, snap.RAG.HybridWeightDense, snap.RAG.HybridWeightBM25)
		if len(fused) > topK {
			fused = fused[:topK]
		}
		for _, f := range fused {
			selected = append(selected, f.ChunkID)
			scores[f.ChunkID] = f.Fused
		}
	} else {
		// Dense-only: drop candidates below similarity_threshold (spec §4.5).
		for _, h := range dense {
			if h.Score < snap.RAG.SimilarityThreshold {
				continue
			}
			selected = append(selected, h.ChunkID)
			scores[h.ChunkID] = h.Score
			if len(selected) >= topK {
				break
			}
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}

	chunks, err := r.loadChunks(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Score = scores[chunks[i].ID]
	}

	expanded, err := r.expandNeighbors(ctx, chunks, snap.RAG.ContextWindow)
	if err != nil {
		return nil, fmt.Errorf("knowledge: neighbor expansion: %w", err)
	}
	return orderByDocument(expanded), nil
}

func (r *Retriever) denseSearch(ctx context.Context, queryText string, kbIDs []string, userID string, limit int) ([]denseHit, error) {
	vec, err := r.gw.Embed(ctx, "embed", queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vecLit := toVectorLiteral(vec)

	rows, err := r.pool.Query(ctx, `
SELECT dc.id, 1 - (dc.embedding <=> $1::vector) AS score
FROM document_chunks dc
JOIN knowledge_bases kb ON kb.id = dc.knowledge_base_id
WHERE kb.id = ANY($2)
  AND (kb.is_public OR kb.owner_id = $3
       OR EXISTS (SELECT 1 FROM chunk_permissions cp WHERE cp.chunk_id = dc.id AND cp.user_id = $3 AND cp.can_read)
       OR EXISTS (SELECT 1 FROM user_roles ur JOIN role_permissions rp ON rp.role = ur.role
                  WHERE ur.user_id = $3 AND rp.permission = 'kb.all'))
ORDER BY dc.embedding <=> $1::vector
LIMIT $4
`, vecLit, kbIDs, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []denseHit
	for rows.Next() {
		var h denseHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Retriever) sparseSearch(ctx context.Context, queryText string, kbIDs []string, userID string, limit int, language string) ([]sparseHit, error) {
	if language == "" {
		language = "simple"
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
SELECT dc.id, ts_rank(to_tsvector('%s', dc.text), plainto_tsquery('%s', $1)) AS score
FROM document_chunks dc
JOIN knowledge_bases kb ON kb.id = dc.knowledge_base_id
WHERE kb.id = ANY($2)
  AND (kb.is_public OR kb.owner_id = $3
       OR EXISTS (SELECT 1 FROM chunk_permissions cp WHERE cp.chunk_id = dc.id AND cp.user_id = $3 AND cp.can_read)
       OR EXISTS (SELECT 1 FROM user_roles ur JOIN role_permissions rp ON rp.role = ur.role
                  WHERE ur.user_id = $3 AND rp.permission = 'kb.all'))
  AND to_tsvector('%s', dc.text) @@ plainto_tsquery('%s', $1)
ORDER BY score DESC
LIMIT $4
`, language, language, language, language), queryText, kbIDs, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sparseHit
	for rows.Next() {
		var h sparseHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Retriever) loadChunks(ctx context.Context, ids []string) ([]Chunk, error) {
	rows, err := r.pool.Query(ctx, `
SELECT dc.id, dc.document_id, d.filename, dc.ordinal, dc.text, dc.page, dc.section
FROM document_chunks dc
JOIN documents d ON d.id = dc.document_id
WHERE dc.id = ANY($1)
`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.DocumentName, &c.Ordinal, &c.Text, &c.Page, &c.Section); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// expandNeighbors adds the ±window chunks of the same document for
// each selected chunk, deduplicating by chunk id (spec §4.5 "Neighbor expansion").
func (r *Retriever) expandNeighbors(ctx context.Context, base []Chunk, window int) ([]Chunk, error) {
	if window <= 0 {
		return base, nil
	}
	seen := make(map[string]Chunk, len(base))
	for _, c := range base {
		seen[c.ID] = c
	}

	for _, c := range base {
		lo, hi := c.Ordinal-window, c.Ordinal+window
		rows, err := r.pool.Query(ctx, `
SELECT dc.id, dc.document_id, d.filename, dc.ordinal, dc.text, dc.page, dc.section
FROM document_chunks dc
JOIN documents d ON d.id = dc.document_id
WHERE dc.document_id = $1 AND dc.ordinal BETWEEN $2 AND $3
`, c.DocumentID, lo, hi)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var n Chunk
			if err := rows.Scan(&n.ID, &n.DocumentID, &n.DocumentName, &n.Ordinal, &n.Text, &n.Page, &n.Section); err != nil {
				rows.Close()
				return nil, err
			}
			if existing, ok := seen[n.ID]; !ok {
				n.Score = 0 // neighbor chunks carry no fused score of their own
				seen[n.ID] = n
			} else {
				seen[n.ID] = existing
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	out := make([]Chunk, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out, nil
}

// orderByDocument preserves document-ordinal order within each
// document when assembling the prompt (spec §4.5), grouping by
// document in the order chunks first appeared.
func orderByDocument(chunks []Chunk) []Chunk {
	order := make([]string, 0)
	groups := make(map[string][]Chunk)
	for _, c := range chunks {
		if _, ok := groups[c.DocumentID]; !ok {
			order = append(order, c.DocumentID)
		}
		groups[c.DocumentID] = append(groups[c.DocumentID], c)
	}
	out := make([]Chunk, 0, len(chunks))
	for _, docID := range order {
		group := groups[docID]
		sortByOrdinal(group)
		out = append(out, group...)
	}
	return out
}

func sortByOrdinal(chunks []Chunk) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].Ordinal < chunks[j-1].Ordinal; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}

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
