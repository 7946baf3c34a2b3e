package knowledge

import "sort"

// denseHit and sparseHit are one arm's ranked result before fusion.
type denseHit struct {
	ChunkID string
	Score   float64 // cosine similarity
}

type sparseHit struct {
	ChunkID string
	Score   float64 // BM25/ts_rank score
}

// fusedResult is one chunk after Reciprocal Rank Fusion.
type fusedResult struct {
	ChunkID  string
	DenseRank int // 1-based, 0 if absent
	SparseRank int
	Fused    float64
}

// fuseRRF combines dense and sparse arms with Reciprocal Rank Fusion:
// each candidate receives wDense/(k+rank_dense) + wSparse/(k+rank_sparse),
// a missing arm contributing zero (spec §4.5 "Fusion").
func fuseRRF(dense []denseHit, sparse []sparseHit, k int, wDense, wSparse float64) []fusedResult {
	densePos := make(map[string]int, len(dense))
	for i, h := range dense {
		densePos[h.ChunkID] = i + 1
	}
	sparsePos := make(map[string]int, len(sparse))
	for i, h := range sparse {
		sparsePos[h.ChunkID] = i + 1
	}

	seen := make(map[string]struct{}, len(dense)+len(sparse))
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, h := range dense {
		add(h.ChunkID)
	}
	for _, h := range sparse {
		add(h.ChunkID)
	}

	out := make([]fusedResult, 0, len(ids))
	for _, id := range ids {
		dr := densePos[id]
		sr := sparsePos[id]
		var dContrib, sContrib float64
		if dr > 0 {
			dContrib = 1.0 / float64(k+dr)
		}
		if sr > 0 {
			sContrib = 1.0 / float64(k+sr)
		}
		out = append(out, fusedResult{
			ChunkID:    id,
			DenseRank:  dr,
			SparseRank: sr,
			Fused:      wDense*dContrib + wSparse*sContrib,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Fused != out[j].Fused {
			return out[i].Fused > out[j].Fused
		}
		si := rankSum(out[i].DenseRank, out[i].SparseRank)
		sj := rankSum(out[j].DenseRank, out[j].SparseRank)
		if si != sj {
			return si < sj
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

func rankSum(a, b int) int {
	const absent = 1 << 30
	if a == 0 {
		a = absent
	}
	if b == 0 {
		b = absent
	}
	return a + b
}
