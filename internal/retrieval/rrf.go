package retrieval

import (
	"math"
	"sort"

	"github.com/pacifichansard/rag/internal/index"
)

// rrfK dampens the contribution of deep ranks in reciprocal rank fusion.
const rrfK = 60

const absentRank = math.MaxInt

type fusedCandidate struct {
	result  Result
	lexRank int
	vecRank int
}

// fuseRRF merges the lexical and vector rankings. Each list contributes
// 1/(K + rank) for its 1-based rank; chunks in both lists sum both terms.
// Equal scores break ties by lexical rank, then vector rank, then chunk id,
// so the fused order is deterministic for fixed inputs.
func fuseRRF(lexical, vector []index.Hit) []Result {
	byID := make(map[string]*fusedCandidate, len(lexical)+len(vector))
	candidates := make([]*fusedCandidate, 0, len(lexical)+len(vector))

	add := func(h index.Hit) *fusedCandidate {
		c, ok := byID[h.ChunkID]
		if !ok {
			c = &fusedCandidate{result: fromHit(h), lexRank: absentRank, vecRank: absentRank}
			byID[h.ChunkID] = c
			candidates = append(candidates, c)
		}
		return c
	}

	for i, h := range lexical {
		c := add(h)
		if c.lexRank == absentRank {
			c.lexRank = i + 1
			c.result.Score += 1.0 / float64(rrfK+i+1)
		}
	}
	for i, h := range vector {
		c := add(h)
		if c.vecRank == absentRank {
			c.vecRank = i + 1
			c.result.Score += 1.0 / float64(rrfK+i+1)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.lexRank != b.lexRank {
			return a.lexRank < b.lexRank
		}
		if a.vecRank != b.vecRank {
			return a.vecRank < b.vecRank
		}
		return a.result.ChunkID < b.result.ChunkID
	})

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results
}
