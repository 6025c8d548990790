// Package retrieval implements hybrid search over the chunk index: parallel
// lexical and vector passes fused with reciprocal rank fusion, plus the
// query-analysis driven multi-pass retriever used by the answer pipeline.
package retrieval

import (
	"context"

	"github.com/pacifichansard/rag/internal/index"
)

// Result is a fused retrieval result. Score starts as the reciprocal-rank
// fusion value and accumulates rerank and analysis bonuses; it is comparable
// within one response only.
type Result struct {
	ChunkID    string
	DocID      string
	ChunkIndex int
	Text       string
	Speaker    string
	Date       string
	Country    string
	Chamber    string
	Title      string
	URL        string
	Score      float64
}

// Reranker reorders a fused result list against the original query.
// Implementations must be stable on score ties.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []Result) []Result
}

// Searcher is the single-pass hybrid search consumed by EnhancedRetriever.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, f index.Filters, k int) ([]Result, error)
}

func fromHit(h index.Hit) Result {
	return Result{
		ChunkID:    h.ChunkID,
		DocID:      h.DocID,
		ChunkIndex: h.ChunkIndex,
		Text:       h.Text,
		Speaker:    h.Speaker,
		Date:       h.Date,
		Country:    h.Country,
		Chamber:    h.Chamber,
		Title:      h.Title,
		URL:        h.URL,
	}
}
