package retrieval

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pacifichansard/rag/internal/embedder"
	"github.com/pacifichansard/rag/internal/index"
)

// passMultiplier widens each retrieval pass so fusion has candidates beyond
// the requested k.
const passMultiplier = 2

// Retriever runs hybrid search: a lexical pass and a dense-vector pass in
// parallel, fused with RRF and optionally reranked. Safe for concurrent use.
type Retriever struct {
	embedder embedder.Embedder
	gateway  index.Gateway
	reranker Reranker
	logger   *slog.Logger
}

var _ Searcher = (*Retriever)(nil)

// NewRetriever wires a hybrid retriever. reranker may be nil to skip
// reranking entirely.
func NewRetriever(emb embedder.Embedder, gw index.Gateway, rr Reranker, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: emb,
		gateway:  gw,
		reranker: rr,
		logger:   logger,
	}
}

// HybridSearch retrieves the top k chunks for the query. Both passes are
// launched before either completes; a single pass failure degrades to the
// surviving pass, and only a double failure yields an empty result.
func (r *Retriever) HybridSearch(ctx context.Context, query string, f index.Filters, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	fetch := passMultiplier * k

	var (
		lexical, vector []index.Hit
		lexErr, vecErr  error
	)
	var g errgroup.Group
	g.Go(func() error {
		lexical, lexErr = r.gateway.LexicalSearch(ctx, query, f, fetch)
		return nil
	})
	g.Go(func() error {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		vector, vecErr = r.gateway.VectorSearch(ctx, vec, f, fetch)
		return nil
	})
	_ = g.Wait()

	if lexErr != nil {
		r.logger.Warn("lexical pass failed", "error", lexErr)
	}
	if vecErr != nil {
		r.logger.Warn("vector pass failed", "error", vecErr)
	}
	if lexErr != nil && vecErr != nil {
		r.logger.Error("both retrieval passes failed", "query_len", len(query))
		return nil, nil
	}
	if lexErr != nil {
		lexical = nil
	}
	if vecErr != nil {
		vector = nil
	}

	results := fuseRRF(lexical, vector)
	if r.reranker != nil {
		results = r.reranker.Rerank(ctx, query, results)
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
