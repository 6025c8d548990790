package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pacifichansard/rag/internal/index"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension(ctx context.Context) (int, error) { return len(f.vec), nil }

func (f *fakeEmbedder) ModelName() string { return "fake-model" }

type fakeGateway struct {
	lexical func(ctx context.Context, query string, f index.Filters, k int) ([]index.Hit, error)
	vector  func(ctx context.Context, vec []float32, f index.Filters, k int) ([]index.Hit, error)
}

func (g *fakeGateway) LexicalSearch(ctx context.Context, query string, f index.Filters, k int) ([]index.Hit, error) {
	return g.lexical(ctx, query, f, k)
}

func (g *fakeGateway) VectorSearch(ctx context.Context, vec []float32, f index.Filters, k int) ([]index.Hit, error) {
	return g.vector(ctx, vec, f, k)
}

func (g *fakeGateway) EnsureCollection(context.Context, int) error { return nil }

func (g *fakeGateway) Upsert(context.Context, []index.Record) error { return nil }

func (g *fakeGateway) DeleteByDoc(context.Context, string) error { return nil }

func (g *fakeGateway) ReplaceDocument(context.Context, string, []index.Record) error { return nil }

func (g *fakeGateway) FetchDocument(context.Context, string) (*index.FullDocument, error) {
	return nil, index.ErrDocumentNotFound
}

func (g *fakeGateway) Facets(context.Context, string, index.Filters) (map[string]int, error) {
	return nil, nil
}

func (g *fakeGateway) Count(context.Context) (uint64, error) { return 0, nil }

func (g *fakeGateway) Healthy(context.Context) error { return nil }

func (g *fakeGateway) Close() error { return nil }

func TestHybridSearchFusesBothPasses(t *testing.T) {
	gw := &fakeGateway{
		lexical: func(_ context.Context, _ string, _ index.Filters, k int) ([]index.Hit, error) {
			if k != 4 {
				t.Errorf("lexical pass fetched %d, want 2x requested k", k)
			}
			return []index.Hit{lexHit("c1"), lexHit("c2")}, nil
		},
		vector: func(_ context.Context, _ []float32, _ index.Filters, k int) ([]index.Hit, error) {
			return []index.Hit{lexHit("c2"), lexHit("c1")}, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{vec: []float32{1, 2}}, gw, nil, nil)

	results, err := r.HybridSearch(context.Background(), "seabed mining", index.Filters{}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].ChunkID != "c1" || results[1].ChunkID != "c2" {
		t.Errorf("unexpected fused order: %+v", results)
	}
}

func TestHybridSearchRunsPassesConcurrently(t *testing.T) {
	lexStarted := make(chan struct{})
	vecStarted := make(chan struct{})
	gw := &fakeGateway{
		lexical: func(ctx context.Context, _ string, _ index.Filters, _ int) ([]index.Hit, error) {
			close(lexStarted)
			select {
			case <-vecStarted:
			case <-time.After(2 * time.Second):
				t.Error("vector pass did not start while lexical pass was in flight")
			}
			return []index.Hit{lexHit("l")}, nil
		},
		vector: func(ctx context.Context, _ []float32, _ index.Filters, _ int) ([]index.Hit, error) {
			close(vecStarted)
			select {
			case <-lexStarted:
			case <-time.After(2 * time.Second):
				t.Error("lexical pass did not start while vector pass was in flight")
			}
			return []index.Hit{lexHit("v")}, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{vec: []float32{1}}, gw, nil, nil)

	if _, err := r.HybridSearch(context.Background(), "budget", index.Filters{}, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHybridSearchLexicalFailureDegrades(t *testing.T) {
	gw := &fakeGateway{
		lexical: func(context.Context, string, index.Filters, int) ([]index.Hit, error) {
			return nil, errors.New("index down")
		},
		vector: func(context.Context, []float32, index.Filters, int) ([]index.Hit, error) {
			return []index.Hit{lexHit("v1"), lexHit("v2"), lexHit("v3")}, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{vec: []float32{1}}, gw, nil, nil)

	results, err := r.HybridSearch(context.Background(), "fisheries", index.Filters{}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].ChunkID != "v1" || results[1].ChunkID != "v2" {
		t.Errorf("expected surviving vector pass truncated to k, got %+v", results)
	}
}

func TestHybridSearchEmbedFailureDegrades(t *testing.T) {
	gw := &fakeGateway{
		lexical: func(context.Context, string, index.Filters, int) ([]index.Hit, error) {
			return []index.Hit{lexHit("l1")}, nil
		},
		vector: func(context.Context, []float32, index.Filters, int) ([]index.Hit, error) {
			t.Error("vector search should not run when embedding fails")
			return nil, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{err: errors.New("embedder down")}, gw, nil, nil)

	results, err := r.HybridSearch(context.Background(), "tourism", index.Filters{}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "l1" {
		t.Errorf("expected surviving lexical pass, got %+v", results)
	}
}

func TestHybridSearchBothPassesFail(t *testing.T) {
	gw := &fakeGateway{
		lexical: func(context.Context, string, index.Filters, int) ([]index.Hit, error) {
			return nil, errors.New("index down")
		},
		vector: func(context.Context, []float32, index.Filters, int) ([]index.Hit, error) {
			return nil, errors.New("index down")
		},
	}
	r := NewRetriever(&fakeEmbedder{vec: []float32{1}}, gw, nil, nil)

	results, err := r.HybridSearch(context.Background(), "land tenure", index.Filters{}, 4)
	if err != nil {
		t.Fatalf("double failure should degrade to empty, got error %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %+v", results)
	}
}

type reverseReranker struct{}

func (reverseReranker) Rerank(_ context.Context, _ string, results []Result) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		out[len(results)-1-i] = r
	}
	return out
}

func TestHybridSearchReranksBeforeTruncation(t *testing.T) {
	gw := &fakeGateway{
		lexical: func(context.Context, string, index.Filters, int) ([]index.Hit, error) {
			return []index.Hit{lexHit("a"), lexHit("b")}, nil
		},
		vector: func(context.Context, []float32, index.Filters, int) ([]index.Hit, error) {
			return nil, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{vec: []float32{1}}, gw, reverseReranker{}, nil)

	results, err := r.HybridSearch(context.Background(), "health", index.Filters{}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "b" {
		t.Errorf("truncation should follow reranking, got %+v", results)
	}
}

func TestHybridSearchStricterFilterNeverGrows(t *testing.T) {
	corpus := []index.Hit{
		{ChunkID: "a_0", DocID: "a", Country: "Fiji", Text: "budget debate"},
		{ChunkID: "b_0", DocID: "b", Country: "Samoa", Text: "budget debate"},
		{ChunkID: "c_0", DocID: "c", Country: "Fiji", Text: "budget debate"},
	}
	match := func(f index.Filters, k int) []index.Hit {
		var hits []index.Hit
		for _, h := range corpus {
			if f.Country != "" && h.Country != f.Country {
				continue
			}
			hits = append(hits, h)
			if len(hits) == k {
				break
			}
		}
		return hits
	}
	gw := &fakeGateway{
		lexical: func(_ context.Context, _ string, f index.Filters, k int) ([]index.Hit, error) {
			return match(f, k), nil
		},
		vector: func(_ context.Context, _ []float32, f index.Filters, k int) ([]index.Hit, error) {
			return match(f, k), nil
		},
	}
	r := NewRetriever(&fakeEmbedder{vec: []float32{1}}, gw, nil, nil)

	all, err := r.HybridSearch(context.Background(), "budget", index.Filters{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filtered, err := r.HybridSearch(context.Background(), "budget", index.Filters{Country: "Fiji"}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filtered) > len(all) {
		t.Errorf("stricter filter grew results: %d > %d", len(filtered), len(all))
	}
	for _, r := range filtered {
		if r.Country != "Fiji" {
			t.Errorf("filtered result from wrong country: %+v", r)
		}
	}
}
