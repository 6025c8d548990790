package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newFakeOllama(t *testing.T, dim int, failures *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures != nil && failures.Add(-1) >= 0 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Integer-valued embeddings survive the float64 to float32
		// conversion exactly, so tests can compare directly.
		embedding := make([]float64, dim)
		for i := range embedding {
			embedding[i] = float64(len(req.Prompt) + i)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: embedding})
	}))
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := newFakeOllama(t, 8, nil)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL})

	embedding, err := e.Embed(context.Background(), "seabed mining moratorium")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(embedding) != 8 {
		t.Errorf("expected 8 dimensions, got %d", len(embedding))
	}
}

func TestOllamaEmbedder_RetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2) // first two requests fail with 500

	srv := newFakeOllama(t, 4, &failures)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, MaxAttempts: 3})

	if _, err := e.Embed(context.Background(), "question time"); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
}

func TestOllamaEmbedder_GivesUpAfterMaxAttempts(t *testing.T) {
	var failures atomic.Int32
	failures.Store(100)

	srv := newFakeOllama(t, 4, &failures)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, MaxAttempts: 2})

	_, err := e.Embed(context.Background(), "question time")
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
}

func TestOllamaEmbedder_DimensionDiscoveredOnce(t *testing.T) {
	srv := newFakeOllama(t, 16, nil)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL})

	dim, err := e.Dimension(context.Background())
	if err != nil {
		t.Fatalf("Dimension: %v", err)
	}
	if dim != 16 {
		t.Errorf("expected dimension 16, got %d", dim)
	}

	// Once published, the dimension must be served without another probe.
	srv.Close()
	dim, err = e.Dimension(context.Background())
	if err != nil {
		t.Fatalf("Dimension after close: %v", err)
	}
	if dim != 16 {
		t.Errorf("expected cached dimension 16, got %d", dim)
	}
}

func TestOllamaEmbedder_EmbedBatchPreservesOrder(t *testing.T) {
	srv := newFakeOllama(t, 4, nil)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, BatchConcurrency: 2})

	texts := []string{"a", "bb", "ccc", "dddd"}
	embeddings, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(embeddings) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(embeddings))
	}
	for i, text := range texts {
		// The fake derives values from prompt length, so order is checkable.
		if want := float32(len(text)); embeddings[i][0] != want {
			t.Errorf("embedding %d out of order: got %v, want first value %v", i, embeddings[i][0], want)
		}
	}
}
