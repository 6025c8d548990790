// Package index adapts the external Qdrant engine to the retrieval
// pipeline: lexical and vector queries, chunk upsert, document fetch, and
// facet counts.
package index

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned when no chunks exist for a document id.
var ErrDocumentNotFound = errors.New("document not found in index")

// Filters narrow a search to matching chunks. Zero values are wildcards;
// set fields compose with AND. Date endpoints are inclusive ISO-8601 days.
type Filters struct {
	Country  string
	Speaker  string
	Chamber  string
	DateFrom string
	DateTo   string
}

// Record is a chunk as stored in the index. Vector may be nil for
// lexical-only records; the vector can be backfilled by a later upsert.
type Record struct {
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
	TokenCount int
	Vector     []float32
}

// Hit is a single search result from one retrieval pass, carrying the
// engine's score for that pass.
type Hit struct {
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
	Score      float32
}

// FullDocument is a document reassembled from its indexed chunks, sorted by
// chunk index, with metadata taken from the first chunk.
type FullDocument struct {
	DocID   string
	Title   string
	Date    string
	Country string
	Chamber string
	URL     string
	Chunks  []Hit
}

// Gateway is the component-level view of the index engine. Implementations
// must be safe for concurrent use.
type Gateway interface {
	// EnsureCollection creates the backing collection and payload indexes
	// if they do not exist. dim is the dense embedding dimension.
	EnsureCollection(ctx context.Context, dim int) error

	// LexicalSearch runs a tokenized text match, best first.
	LexicalSearch(ctx context.Context, query string, f Filters, k int) ([]Hit, error)

	// VectorSearch runs approximate kNN over the dense vectors, best first.
	// Filters are applied engine-side before scoring.
	VectorSearch(ctx context.Context, vector []float32, f Filters, k int) ([]Hit, error)

	// Upsert writes records, idempotent by chunk id. Writes touching the
	// same document are serialized against DeleteByDoc and ReplaceDocument.
	Upsert(ctx context.Context, records []Record) error

	// DeleteByDoc removes every chunk of a document.
	DeleteByDoc(ctx context.Context, docID string) error

	// ReplaceDocument atomically (from this process's perspective) swaps a
	// document's chunks: delete by doc id, then upsert.
	ReplaceDocument(ctx context.Context, docID string, records []Record) error

	// FetchDocument returns all chunks of a document ordered by chunk
	// index, or ErrDocumentNotFound.
	FetchDocument(ctx context.Context, docID string) (*FullDocument, error)

	// Facets counts chunks grouped by a payload field value.
	Facets(ctx context.Context, field string, f Filters) (map[string]int, error)

	// Count returns the total number of indexed chunks.
	Count(ctx context.Context) (uint64, error)

	// Healthy reports whether the engine is reachable.
	Healthy(ctx context.Context) error

	Close() error
}
