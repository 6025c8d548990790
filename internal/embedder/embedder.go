// Package embedder provides interfaces and implementations for text embedding.
package embedder

import (
	"context"
	"errors"
)

// ErrEmbedFailed is wrapped by all embedding errors that survive retries.
var ErrEmbedFailed = errors.New("embedding failed")

// Embedder defines the interface for text embedding services.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors,
	// discovering it from the model on first use.
	Dimension(ctx context.Context) (int, error)

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}
