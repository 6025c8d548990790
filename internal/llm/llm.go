// Package llm provides the client for the external text-completion service
// and the post-processing applied to its output before answers are returned.
package llm

import (
	"context"
)

// Canonical user-facing messages. The same "no relevant information" text is
// used whether retrieval came back empty or the generated answer was filtered
// as ungrounded.
const (
	NoRelevantInformation = "I could not find relevant information in the parliamentary records to answer this question. Please try rephrasing it or asking about a different topic."
	GenerationUnavailable = "I apologize, but I was unable to generate an answer right now. The excerpts below are the most relevant passages retrieved for your question."
)

// GenerateOptions configures a single completion request.
type GenerateOptions struct {
	// Model overrides the client's default model for this request.
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float32

	// TopP is the nucleus sampling cutoff.
	TopP float32

	// RepeatPenalty discourages the model from repeating itself.
	RepeatPenalty float32

	// MaxTokens limits the response length; 0 means no limit.
	MaxTokens int

	// Stop sequences terminate generation when emitted.
	Stop []string
}

// Generator is the text-completion endpoint as seen by the answer pipeline.
type Generator interface {
	// Generate blocks until the full response is received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Healthy reports whether the completion service is reachable.
	Healthy(ctx context.Context) error

	// Model returns the default model identifier.
	Model() string
}
