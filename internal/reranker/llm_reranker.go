package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pacifichansard/rag/internal/llm"
	"github.com/pacifichansard/rag/internal/retrieval"
)

// LLMReranker asks the completion model to score each query-passage pair.
// The model sees both together, cross-encoder style, which catches relevance
// that token overlap misses.
type LLMReranker struct {
	generator llm.Generator
	model     string
	logger    *slog.Logger
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for rerank scoring.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// WithLogger sets the logger for rerank failures.
func WithLogger(logger *slog.Logger) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.logger = logger
	}
}

// NewLLMReranker creates a model-backed reranker.
func NewLLMReranker(generator llm.Generator, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		generator: generator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// relevanceScore represents one entry of the structured model output.
type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank adds each passage's model relevance score to its fused score and
// re-sorts. Scoring failures leave the input order untouched.
func (r *LLMReranker) Rerank(ctx context.Context, query string, results []retrieval.Result) []retrieval.Result {
	if len(results) == 0 {
		return results
	}

	prompt := r.buildRerankPrompt(query, results)
	response, err := r.generator.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0,
		MaxTokens:   1024,
	})
	if err != nil {
		r.logger.Warn("llm rerank failed, keeping fused order", "error", err)
		return results
	}

	scores, err := r.parseRerankResponse(response, len(results))
	if err != nil {
		r.logger.Warn("llm rerank output unparseable, keeping fused order", "error", err)
		return results
	}

	out := make([]retrieval.Result, len(results))
	copy(out, results)
	for i := range out {
		out[i].Score += scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// buildRerankPrompt constructs the scoring prompt.
func (r *LLMReranker) buildRerankPrompt(query string, results []retrieval.Result) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each passage's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Passages to score:\n")
	for i, result := range results {
		// Truncate content to avoid token limits.
		content := result.Text
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		sb.WriteString(fmt.Sprintf("[Doc %d]: %s\n\n", i, content))
	}

	sb.WriteString(`Score each passage from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant passages should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseRerankResponse extracts scores from the model response.
func (r *LLMReranker) parseRerankResponse(response string, numResults int) ([]float64, error) {
	response = strings.TrimSpace(response)

	// Pull JSON out of markdown code fences if present.
	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	response = strings.TrimSpace(response)

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	// Default score for entries the model skipped.
	scores := make([]float64, numResults)
	for i := range scores {
		scores[i] = 0.5
	}

	for _, s := range parsed.Scores {
		if s.DocIndex >= 0 && s.DocIndex < numResults {
			score := s.Score
			if score < 0 {
				score = 0
			}
			if score > 1 {
				score = 1
			}
			scores[s.DocIndex] = score
		}
	}

	return scores, nil
}

// Ensure LLMReranker implements the retrieval interface.
var _ retrieval.Reranker = (*LLMReranker)(nil)
