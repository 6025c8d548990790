// Package service wires retrieval, prompting, and generation into the
// question-answering and ingest flows exposed over HTTP.
//
// # Trade-offs
//
//   - The orchestrator is stateless per request; all long-lived state
//     (embedding dimension, index connections) lives in the injected
//     components, which are shared across requests.
//   - Generation failures degrade to a canonical apology with the retrieved
//     sources attached rather than surfacing an error, so the caller always
//     gets provenance when retrieval succeeded.
//   - Concurrent generator calls are capped by a weighted semaphore with a
//     bounded queue wait; saturation fails fast with ErrBusy instead of
//     stacking requests behind a slow model.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pacifichansard/rag/internal/cache"
	"github.com/pacifichansard/rag/internal/index"
	"github.com/pacifichansard/rag/internal/llm"
	"github.com/pacifichansard/rag/internal/retrieval"
)

const (
	// maxPromptChunks caps how many retrieved chunks are placed in the
	// generation prompt, regardless of the requested top_k.
	maxPromptChunks = 5

	// maxSources is how many of the prompted chunks are returned as source
	// citations. They are returned unconditionally so the caller can show
	// provenance even when the model omits citation tags.
	maxSources = 3

	// previewChars bounds the text_preview on a source citation.
	previewChars = 150

	defaultQueueWait    = 5 * time.Second
	defaultGenSlots     = 4
	defaultTopKFallback = 12
	defaultTemperature  = 0.1
)

// ErrBusy is returned when every generator slot stayed occupied for the full
// queue wait. The HTTP layer maps it to 503.
var ErrBusy = errors.New("generator is busy, retry shortly")

// AnswerRetriever is the multi-pass retrieval strategy behind Ask.
type AnswerRetriever interface {
	Search(ctx context.Context, query string, f index.Filters, k int) ([]retrieval.Result, error)
}

// AskParams carries one question through the answer pipeline. TopK <= 0 and
// Temperature == nil select the configured defaults; an explicit zero
// temperature is honored.
type AskParams struct {
	Question    string
	Filters     index.Filters
	TopK        int
	Temperature *float64
}

// AskResult is the orchestrator's answer plus provenance.
type AskResult struct {
	Answer         string           `json:"answer"`
	Sources        []SourceCitation `json:"sources"`
	ResponseTimeMS int64            `json:"response_time_ms"`
	ModelUsed      string           `json:"model_used"`
	ChunksUsed     int              `json:"chunks_used"`
}

// SourceCitation identifies one retrieved chunk backing an answer.
type SourceCitation struct {
	ChunkID     string `json:"chunk_id"`
	DocID       string `json:"doc_id"`
	ChunkIndex  int    `json:"chunk_index"`
	Speaker     string `json:"speaker"`
	Date        string `json:"date"`
	Country     string `json:"country"`
	URL         string `json:"url,omitempty"`
	TextPreview string `json:"text_preview"`
	FullText    string `json:"full_text"`
}

// SearchParams carries one search request. TopK <= 0 selects the default.
type SearchParams struct {
	Query   string
	Filters index.Filters
	TopK    int
}

// SearchPage is the result of a single hybrid search.
type SearchPage struct {
	Results        []retrieval.Result
	TotalFound     int
	ResponseTimeMS int64
}

// RAGService answers questions over the Hansard index.
type RAGService struct {
	searcher  retrieval.Searcher
	retriever AnswerRetriever
	generator llm.Generator
	sanitizer *llm.Sanitizer
	answers   cache.Cache
	logger    *slog.Logger

	genSlots  *semaphore.Weighted
	queueWait time.Duration
	answerTTL time.Duration
	genHook   func(seconds float64, err error)

	defaultTopK int
	defaultTemp float64
}

// RAGOption is a functional option for configuring RAGService.
type RAGOption func(*RAGService)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) RAGOption {
	return func(s *RAGService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGeneratorLimit caps concurrent generator calls at n, with excess
// requests waiting up to wait before failing with ErrBusy.
func WithGeneratorLimit(n int64, wait time.Duration) RAGOption {
	return func(s *RAGService) {
		if n >= 1 {
			s.genSlots = semaphore.NewWeighted(n)
		}
		if wait > 0 {
			s.queueWait = wait
		}
	}
}

// WithDefaults sets the top_k and temperature used when a request leaves
// them unset.
func WithDefaults(topK int, temperature float64) RAGOption {
	return func(s *RAGService) {
		if topK > 0 {
			s.defaultTopK = topK
		}
		if temperature >= 0 {
			s.defaultTemp = temperature
		}
	}
}

// WithAnswerCache caches successful answers for ttl. Degraded answers
// (generation failures, busy rejections) are never cached.
func WithAnswerCache(c cache.Cache, ttl time.Duration) RAGOption {
	return func(s *RAGService) {
		if c != nil && ttl > 0 {
			s.answers = c
			s.answerTTL = ttl
		}
	}
}

// WithGenerationHook registers a callback invoked after every generator
// call with its wall time and outcome.
func WithGenerationHook(hook func(seconds float64, err error)) RAGOption {
	return func(s *RAGService) { s.genHook = hook }
}

// NewRAGService creates the answer orchestrator. searcher serves plain
// hybrid search; retriever is the analysis-driven strategy used by Ask.
func NewRAGService(searcher retrieval.Searcher, retriever AnswerRetriever, generator llm.Generator, sanitizer *llm.Sanitizer, opts ...RAGOption) *RAGService {
	s := &RAGService{
		searcher:    searcher,
		retriever:   retriever,
		generator:   generator,
		sanitizer:   sanitizer,
		logger:      slog.Default(),
		genSlots:    semaphore.NewWeighted(defaultGenSlots),
		queueWait:   defaultQueueWait,
		defaultTopK: defaultTopKFallback,
		defaultTemp: defaultTemperature,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs a single hybrid search and returns the fused results.
func (s *RAGService) Search(ctx context.Context, p SearchParams) (*SearchPage, error) {
	startTime := time.Now()

	topK := p.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}

	results, err := s.searcher.HybridSearch(ctx, p.Query, p.Filters, topK)
	if err != nil {
		return nil, err
	}

	return &SearchPage{
		Results:        results,
		TotalFound:     len(results),
		ResponseTimeMS: time.Since(startTime).Milliseconds(),
	}, nil
}

// Ask answers a question against the Hansard index.
//
// Empty retrieval is not an error: the caller gets the canonical
// no-relevant-information answer with no sources. A generator failure is
// also not an error: the caller gets the canonical apology with the
// retrieved sources attached. Only saturation (ErrBusy), cancellation, and
// unexpected internal conditions surface as errors.
func (s *RAGService) Ask(ctx context.Context, p AskParams) (*AskResult, error) {
	startTime := time.Now()

	topK := p.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}
	temp := s.defaultTemp
	if p.Temperature != nil {
		temp = *p.Temperature
	}

	cacheKey := askCacheKey(p.Question, p.Filters, topK, temp)
	if cached, ok := s.cachedAnswer(ctx, cacheKey); ok {
		cached.ResponseTimeMS = time.Since(startTime).Milliseconds()
		return cached, nil
	}

	// Step 1: retrieve. A retrieval error degrades to the empty result so
	// the user still gets a well-formed "nothing found" answer.
	results, err := s.retriever.Search(ctx, p.Question, p.Filters, topK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("retrieval failed, returning empty answer", "error", err)
		results = nil
	}

	if len(results) == 0 {
		return &AskResult{
			Answer:         llm.NoRelevantInformation,
			Sources:        []SourceCitation{},
			ResponseTimeMS: time.Since(startTime).Milliseconds(),
			ModelUsed:      s.generator.Model(),
			ChunksUsed:     0,
		}, nil
	}

	// Step 2: select the chunks the model will see. Sources come from the
	// same selection so citation indexes line up with the prompted blocks.
	selected := results
	if len(selected) > maxPromptChunks {
		selected = selected[:maxPromptChunks]
	}
	sources := buildSources(selected)

	// Step 3: generate under the concurrency cap.
	if err := s.acquireGenerator(ctx); err != nil {
		return nil, err
	}
	defer s.genSlots.Release(1)

	prompt := buildAnswerPrompt(p.Question, selected)
	genStart := time.Now()
	raw, genErr := s.generator.Generate(ctx, prompt, llm.GenerateOptions{
		Temperature: float32(temp),
	})
	if s.genHook != nil {
		s.genHook(time.Since(genStart).Seconds(), genErr)
	}

	var answer string
	if genErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("generation failed, returning sources without answer", "error", genErr)
		answer = llm.GenerationUnavailable
	} else {
		answer = s.sanitizer.Sanitize(raw)
	}

	result := &AskResult{
		Answer:         answer,
		Sources:        sources,
		ResponseTimeMS: time.Since(startTime).Milliseconds(),
		ModelUsed:      s.generator.Model(),
		ChunksUsed:     len(selected),
	}

	if genErr == nil {
		s.storeAnswer(ctx, cacheKey, result)
	}
	return result, nil
}

// acquireGenerator takes one generator slot, waiting at most queueWait.
func (s *RAGService) acquireGenerator(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.queueWait)
	defer cancel()

	if err := s.genSlots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	return nil
}

// buildSources converts the first maxSources prompted chunks into citations.
func buildSources(selected []retrieval.Result) []SourceCitation {
	n := len(selected)
	if n > maxSources {
		n = maxSources
	}
	sources := make([]SourceCitation, 0, n)
	for _, r := range selected[:n] {
		sources = append(sources, SourceCitation{
			ChunkID:     r.ChunkID,
			DocID:       r.DocID,
			ChunkIndex:  r.ChunkIndex,
			Speaker:     r.Speaker,
			Date:        r.Date,
			Country:     r.Country,
			URL:         r.URL,
			TextPreview: previewText(r.Text),
			FullText:    r.Text,
		})
	}
	return sources
}

// previewText truncates text to previewChars runes, appending an ellipsis
// when anything was cut.
func previewText(text string) string {
	runes := []rune(text)
	if len(runes) <= previewChars {
		return text
	}
	return string(runes[:previewChars]) + "..."
}
