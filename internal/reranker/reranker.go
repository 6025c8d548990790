// Package reranker rescores retrieval results against the original query.
//
// The default strategy is lexical: token-overlap features computed locally,
// adding a small bounded boost on top of the fused retrieval score.
//
// # Trade-offs
//
//   - Lexical: microseconds per query, rewards exact terminology matches.
//   - LLM: adds 1-3 seconds per query (extra model call) but scores the
//     query and passage together; use it when accuracy matters more than
//     latency.
//
// Both strategies are stable: results with equal scores keep their fused
// order. The "none" strategy is the identity.
package reranker

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/pacifichansard/rag/internal/retrieval"
)

// DefaultBoost scales the lexical feature bonus added to fused scores.
const DefaultBoost = 0.1

const (
	termCoverageWeight  = 0.5
	termFrequencyWeight = 0.3
	phraseMatchWeight   = 0.2
)

var rerankStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {},
}

// LexicalReranker boosts results whose text overlaps the query terms.
type LexicalReranker struct {
	boost float64
}

// LexicalOption is a functional option for configuring LexicalReranker.
type LexicalOption func(*LexicalReranker)

// WithBoost overrides the feature bonus scale. A boost of zero makes the
// reranker the identity.
func WithBoost(boost float64) LexicalOption {
	return func(r *LexicalReranker) {
		r.boost = boost
	}
}

// NewLexicalReranker creates a lexical reranker with the default boost.
func NewLexicalReranker(opts ...LexicalOption) *LexicalReranker {
	r := &LexicalReranker{boost: DefaultBoost}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank rescores each result by term coverage, term frequency, and full
// phrase match, then re-sorts descending. The sort is stable, so score ties
// keep their incoming order.
func (r *LexicalReranker) Rerank(_ context.Context, query string, results []retrieval.Result) []retrieval.Result {
	if r.boost == 0 || len(results) == 0 {
		return results
	}
	terms := queryTerms(query)
	if len(terms) == 0 {
		return results
	}
	phrase := normalizeText(query)

	out := make([]retrieval.Result, len(results))
	copy(out, results)
	for i := range out {
		text := normalizeText(out[i].Text)
		features := termCoverageWeight*termCoverage(text, terms) +
			termFrequencyWeight*termFrequency(text, terms) +
			phraseMatchWeight*phraseMatch(text, phrase)
		out[i].Score += r.boost * features
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// termCoverage is the fraction of query terms present in the text.
func termCoverage(text string, terms []string) float64 {
	matched := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// termFrequency is the total term match count relative to the text length.
func termFrequency(text string, terms []string) float64 {
	total := 0
	for _, t := range terms {
		total += strings.Count(text, t)
	}
	words := len(strings.Fields(text))
	if words < 1 {
		words = 1
	}
	return float64(total) / float64(words)
}

func phraseMatch(text, phrase string) float64 {
	if phrase != "" && strings.Contains(text, phrase) {
		return 1
	}
	return 0
}

// normalizeText lowercases and replaces punctuation with spaces so term
// matching ignores case and punctuation boundaries.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func queryTerms(query string) []string {
	fields := strings.Fields(normalizeText(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, skip := rerankStopwords[f]; skip {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// Noop is the disabled reranker: it returns results unchanged.
type Noop struct{}

func (Noop) Rerank(_ context.Context, _ string, results []retrieval.Result) []retrieval.Result {
	return results
}

var _ retrieval.Reranker = (*LexicalReranker)(nil)
var _ retrieval.Reranker = Noop{}
