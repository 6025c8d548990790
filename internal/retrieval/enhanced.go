package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pacifichansard/rag/internal/index"
)

const (
	maxExpandedTerms       = 3
	maxAuthorityTerms      = 2
	maxChunksPerDocument   = 2
	maxChunksPerSpeaker    = 3
	shortResultChars       = 200
	officialAuthorityBonus = 0.3
	entityMatchBonus       = 0.2
	intentSignalBonus      = 0.25
	shortResultPenalty     = 0.1
)

var positionSignals = []string{"position", "stance", "policy", "approach"}
var factualSignals = []string{"act", "regulation", "law", "bill"}

// EnhancedRetriever layers query analysis over hybrid search: it fans out
// reformulated passes, merges them deterministically, boosts results that
// match the analysis, and diversifies across documents and speakers.
type EnhancedRetriever struct {
	searcher Searcher
	logger   *slog.Logger
	passHook func(pass string, err error)
}

type EnhancedOption func(*EnhancedRetriever)

// WithPassHook registers a callback invoked once per retrieval pass,
// fallback included, with the pass name and its outcome.
func WithPassHook(hook func(pass string, err error)) EnhancedOption {
	return func(e *EnhancedRetriever) { e.passHook = hook }
}

func NewEnhancedRetriever(searcher Searcher, logger *slog.Logger, opts ...EnhancedOption) *EnhancedRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	e := &EnhancedRetriever{searcher: searcher, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs the analysis-driven passes and returns at most k results.
// Individual pass failures are logged and skipped; only when every pass
// fails does it retry with a single plain hybrid search.
func (e *EnhancedRetriever) Search(ctx context.Context, query string, f index.Filters, k int) ([]Result, error) {
	analysis := Analyze(query)
	passes := buildPassQueries(query, analysis)

	e.logger.Debug("query analyzed",
		"intent", analysis.Intent,
		"entities", analysis.Entities,
		"topics", analysis.Topics,
		"authority", analysis.AuthorityLevel,
		"passes", len(passes))

	passResults := make([][]Result, len(passes))
	passErrs := make([]error, len(passes))
	var g errgroup.Group
	for i, p := range passes {
		g.Go(func() error {
			res, err := e.searcher.HybridSearch(ctx, p.query, f, k)
			e.observePass(p.name, err)
			if err != nil {
				e.logger.Warn("retrieval pass failed", "pass", p.name, "error", err)
				passErrs[i] = err
				return nil
			}
			passResults[i] = res
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	for _, err := range passErrs {
		if err != nil {
			failures++
		}
	}
	if failures == len(passes) {
		res, err := e.searcher.HybridSearch(ctx, query, f, k)
		e.observePass("fallback", err)
		if err != nil {
			return nil, err
		}
		passResults = [][]Result{res}
	}

	merged := dedupe(passResults)
	applyAnalysisBonus(merged, analysis)
	return diversify(merged, k), nil
}

type searchPass struct {
	name  string
	query string
}

// buildPassQueries assembles up to four reformulations. The original query
// always runs; the others are added only when the analysis gives them
// something to work with.
func buildPassQueries(query string, a Analysis) []searchPass {
	passes := []searchPass{{name: "original", query: query}}

	if len(a.ExpandedTerms) > 0 || len(a.Topics) > 0 {
		parts := []string{query}
		parts = append(parts, firstN(a.ExpandedTerms, maxExpandedTerms)...)
		parts = append(parts, a.Topics...)
		passes = append(passes, searchPass{name: "expanded", query: strings.Join(parts, " ")})
	}

	if len(a.Entities) > 0 {
		passes = append(passes, searchPass{name: "entity", query: strings.Join(a.Entities, " ")})
	}

	if a.Intent == IntentPosition || strings.Contains(strings.ToLower(query), "stance") {
		indicators := firstN(authorityIndicators[a.AuthorityLevel], maxAuthorityTerms)
		if len(indicators) > 0 {
			passes = append(passes, searchPass{name: "authority", query: query + " " + strings.Join(indicators, " ")})
		}
	}

	return passes
}

func (e *EnhancedRetriever) observePass(name string, err error) {
	if e.passHook != nil {
		e.passHook(name, err)
	}
}

type chunkKey struct {
	docID      string
	chunkIndex int
}

// dedupe concatenates pass results in pass order and keeps the first
// occurrence of each (doc_id, chunk_index). Pass order, not completion
// order, defines "first".
func dedupe(passResults [][]Result) []Result {
	seen := make(map[chunkKey]struct{})
	var merged []Result
	for _, results := range passResults {
		for _, r := range results {
			key := chunkKey{r.DocID, r.ChunkIndex}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, r)
		}
	}
	return merged
}

// applyAnalysisBonus rescores merged results in place and sorts them
// descending. The sort is stable so ties keep their dedupe order.
func applyAnalysisBonus(results []Result, a Analysis) {
	for i := range results {
		text := strings.ToLower(results[i].Text)
		bonus := 0.0
		if a.AuthorityLevel == AuthorityOfficial && containsAny(text, authorityIndicators[AuthorityOfficial]) {
			bonus += officialAuthorityBonus
		}
		for _, entity := range a.Entities {
			if strings.Contains(text, entity) {
				bonus += entityMatchBonus
			}
		}
		switch a.Intent {
		case IntentPosition:
			if containsAny(text, positionSignals) {
				bonus += intentSignalBonus
			}
		case IntentFactual:
			if containsAny(text, factualSignals) {
				bonus += intentSignalBonus
			}
		}
		if len(results[i].Text) < shortResultChars {
			bonus -= shortResultPenalty
		}
		results[i].Score += bonus
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

// diversify admits results greedily while no document exceeds two chunks
// and no speaker exceeds three. If the caps leave fewer than k, the
// remainder is filled from the skipped results in order.
func diversify(results []Result, k int) []Result {
	if k <= 0 {
		return nil
	}
	selected := make([]Result, 0, k)
	picked := make(map[int]struct{}, k)
	docCount := make(map[string]int)
	speakerCount := make(map[string]int)

	for i, r := range results {
		if len(selected) == k {
			break
		}
		if docCount[r.DocID] >= maxChunksPerDocument || speakerCount[r.Speaker] >= maxChunksPerSpeaker {
			continue
		}
		selected = append(selected, r)
		picked[i] = struct{}{}
		docCount[r.DocID]++
		speakerCount[r.Speaker]++
	}

	if len(selected) < k {
		for i, r := range results {
			if len(selected) == k {
				break
			}
			if _, ok := picked[i]; ok {
				continue
			}
			selected = append(selected, r)
		}
	}
	return selected
}

func firstN(terms []string, n int) []string {
	if len(terms) <= n {
		return terms
	}
	return terms[:n]
}
