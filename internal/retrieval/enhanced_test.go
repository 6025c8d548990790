package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pacifichansard/rag/internal/index"
)

type scriptedSearcher struct {
	mu      sync.Mutex
	calls   int
	queries []string
	respond func(call int, query string, k int) ([]Result, error)
}

func (s *scriptedSearcher) HybridSearch(_ context.Context, query string, _ index.Filters, k int) ([]Result, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.queries = append(s.queries, query)
	respond := s.respond
	s.mu.Unlock()
	return respond(call, query, k)
}

func passResult(docID string, chunkIndex int, text string) Result {
	return Result{
		ChunkID:    fmt.Sprintf("%s_%d", docID, chunkIndex),
		DocID:      docID,
		ChunkIndex: chunkIndex,
		Text:       text,
		Speaker:    "SPEAKER " + strings.ToUpper(docID),
	}
}

func TestBuildPassQueries(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCount int
	}{
		{"plain query gets one pass", "parliament sitting schedule", 1},
		{"entity query adds expanded and entity passes", "deep sea mining", 3},
		{"position query adds authority pass", "position on fisheries", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passes := buildPassQueries(tt.query, Analyze(tt.query))
			if len(passes) != tt.wantCount {
				t.Fatalf("got %d passes %v, want %d", len(passes), passes, tt.wantCount)
			}
			if passes[0].name != "original" || passes[0].query != tt.query {
				t.Errorf("first pass must be the original query, got %+v", passes[0])
			}
		})
	}
}

func TestBuildPassQueriesExpansion(t *testing.T) {
	passes := buildPassQueries("deep sea mining", Analyze("deep sea mining"))
	if passes[1].name != "expanded" {
		t.Fatalf("second pass = %q, want expanded", passes[1].name)
	}
	expanded := passes[1].query
	if !strings.HasPrefix(expanded, "deep sea mining ") {
		t.Errorf("expanded pass should start with the original query: %q", expanded)
	}
	if !strings.Contains(expanded, "seabed minerals") {
		t.Errorf("expanded pass missing synonym: %q", expanded)
	}
	if !strings.HasSuffix(expanded, " mining") {
		t.Errorf("expanded pass should end with topic names: %q", expanded)
	}
	if passes[2].name != "entity" || passes[2].query != "seabed mining" {
		t.Errorf("entity pass = %+v, want joined entities", passes[2])
	}
}

func TestSearchDedupeKeepsFirstOccurrence(t *testing.T) {
	s := &scriptedSearcher{
		respond: func(_ int, _ string, _ int) ([]Result, error) {
			return []Result{
				passResult("doc1", 0, "alpha original"),
				passResult("doc2", 0, "beta"),
				passResult("doc1", 0, "alpha duplicate"),
			}, nil
		},
	}
	e := NewEnhancedRetriever(s, nil)

	results, err := e.Search(context.Background(), "parliament attendance", index.Filters{}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 deduped results, got %d", len(results))
	}
	if results[0].Text != "alpha original" {
		t.Errorf("first occurrence should survive, got %q", results[0].Text)
	}
	for _, r := range results {
		if r.Text == "alpha duplicate" {
			t.Error("later duplicate leaked through dedupe")
		}
	}
}

func TestSearchMergeFollowsPassOrderNotCompletion(t *testing.T) {
	const original = "deep sea mining"
	s := &scriptedSearcher{
		respond: func(_ int, query string, _ int) ([]Result, error) {
			switch query {
			case original:
				// Slowest pass still contributes the first occurrence.
				time.Sleep(20 * time.Millisecond)
				return []Result{passResult("docA", 0, "original chunk text")}, nil
			case "seabed mining":
				return []Result{passResult("docB", 1, "entity chunk text")}, nil
			default:
				return []Result{
					passResult("docA", 0, "expanded duplicate text"),
					passResult("docC", 2, "expanded chunk text"),
				}, nil
			}
		},
	}
	e := NewEnhancedRetriever(s, nil)

	results, err := e.Search(context.Background(), original, index.Filters{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 merged results, got %d: %+v", len(results), results)
	}
	if results[0].Text != "original chunk text" {
		t.Errorf("pass order should define first occurrence, got %q", results[0].Text)
	}
	wantDocs := []string{"docA", "docC", "docB"}
	for i, want := range wantDocs {
		if results[i].DocID != want {
			t.Errorf("position %d: doc %s, want %s", i, results[i].DocID, want)
		}
	}
}

func TestSearchIgnoresSinglePassFailure(t *testing.T) {
	s := &scriptedSearcher{
		respond: func(_ int, query string, _ int) ([]Result, error) {
			if query == "seabed mining" {
				return nil, errors.New("pass exploded")
			}
			if query == "deep sea mining" {
				return []Result{passResult("docA", 0, "survivor one")}, nil
			}
			return []Result{passResult("docB", 0, "survivor two")}, nil
		},
	}
	e := NewEnhancedRetriever(s, nil)

	results, err := e.Search(context.Background(), "deep sea mining", index.Filters{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected results from surviving passes, got %+v", results)
	}
}

func TestSearchReportsPassOutcomes(t *testing.T) {
	s := &scriptedSearcher{
		respond: func(_ int, query string, _ int) ([]Result, error) {
			if query == "seabed mining" {
				return nil, errors.New("pass exploded")
			}
			return []Result{passResult("docA", 0, "survivor text")}, nil
		},
	}
	var mu sync.Mutex
	observed := map[string]error{}
	e := NewEnhancedRetriever(s, nil, WithPassHook(func(pass string, err error) {
		mu.Lock()
		observed[pass] = err
		mu.Unlock()
	}))

	if _, err := e.Search(context.Background(), "deep sea mining", index.Filters{}, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(observed) != 3 {
		t.Fatalf("expected 3 observed passes, got %v", observed)
	}
	if observed["entity"] == nil {
		t.Error("entity pass failure not reported to hook")
	}
	if observed["original"] != nil || observed["expanded"] != nil {
		t.Errorf("successful passes should report nil errors, got %v", observed)
	}
}

func TestSearchFallsBackWhenAllPassesFail(t *testing.T) {
	s := &scriptedSearcher{
		respond: func(call int, _ string, _ int) ([]Result, error) {
			if call == 1 {
				return nil, errors.New("index down")
			}
			return []Result{passResult("docA", 0, "fallback result")}, nil
		},
	}
	e := NewEnhancedRetriever(s, nil)

	results, err := e.Search(context.Background(), "parliament attendance", index.Filters{}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Text != "fallback result" {
		t.Errorf("expected fallback result, got %+v", results)
	}
	if s.calls != 2 {
		t.Errorf("expected failed pass plus fallback, got %d calls", s.calls)
	}
}

func TestSearchErrsWhenFallbackFails(t *testing.T) {
	s := &scriptedSearcher{
		respond: func(int, string, int) ([]Result, error) {
			return nil, errors.New("index down")
		},
	}
	e := NewEnhancedRetriever(s, nil)

	if _, err := e.Search(context.Background(), "parliament attendance", index.Filters{}, 5); err == nil {
		t.Error("expected error when every pass and the fallback fail")
	}
}

func TestApplyAnalysisBonus(t *testing.T) {
	longPad := strings.Repeat("x ", 120)

	tests := []struct {
		name     string
		analysis Analysis
		text     string
		want     float64
	}{
		{
			name:     "official authority indicator",
			analysis: Analysis{Intent: IntentGeneral, AuthorityLevel: AuthorityOfficial},
			text:     "The Minister replied to the question. " + longPad,
			want:     1.3,
		},
		{
			name:     "entity matches accumulate",
			analysis: Analysis{Intent: IntentGeneral, AuthorityLevel: AuthorityAny, Entities: []string{"seabed mining", "fisheries"}},
			text:     "Seabed mining and fisheries were both raised. " + longPad,
			want:     1.4,
		},
		{
			name:     "position intent signal",
			analysis: Analysis{Intent: IntentPosition, AuthorityLevel: AuthorityAny},
			text:     "Our stance remains unchanged. " + longPad,
			want:     1.25,
		},
		{
			name:     "factual intent signal",
			analysis: Analysis{Intent: IntentFactual, AuthorityLevel: AuthorityAny},
			text:     "The Act commenced in July. " + longPad,
			want:     1.25,
		},
		{
			name:     "short text penalized",
			analysis: Analysis{Intent: IntentGeneral, AuthorityLevel: AuthorityAny},
			text:     "Too short to be useful.",
			want:     0.9,
		},
		{
			name:     "neutral long text unchanged",
			analysis: Analysis{Intent: IntentGeneral, AuthorityLevel: AuthorityAny},
			text:     "Members discussed the agenda for the next sitting. " + longPad,
			want:     1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := []Result{{Text: tt.text, Score: 1.0}}
			applyAnalysisBonus(results, tt.analysis)
			if diff := results[0].Score - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("score = %v, want %v", results[0].Score, tt.want)
			}
		})
	}
}

func TestApplyAnalysisBonusSortsStable(t *testing.T) {
	a := Analysis{Intent: IntentGeneral, AuthorityLevel: AuthorityAny, Entities: []string{"budget"}}
	pad := strings.Repeat("y ", 120)
	results := []Result{
		{ChunkID: "plain-1", Text: "No match here. " + pad, Score: 0.5},
		{ChunkID: "boosted", Text: "The budget estimates. " + pad, Score: 0.4},
		{ChunkID: "plain-2", Text: "Still no match. " + pad, Score: 0.5},
	}
	applyAnalysisBonus(results, a)

	if results[0].ChunkID != "boosted" {
		t.Errorf("entity bonus should promote the match, got %s first", results[0].ChunkID)
	}
	if results[1].ChunkID != "plain-1" || results[2].ChunkID != "plain-2" {
		t.Errorf("ties must keep their merge order, got %s then %s", results[1].ChunkID, results[2].ChunkID)
	}
}

func TestDiversifyDocumentCap(t *testing.T) {
	results := []Result{
		passResult("A", 0, "a0"), passResult("A", 1, "a1"), passResult("A", 2, "a2"),
		passResult("A", 3, "a3"), passResult("A", 4, "a4"), passResult("B", 0, "b0"),
	}
	got := diversify(results, 3)
	want := []string{"A_0", "A_1", "B_0"}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ChunkID != id {
			t.Errorf("position %d: %s, want %s", i, got[i].ChunkID, id)
		}
	}
}

func TestDiversifySpeakerCap(t *testing.T) {
	same := func(doc string, idx int) Result {
		r := passResult(doc, idx, "text")
		r.Speaker = "HON. BROWN"
		return r
	}
	results := []Result{
		same("A", 0), same("B", 0), same("C", 0), same("D", 0), same("E", 0),
		passResult("F", 0, "other speaker"),
	}
	got := diversify(results, 4)
	want := []string{"A_0", "B_0", "C_0", "F_0"}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ChunkID != id {
			t.Errorf("position %d: %s, want %s", i, got[i].ChunkID, id)
		}
	}
}

func TestDiversifyRelaxesToReachK(t *testing.T) {
	var results []Result
	for i := 0; i < 8; i++ {
		results = append(results, passResult("A", i, fmt.Sprintf("chunk %d", i)))
	}
	got := diversify(results, 5)
	if len(got) != 5 {
		t.Fatalf("relaxation should fill to k, got %d", len(got))
	}
	// Two admitted under the cap, three more from the remainder in order.
	for i := 0; i < 5; i++ {
		if got[i].ChunkIndex != i {
			t.Errorf("position %d: chunk index %d, want %d", i, got[i].ChunkIndex, i)
		}
	}
}
