package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pacifichansard/rag/internal/index"
)

// askCacheKey derives a stable key from everything that determines an
// answer: the question, the filters, top_k, and temperature.
func askCacheKey(question string, f index.Filters, topK int, temperature float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d\x00%g",
		question, f.Country, f.Speaker, f.Chamber, f.DateFrom, f.DateTo, topK, temperature)
	return "answer:" + hex.EncodeToString(h.Sum(nil))
}

// cachedAnswer returns a previously stored answer. Cache failures are
// logged and treated as misses.
func (s *RAGService) cachedAnswer(ctx context.Context, key string) (*AskResult, bool) {
	if s.answers == nil {
		return nil, false
	}

	raw, ok, err := s.answers.Get(ctx, key)
	if err != nil {
		s.logger.Warn("answer cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var result AskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Warn("answer cache entry corrupt, ignoring", "error", err)
		return nil, false
	}
	return &result, true
}

// storeAnswer caches a successful answer. Failures are logged and ignored.
func (s *RAGService) storeAnswer(ctx context.Context, key string, result *AskResult) {
	if s.answers == nil {
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.answers.Set(ctx, key, raw, s.answerTTL); err != nil {
		s.logger.Warn("answer cache write failed", "error", err)
	}
}
