package index

import (
	"hash/fnv"
	"regexp"
	"sort"
	"strings"
)

// SparseVector is the bag-of-words representation stored under the lexical
// vector name. Indices are term hashes, values raw term counts; the engine
// applies IDF weighting at query time.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

var tokenRe = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*|\p{N}+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {},
}

// Tokenize lowercases text, extracts letter and digit runs, and drops
// stopwords.
func Tokenize(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if _, skip := stopwords[tok]; skip {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// EncodeSparse builds the sparse lexical vector for a chunk or query. The
// same text always yields the same vector; indices are sorted ascending.
func EncodeSparse(text string) SparseVector {
	counts := make(map[uint32]float32)
	for _, tok := range Tokenize(text) {
		counts[hashTerm(tok)]++
	}
	if len(counts) == 0 {
		return SparseVector{}
	}
	sv := SparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx := range counts {
		sv.Indices = append(sv.Indices, idx)
	}
	sort.Slice(sv.Indices, func(i, j int) bool { return sv.Indices[i] < sv.Indices[j] })
	for _, idx := range sv.Indices {
		sv.Values = append(sv.Values, counts[idx])
	}
	return sv
}

func hashTerm(term string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(term))
	return h.Sum32()
}
