// Package ingestion handles document processing: chunking, speaker
// segmentation, and pipeline orchestration.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pacifichansard/rag/internal/repository"
)

// Chunking strategies.
const (
	StrategyParagraph = "paragraph"
	StrategySpeaker   = "speaker"
)

// Default chunking parameters, tuned for parliamentary transcripts.
const (
	DefaultMaxChars           = 4000 // ~1000 tokens
	DefaultOverlapChars       = 480  // ~120 tokens
	DefaultMinTopicSplitChars = 500

	// Chunks above forceSplitTolerance * MaxChars are cut into hard windows.
	forceSplitTolerance = 1.5
	// When force-splitting, a window end may move back up to this many
	// characters to land on a space.
	spaceLookback = 100
)

// Chunk is the unit of retrieval produced from a document.
type Chunk struct {
	ChunkID       string
	DocID         string
	ChunkIndex    int
	Speaker       string
	Text          string
	TokenEstimate int
	ContentHash   string

	// Denormalized document metadata, carried on every chunk.
	Date    string
	Country string
	Chamber string
	Title   string
	URL     string
}

// ChunkerConfig holds chunking configuration
type ChunkerConfig struct {
	Strategy           string // paragraph | speaker
	MaxChars           int
	OverlapChars       int
	MinTopicSplitChars int
}

// Chunker splits Hansard documents into size-bounded, overlapping chunks
// with stable ids. It is deterministic: the same document always produces
// the same chunks.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a new Chunker with the given configuration
func NewChunker(config ChunkerConfig) *Chunker {
	if config.MaxChars <= 0 {
		config.MaxChars = DefaultMaxChars
	}
	if config.OverlapChars <= 0 {
		config.OverlapChars = DefaultOverlapChars
	}
	if config.MinTopicSplitChars <= 0 {
		config.MinTopicSplitChars = DefaultMinTopicSplitChars
	}
	if config.Strategy == "" {
		config.Strategy = StrategyParagraph
	}
	return &Chunker{config: config}
}

// Chunk splits a document into chunks. Whitespace-only content yields no
// chunks and no error. Chunk indexes are dense (0..N-1) and chunk ids are
// "{doc_id}_{index}".
func (c *Chunker) Chunk(doc *repository.Document) []Chunk {
	segments := c.segment(doc)

	var chunks []Chunk
	for _, seg := range segments {
		for _, piece := range c.split(seg.text) {
			for _, text := range c.forceSplit(piece) {
				chunks = append(chunks, Chunk{Speaker: seg.speaker, Text: text})
			}
		}
	}

	docID := doc.ID.String()
	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].ChunkID = fmt.Sprintf("%s_%d", docID, i)
		chunks[i].DocID = docID
		chunks[i].TokenEstimate = len(chunks[i].Text) / 4 // ~4 chars per token
		chunks[i].ContentHash = HashText(chunks[i].Text)
		chunks[i].Date = doc.Date
		chunks[i].Country = doc.Country
		chunks[i].Chamber = doc.Chamber
		chunks[i].Title = doc.Title
		chunks[i].URL = doc.URL
	}
	return chunks
}

type segment struct {
	speaker string
	text    string
}

// segment applies the configured strategy to the raw content. The speaker
// strategy pre-splits on titled speaker lines; the paragraph strategy keeps
// the document whole and labels chunks with the document's speaker hint.
func (c *Chunker) segment(doc *repository.Document) []segment {
	fallback := doc.SpeakerHint
	if fallback == "" {
		fallback = "Unknown Speaker"
	}

	if c.config.Strategy != StrategySpeaker {
		return []segment{{speaker: fallback, text: doc.Content}}
	}

	segments := splitSpeakerSegments(doc.Content)
	for i := range segments {
		if segments[i].speaker == "" {
			segments[i].speaker = fallback
		}
	}
	return segments
}

// speakerLineRe matches titled speaker attributions such as
// "MR. BROWN:", "HON. T. PUPUKE BROWNE:" or "MADAM SPEAKER:".
var speakerLineRe = regexp.MustCompile(`\b(?:(?:MR|MRS|MS|HON|DR)\.?|MADAM|SIR)(?:\s+[A-Z][A-Z.'\-]*)+\s*:`)

// speakerLineStartRe is the anchored form used for topic-transition checks.
var speakerLineStartRe = regexp.MustCompile(`^(?:(?:MR|MRS|MS|HON|DR)\.?|MADAM|SIR)(?:\s+[A-Z][A-Z.'\-]*)+\s*:`)

// splitSpeakerSegments cuts content at titled speaker lines. Text before the
// first speaker is attributed to "Document Header". When no speaker line is
// present, a single unlabeled segment is returned.
func splitSpeakerSegments(content string) []segment {
	locs := speakerLineRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return []segment{{text: content}}
	}

	var segments []segment
	if head := content[:locs[0][0]]; strings.TrimSpace(head) != "" {
		segments = append(segments, segment{speaker: "Document Header", text: head})
	}
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		label := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content[loc[0]:loc[1]]), ":"))
		segments = append(segments, segment{speaker: label, text: content[loc[1]:end]})
	}
	return segments
}

var paragraphSepRe = regexp.MustCompile(`\n\s*\n`)

// split chunks a single segment of content. Multi-paragraph content uses the
// paragraph strategy with topic-transition detection; single-paragraph
// content falls back to sentence accumulation.
func (c *Chunker) split(content string) []string {
	var paragraphs []string
	for _, p := range paragraphSepRe.Split(content, -1) {
		if n := normalizeWhitespace(p); n != "" {
			paragraphs = append(paragraphs, n)
		}
	}
	if len(paragraphs) == 0 {
		return nil
	}
	if len(paragraphs) > 1 {
		return c.chunkParagraphs(paragraphs)
	}
	return c.chunkSentences(paragraphs[0])
}

// chunkParagraphs accumulates paragraphs into chunks, splitting on size and
// on topic transitions. Size splits carry a word-aligned overlap suffix into
// the next chunk; topic splits start the next chunk cleanly at the new topic.
func (c *Chunker) chunkParagraphs(paragraphs []string) []string {
	var out []string
	var current string

	for i, para := range paragraphs {
		if current == "" {
			current = para
			continue
		}

		transition := c.isTopicTransition(paragraphs[i-1], para)
		newSize := len(current) + 2 + len(para)

		topicSplit := transition && len(current) > c.config.MinTopicSplitChars
		if newSize > c.config.MaxChars || topicSplit {
			out = append(out, current)
			if topicSplit {
				current = para
			} else if suffix := overlapSuffix(current, c.config.OverlapChars); suffix != "" {
				current = suffix + "\n\n" + para
			} else {
				current = para
			}
			continue
		}

		current += "\n\n" + para
	}

	if current != "" {
		out = append(out, current)
	}
	return out
}

// chunkSentences accumulates sentences into chunks with the same size and
// overlap rules as the paragraph strategy, joined by single spaces.
func (c *Chunker) chunkSentences(content string) []string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var out []string
	var current string

	for _, sentence := range sentences {
		if current == "" {
			current = sentence
			continue
		}

		if len(current)+1+len(sentence) > c.config.MaxChars {
			out = append(out, current)
			if suffix := overlapSuffix(current, c.config.OverlapChars); suffix != "" {
				current = suffix + " " + sentence
			} else {
				current = sentence
			}
			continue
		}

		current += " " + sentence
	}

	if current != "" {
		out = append(out, current)
	}
	return out
}

// forceSplit guarantees the chunk size bound. Chunks within tolerance pass
// through untouched; oversized chunks are cut into windows of at most
// MaxChars, each window ending on the last space within the look-back range
// and consecutive windows overlapping by OverlapChars.
func (c *Chunker) forceSplit(text string) []string {
	if len(text) <= int(forceSplitTolerance*float64(c.config.MaxChars)) {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(text) {
		end := start + c.config.MaxChars
		if end >= len(text) {
			if piece := strings.TrimSpace(text[start:]); piece != "" {
				out = append(out, piece)
			}
			break
		}

		cut := end
		lookback := end - spaceLookback
		if lookback < start {
			lookback = start
		}
		if idx := strings.LastIndexByte(text[lookback:end], ' '); idx >= 0 && lookback+idx > start {
			cut = lookback + idx
		} else {
			for cut > start+1 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}

		if piece := strings.TrimSpace(text[start:cut]); piece != "" {
			out = append(out, piece)
		}

		next := cut - c.config.OverlapChars
		if next <= start {
			next = cut
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return out
}

// Explicit phrases and structural markers that open a new topic. Matched as
// lowercase prefixes of the paragraph.
var transitionPhrases = []string{
	"moving to a completely different topic",
	"moving on to",
	"next item on the agenda",
	"another matter",
	"different subject",
	"separate issue",
	"unrelated matter",
	"turning now to",
	"clause ",
	"section ",
	"part ",
	"schedule ",
}

// topicVocabulary is the closed keyword set used for the shared-keyword
// transition rule.
var topicVocabulary = map[string]bool{
	"mining": true, "seabed": true, "minerals": true, "nodules": true,
	"fisheries": true, "tuna": true, "ocean": true,
	"climate": true, "environment": true, "conservation": true,
	"budget": true, "appropriation": true, "tax": true, "revenue": true,
	"education": true, "health": true, "hospital": true, "school": true,
	"infrastructure": true, "tourism": true, "agriculture": true,
	"land": true, "housing": true, "transport": true,
	"governance": true, "election": true, "constitution": true,
	"treaty": true, "trade": true, "immigration": true,
}

// isTopicTransition reports whether cur opens a new topic relative to prev:
// an explicit transition phrase or structural marker, a speaker line, or a
// topical-keyword disjunction where cur contributes at least two keywords
// and shares none with prev.
func (c *Chunker) isTopicTransition(prev, cur string) bool {
	lower := strings.ToLower(cur)
	for _, phrase := range transitionPhrases {
		if strings.HasPrefix(lower, phrase) {
			return true
		}
	}

	if speakerLineStartRe.MatchString(cur) {
		return true
	}

	curKeywords := topicKeywords(cur)
	if len(curKeywords) < 2 {
		return false
	}
	prevKeywords := topicKeywords(prev)
	for k := range curKeywords {
		if prevKeywords[k] {
			return false
		}
	}
	return true
}

// topicKeywords returns the topical vocabulary words present in text.
func topicKeywords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if topicVocabulary[w] {
			out[w] = true
		}
	}
	return out
}

// overlapSuffix returns the longest word-aligned suffix of text whose length
// does not exceed limit.
func overlapSuffix(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	words := strings.Fields(text)
	size := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		add := len(words[i])
		if size > 0 {
			add++ // joining space
		}
		if size+add > limit {
			break
		}
		size += add
		start = i
	}
	if start == len(words) {
		return ""
	}
	return strings.Join(words[start:], " ")
}

// splitSentences splits normalized text after terminal punctuation followed
// by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// normalizeWhitespace trims text and collapses whitespace runs to single
// spaces.
func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// HashText returns the hex SHA-256 digest of text. It depends on nothing but
// its input, so identical chunk text always hashes identically.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
