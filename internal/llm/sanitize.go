package llm

import (
	"regexp"
	"strings"
	"unicode"
)

// verificationThreshold is the answer length above which a missing citation
// earns the verification footer instead of being ignored.
const verificationThreshold = 50

const verificationFooter = "\n\nNote: this answer cites no specific transcript excerpts. Verify it against the source passages listed below before relying on it."

var thinkBlockRe = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)

// Sanitizer post-processes raw completions: it strips reasoning artifacts
// and junk characters, then filters answers that fail the grounding checks.
type Sanitizer struct {
	stripCJK bool
	patterns []string
}

// NewSanitizer builds a sanitizer. hallucinationPatterns is the blacklist of
// phrases that mark an uncited answer as fabricated; matching is
// case-insensitive.
func NewSanitizer(stripCJK bool, hallucinationPatterns []string) *Sanitizer {
	patterns := make([]string, len(hallucinationPatterns))
	for i, p := range hallucinationPatterns {
		patterns[i] = strings.ToLower(p)
	}
	return &Sanitizer{stripCJK: stripCJK, patterns: patterns}
}

// Sanitize cleans a raw completion and applies the grounding checks. An
// uncited answer matching the hallucination blacklist is replaced with the
// canonical no-information message; an uncited but substantive answer gets a
// verification footer appended.
func (s *Sanitizer) Sanitize(raw string) string {
	text := thinkBlockRe.ReplaceAllString(raw, "")
	text = s.stripRunes(text)
	text = collapseBlankLines(text)
	text = strings.TrimSpace(text)

	if text == "" {
		return NoRelevantInformation
	}

	cited := strings.Contains(text, "[#")
	if !cited && s.matchesHallucination(text) {
		return NoRelevantInformation
	}
	if !cited && len(text) > verificationThreshold {
		text += verificationFooter
	}
	return text
}

func (s *Sanitizer) stripRunes(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if s.stripCJK && isCJK(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Sanitizer) matchesHallucination(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range s.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func collapseBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
