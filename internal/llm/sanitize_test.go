package llm

import (
	"strings"
	"testing"
)

var testPatterns = []string{
	"education grant",
	"scholarship scheme",
	"as an AI",
}

func TestSanitizeStripsThinkBlocks(t *testing.T) {
	s := NewSanitizer(false, testPatterns)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "think block",
			raw:  "<think>reasoning about seabed mining</think>The House debated the bill. [#0]",
			want: "The House debated the bill. [#0]",
		},
		{
			name: "thinking block",
			raw:  "<thinking>\nmulti\nline\n</thinking>\nThe motion passed. [#1]",
			want: "The motion passed. [#1]",
		},
		{
			name: "no block",
			raw:  "The motion passed. [#1]",
			want: "The motion passed. [#1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.raw); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSanitizeRemovesControlCharacters(t *testing.T) {
	s := NewSanitizer(false, testPatterns)
	got := s.Sanitize("The vote\x00 was\x07 carried. [#0]\nAyes: 12.\tNoes: 3.")
	want := "The vote was carried. [#0]\nAyes: 12.\tNoes: 3."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitizeCJKStripping(t *testing.T) {
	raw := "The treaty 条約 was ratified. [#2]"

	kept := NewSanitizer(false, testPatterns).Sanitize(raw)
	if !strings.Contains(kept, "条約") {
		t.Errorf("CJK should survive when stripping is off: %q", kept)
	}

	stripped := NewSanitizer(true, testPatterns).Sanitize(raw)
	if strings.Contains(stripped, "条約") {
		t.Errorf("CJK should be removed when stripping is on: %q", stripped)
	}
	if !strings.Contains(stripped, "The treaty") {
		t.Errorf("latin text lost during CJK strip: %q", stripped)
	}
}

func TestSanitizeCollapsesBlankLines(t *testing.T) {
	s := NewSanitizer(false, testPatterns)
	raw := "Summary line. [#0]\n\n\n\nKey findings follow. [#1]\n   \n\t\nFinal line. [#2]"
	want := "Summary line. [#0]\n\nKey findings follow. [#1]\n\nFinal line. [#2]"
	if got := s.Sanitize(raw); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitizeHallucinationFilter(t *testing.T) {
	s := NewSanitizer(false, testPatterns)

	// Blacklisted phrase with no citation marker is replaced wholesale.
	raw := "The Education Grant of $5 million was approved for all outer island schools last session."
	if got := s.Sanitize(raw); got != NoRelevantInformation {
		t.Errorf("expected canonical no-information message, got %q", got)
	}

	// The same phrase with a citation is left alone.
	cited := "The education grant was discussed. [#0]"
	if got := s.Sanitize(cited); got != cited {
		t.Errorf("cited answer should pass through, got %q", got)
	}
}

func TestSanitizeVerificationFooter(t *testing.T) {
	s := NewSanitizer(false, testPatterns)

	long := "The House considered the appropriation bill at length during the June sitting."
	got := s.Sanitize(long)
	if !strings.HasPrefix(got, long) || !strings.Contains(got, "Verify it against the source passages") {
		t.Errorf("substantive uncited answer should carry the footer, got %q", got)
	}

	short := "Yes, it passed."
	if got := s.Sanitize(short); got != short {
		t.Errorf("short answer should not carry the footer, got %q", got)
	}

	cited := "The appropriation bill passed its second reading on 14 June. [#0]"
	if got := s.Sanitize(cited); got != cited {
		t.Errorf("cited answer should not carry the footer, got %q", got)
	}
}

func TestSanitizeEmptyAfterCleaning(t *testing.T) {
	s := NewSanitizer(false, testPatterns)
	if got := s.Sanitize("<think>only reasoning</think>\n\n"); got != NoRelevantInformation {
		t.Errorf("empty cleaned answer should become the canonical message, got %q", got)
	}
}
