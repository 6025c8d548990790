package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pacifichansard/rag/internal/llm"
	"github.com/pacifichansard/rag/internal/retrieval"
)

func promptExcerpts() []retrieval.Result {
	return []retrieval.Result{
		{
			ChunkID: "d1_0", DocID: "d1", ChunkIndex: 0,
			Speaker: "HON. T. BROWN", Date: "2023-06-14", Country: "Cook Islands",
			Text: "The seabed minerals framework will be reviewed this session.",
		},
		{
			ChunkID: "d2_3", DocID: "d2", ChunkIndex: 3,
			Speaker: "MR. SPEAKER", Date: "2022-11-02", Country: "Fiji",
			Text: "Members debated the exploration licence conditions at length.",
		},
	}
}

func TestBuildAnswerPromptBlockFormat(t *testing.T) {
	prompt := buildAnswerPrompt("What is the seabed mining position?", promptExcerpts())

	wantBlocks := []string{
		"[#0] Speaker: HON. T. BROWN | Date: 2023-06-14 | Country: Cook Islands\n" +
			"The seabed minerals framework will be reviewed this session.\n\n",
		"[#1] Speaker: MR. SPEAKER | Date: 2022-11-02 | Country: Fiji\n" +
			"Members debated the exploration licence conditions at length.\n\n",
	}
	for _, block := range wantBlocks {
		if !strings.Contains(prompt, block) {
			t.Errorf("prompt missing block %q", block)
		}
	}
	if strings.Contains(prompt, "[#2]") {
		t.Error("prompt contains an index beyond the provided excerpts")
	}
}

func TestBuildAnswerPromptIndexesAreZeroBased(t *testing.T) {
	excerpts := make([]retrieval.Result, 5)
	for i := range excerpts {
		excerpts[i] = retrieval.Result{
			ChunkID: fmt.Sprintf("d_%d", i),
			Speaker: "HON. MEMBER", Date: "2023-01-01", Country: "Samoa",
			Text: fmt.Sprintf("Excerpt number %d.", i),
		}
	}

	prompt := buildAnswerPrompt("q", excerpts)
	for i := 0; i < 5; i++ {
		if !strings.Contains(prompt, fmt.Sprintf("[#%d] ", i)) {
			t.Errorf("prompt missing excerpt marker [#%d]", i)
		}
	}
}

func TestBuildAnswerPromptSectionOrder(t *testing.T) {
	prompt := buildAnswerPrompt("the question", promptExcerpts())

	preamble := strings.Index(prompt, "research assistant")
	excerpts := strings.Index(prompt, "## Excerpts")
	question := strings.Index(prompt, "## Question\nthe question")
	format := strings.Index(prompt, "**Executive Summary**")
	answer := strings.Index(prompt, "## Answer")

	for name, idx := range map[string]int{
		"preamble": preamble, "excerpts": excerpts, "question": question,
		"format": format, "answer": answer,
	} {
		if idx < 0 {
			t.Fatalf("prompt missing %s section", name)
		}
	}
	if !(preamble < excerpts && excerpts < question && question < format && format < answer) {
		t.Errorf("prompt sections out of order: preamble=%d excerpts=%d question=%d format=%d answer=%d",
			preamble, excerpts, question, format, answer)
	}
}

func TestBuildAnswerPromptResponseSections(t *testing.T) {
	prompt := buildAnswerPrompt("q", promptExcerpts())

	for _, section := range []string{
		"**Executive Summary**",
		"**Key Findings**",
		"**Analysis**",
		"**Perspectives**",
		"**Status**",
	} {
		if !strings.Contains(prompt, section) {
			t.Errorf("prompt missing response section %s", section)
		}
	}
}

func TestBuildAnswerPromptDeclineUsesCanonicalMessage(t *testing.T) {
	prompt := buildAnswerPrompt("q", promptExcerpts())
	if !strings.Contains(prompt, llm.NoRelevantInformation) {
		t.Error("prompt does not spell out the canonical decline message")
	}
}

func TestBuildAnswerPromptMissingMetadata(t *testing.T) {
	excerpts := []retrieval.Result{{ChunkID: "d_0", Text: "Some text."}}

	prompt := buildAnswerPrompt("q", excerpts)
	if !strings.Contains(prompt, "[#0] Speaker: Unknown | Date: Unknown | Country: Unknown\n") {
		t.Errorf("empty metadata not rendered as Unknown:\n%s", prompt)
	}
}
