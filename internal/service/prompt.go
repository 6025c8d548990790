package service

import (
	"fmt"
	"strings"

	"github.com/pacifichansard/rag/internal/llm"
	"github.com/pacifichansard/rag/internal/retrieval"
)

// answerPreamble fixes the assistant role and requires an explicit decline,
// using the exact canonical message, when the excerpts do not address the
// question. Answering from general knowledge is forbidden.
const answerPreamble = "You are a research assistant answering questions about parliamentary proceedings " +
	"from Pacific Island nations. Answer using only the numbered Hansard excerpts below.\n\n" +
	"First check whether the excerpts actually address the question. If none of them are " +
	"relevant, reply with exactly this sentence and nothing else:\n" +
	"\"" + llm.NoRelevantInformation + "\"\n" +
	"Do not answer from general knowledge."

// answerFormat is the response scaffold the model is asked to follow, plus
// the citation rules. Excerpt numbers in citations must be ones that appear
// in the context block.
const answerFormat = "Structure your answer with these sections:\n\n" +
	"**Executive Summary** - two or three sentences giving the direct answer.\n" +
	"**Key Findings** - the main facts as bullet points, each with its citation.\n" +
	"**Analysis** - what the excerpts show about positions, decisions, or trends.\n" +
	"**Perspectives** - differing views across speakers or countries, where they appear.\n" +
	"**Status** - where the matter stands as of the most recent excerpt.\n\n" +
	"Citation rules:\n" +
	"- Place the excerpt's bracketed number, e.g. [#0] or [#2], immediately after each claim it supports.\n" +
	"- Use only excerpt numbers that appear above. Never invent a number.\n" +
	"- Omit any claim that no excerpt supports."

// buildAnswerPrompt assembles the full generation prompt for a question and
// its selected excerpts. Each excerpt is rendered as a numbered block with a
// metadata header line; the numbers are the zero-based positions within the
// selection, and they are the indices a well-grounded answer cites back.
func buildAnswerPrompt(question string, excerpts []retrieval.Result) string {
	var sb strings.Builder

	sb.WriteString(answerPreamble)
	sb.WriteString("\n\n## Excerpts\n\n")

	for i, ex := range excerpts {
		sb.WriteString(fmt.Sprintf("[#%d] Speaker: %s | Date: %s | Country: %s\n",
			i, orUnknown(ex.Speaker), orUnknown(ex.Date), orUnknown(ex.Country)))
		sb.WriteString(ex.Text)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString(answerFormat)
	sb.WriteString("\n\n## Answer\n")

	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
