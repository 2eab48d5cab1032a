package summarize

import (
	"strings"

	"github.com/hrygo/mnemo/mcos/memory"
)

// fallback advances the summary without a model: the previous summary text is
// kept and the uncovered exchanges are compressed by extraction, degrading
// from first paragraph to first sentence to a rune-safe truncation.
func fallback(existing *memory.RollingSummary, turns []memory.Turn, maxRunes int) *memory.RollingSummary {
	content := renderTranscript(turns)

	var extracted, source string
	switch {
	case firstParagraph(content) != "":
		extracted, source = firstParagraph(content), SourceFirstPara
	case firstSentence(content) != "":
		extracted, source = firstSentence(content), SourceFirstSentence
	default:
		extracted, source = content, SourceTruncate
	}

	text := extracted
	var facts []string
	if existing != nil && existing.Text != "" {
		text = existing.Text + "\n" + extracted
		facts = append(facts, existing.KeyFacts...)
	}

	return &memory.RollingSummary{
		Text:     truncateRunes(text, maxRunes),
		KeyFacts: facts,
		Source:   source,
	}
}

func renderTranscript(turns []memory.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.UserText != "" {
			b.WriteString(t.UserText + "\n")
		}
		if t.AssistantText != "" {
			b.WriteString(t.AssistantText + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func firstParagraph(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstSentence(content string) string {
	line := firstParagraph(content)
	if line == "" {
		return ""
	}
	for _, marker := range []string{".", "?", "!", "。", "？", "！"} {
		if idx := strings.Index(line, marker); idx >= 0 {
			return line[:idx+len(marker)]
		}
	}
	return line
}

func truncateRunes(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
