// Package summarize produces and advances rolling conversation summaries.
// The model path asks for strict JSON; when the model is unavailable or
// returns garbage, a three-level extraction fallback still moves the summary
// forward so uncovered turns are never stranded.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/model"
	"github.com/hrygo/mnemo/mcos/observability/logging"
)

// Source values recorded on produced summaries.
const (
	SourceLLM           = "llm"
	SourceFirstPara     = "fallback_first_para"
	SourceFirstSentence = "fallback_first_sentence"
	SourceTruncate      = "fallback_truncate"
)

// Request carries the inputs for one summarization run.
type Request struct {
	// Existing is the current rolling summary, nil for the first run.
	Existing *memory.RollingSummary
	// Turns are the uncovered turns, oldest first. Must be non-empty.
	Turns []memory.Turn
	// MaxRunes caps the produced summary length. Default 800.
	MaxRunes int
}

// Summarizer drives the model adapter to maintain rolling summaries.
type Summarizer struct {
	adapter model.Adapter
	logger  *logging.Logger
}

// New creates a summarizer. A nil adapter always takes the fallback path.
func New(adapter model.Adapter, logger *logging.Logger) *Summarizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Summarizer{adapter: adapter, logger: logger.WithField("component", "summarize")}
}

// Summarize produces the next rolling summary covering req.Turns. The
// returned summary's CoveredThroughSeq is the seq of the last input turn.
func (s *Summarizer) Summarize(ctx context.Context, req *Request) (*memory.RollingSummary, error) {
	if len(req.Turns) == 0 {
		return nil, memory.Invalidf("summarize called with no uncovered turns")
	}
	maxRunes := req.MaxRunes
	if maxRunes <= 0 {
		maxRunes = 800
	}
	lastSeq := req.Turns[len(req.Turns)-1].Seq

	if s.adapter != nil {
		raw, err := s.adapter.Summarize(ctx, buildPrompt(req.Existing, req.Turns, maxRunes))
		if err == nil {
			if sum, ok := parseResponse(raw); ok {
				sum.Text = truncateRunes(sum.Text, maxRunes)
				sum.CoveredThroughSeq = lastSeq
				sum.Source = SourceLLM
				return sum, nil
			}
			s.logger.Warn("summary response unparseable, falling back", "raw_len", len(raw))
		} else {
			s.logger.Warn("model summarize failed, falling back", "error", err)
		}
	}

	sum := fallback(req.Existing, req.Turns, maxRunes)
	sum.CoveredThroughSeq = lastSeq
	return sum, nil
}

func buildPrompt(existing *memory.RollingSummary, turns []memory.Turn, maxRunes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You maintain a rolling summary of a conversation.
Produce an updated summary of at most %d characters that merges the previous
summary with the new exchanges, and list up to 8 key facts worth remembering.
Return ONLY JSON: {"summary":"...","key_facts":["..."]}`, maxRunes)

	if existing != nil && existing.Text != "" {
		b.WriteString("\n\nPrevious summary:\n" + existing.Text)
		if len(existing.KeyFacts) > 0 {
			b.WriteString("\nPrevious key facts:\n- " + strings.Join(existing.KeyFacts, "\n- "))
		}
	}
	b.WriteString("\n\nNew exchanges:\n")
	for _, t := range turns {
		if t.UserText != "" {
			b.WriteString("user: " + t.UserText + "\n")
		}
		if t.AssistantText != "" {
			b.WriteString("assistant: " + t.AssistantText + "\n")
		}
	}
	return b.String()
}

func parseResponse(raw string) (*memory.RollingSummary, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed struct {
		Summary  string   `json:"summary"`
		KeyFacts []string `json:"key_facts"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil || parsed.Summary == "" {
		return nil, false
	}
	if len(parsed.KeyFacts) > 8 {
		parsed.KeyFacts = parsed.KeyFacts[:8]
	}
	return &memory.RollingSummary{Text: parsed.Summary, KeyFacts: parsed.KeyFacts}, true
}
