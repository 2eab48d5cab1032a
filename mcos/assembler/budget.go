package assembler

import (
	"github.com/hrygo/mnemo/mcos/internal/strutil"
	"github.com/hrygo/mnemo/mcos/memory"
)

// applyBudget trims the bundle to the token cap. Trim order, lowest priority
// first: lower-ranked retrieved chunks, background text, oldest recent turns
// (never below two), rolling summary down to its trimmed cap. The profile's
// identity fields and the user message are never dropped.
func (a *Assembler) applyBudget(bundle *ContextBundle, background, userMessage string) {
	tokenCap := a.cfg.TokenCap

	used := func() int {
		total := strutil.EstimateTokens(userMessage)
		total += strutil.EstimateTokens(bundle.ProfileText)
		total += strutil.EstimateTokens(background)
		total += strutil.EstimateTokens(bundle.RollingSummary)
		for _, f := range bundle.KeyFacts {
			total += strutil.EstimateTokens(f)
		}
		for _, t := range bundle.RecentTurns {
			total += turnTokens(t)
		}
		for _, c := range bundle.RetrievedChunks {
			total += strutil.EstimateTokens(c.Content)
		}
		for _, c := range bundle.DocumentChunks {
			total += strutil.EstimateTokens(c.Content)
		}
		return total
	}

	// 1. Drop lower-ranked retrieved chunks.
	for used() > tokenCap && len(bundle.RetrievedChunks) > 1 {
		bundle.RetrievedChunks = bundle.RetrievedChunks[:len(bundle.RetrievedChunks)-1]
	}

	// 2. Truncate background.
	if used() > tokenCap && background != "" {
		over := used() - tokenCap
		keep := strutil.EstimateTokens(background) - over
		if keep < 0 {
			keep = 0
		}
		background = strutil.TruncateTokens(background, keep)
	}

	// 3. Drop oldest recent turns, keeping at least two.
	for used() > tokenCap && len(bundle.RecentTurns) > 2 {
		bundle.RecentTurns = bundle.RecentTurns[1:]
	}

	// 4. Trim the rolling summary.
	if used() > tokenCap {
		bundle.RollingSummary = strutil.TruncateTokens(bundle.RollingSummary, a.cfg.SummaryTokenCap)
	}

	if background != "" {
		if bundle.ProfileText != "" {
			bundle.ProfileText += " "
		}
		bundle.ProfileText += "Background: " + background
	}
	bundle.TokenBudget.Used = a.countBundle(bundle, userMessage)
}

func (a *Assembler) countBundle(bundle *ContextBundle, userMessage string) int {
	total := strutil.EstimateTokens(userMessage)
	total += strutil.EstimateTokens(bundle.ProfileText)
	total += strutil.EstimateTokens(bundle.RollingSummary)
	for _, f := range bundle.KeyFacts {
		total += strutil.EstimateTokens(f)
	}
	for _, t := range bundle.RecentTurns {
		total += turnTokens(t)
	}
	for _, c := range bundle.RetrievedChunks {
		total += strutil.EstimateTokens(c.Content)
	}
	for _, c := range bundle.DocumentChunks {
		total += strutil.EstimateTokens(c.Content)
	}
	return total
}

func turnTokens(t memory.Turn) int {
	return strutil.EstimateTokens(t.UserText) + strutil.EstimateTokens(t.AssistantText)
}
