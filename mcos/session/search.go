package session

import (
	"sort"
	"strings"

	"github.com/hrygo/mnemo/mcos/memory"
)

// Search ranks resident turns by lightweight token overlap with the query.
// No embeddings are involved; this is the fast first tier before falling back
// to vector retrieval. An empty chatID searches all chats of the user.
func (s *Store) Search(userID, chatID, query string, k int) []memory.Turn {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	var candidates []memory.Turn
	if chatID != "" {
		candidates = s.Turns(userID, chatID)
	} else {
		for _, cid := range s.ChatIDs(userID) {
			candidates = append(candidates, s.Turns(userID, cid)...)
		}
	}

	type scored struct {
		turn  memory.Turn
		score float64
	}
	var hits []scored
	for _, t := range candidates {
		score := overlapScore(queryTokens, t.UserText) + overlapScore(queryTokens, t.AssistantText)
		if score > 0 {
			hits = append(hits, scored{turn: t, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		// Newer turns win ties.
		return hits[i].turn.CreatedAt > hits[j].turn.CreatedAt
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]memory.Turn, len(hits))
	for i, h := range hits {
		out[i] = h.turn
	}
	return out
}

// overlapScore counts query tokens present in text, with a bonus when the
// whole query appears as a substring.
func overlapScore(queryTokens []string, text string) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	var score float64
	for _, tok := range queryTokens {
		if strings.Contains(lower, tok) {
			score++
		}
	}
	if len(queryTokens) > 1 && strings.Contains(lower, strings.Join(queryTokens, " ")) {
		score += float64(len(queryTokens))
	}
	return score
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r > 127
}
