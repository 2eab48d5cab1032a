// Package strutil provides string utility functions for the mcos packages.
package strutil

// Truncate truncates a string to a maximum length.
// Uses rune-level truncation to ensure Unicode safety (correct handling of
// multi-byte characters). Returns empty string if maxLen <= 0 to prevent
// slice bounds panic.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// EstimateTokens approximates the token count of s using the 4-chars-per-token
// heuristic. Never returns less than 1 for non-empty input.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := (len(s) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// TruncateTokens trims s so its estimated token count does not exceed max.
func TruncateTokens(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if EstimateTokens(s) <= max {
		return s
	}
	return Truncate(s, max*4)
}
