package bridge

import "unicode/utf8"

// =============================================================================
// Token Estimation
// =============================================================================
// Token accounting is a heuristic calibrated at ~4 characters per token.
// Budgets carry a safety margin, so exact tokenization is not needed.

const charsPerToken = 4

// EstimateTokens estimates the token count of a string.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	// Rune count for proper unicode handling
	return utf8.RuneCountInString(s) / charsPerToken
}
