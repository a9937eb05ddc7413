package pattern

import "strings"

// SimilarityThreshold is the minimum intent similarity for two sessions
// to be considered the same recurring pattern.
const SimilarityThreshold = 0.55

// IntentSimilarity returns a normalized similarity in [0,1] between two
// intent strings: 2*LCS(a,b) / (len(a)+len(b)) over lowercased, trimmed
// input. Empty input scores 0, identical strings score 1.
func IntentSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return 2 * float64(lcsLength(a, b)) / float64(len(a)+len(b))
}

// lcsLength computes the longest-common-subsequence length with a
// two-row DP table. Intents are short strings, so quadratic time is fine
// at this scale.
func lcsLength(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
