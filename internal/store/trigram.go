package store

import "strings"

// trigrams extracts the set of letter trigrams from text the way pg_trgm
// does: lowercase words padded with two leading and one trailing space.
func trigrams(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		padded := "  " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			set[string(runes[i:i+3])] = struct{}{}
		}
	}
	return set
}

// trigramSimilarity returns the Jaccard similarity of the trigram sets of
// a and b, in [0, 1]. Mirrors pg_trgm's similarity() closely enough for the
// embedded backend to honor the same score contract.
func trigramSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
