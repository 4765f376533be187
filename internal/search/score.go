// file: internal/search/score.go
// version: 2.0.0
// guid: a1b2c3d4-e5f6-7890-abcd-ef1234567890

package search

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Distance scores how far target is from query on a 0..1 scale where 0 is
// an exact match and 1 is no match at all. Both inputs are expected to be
// normalized already.
//
// Tiers, best first: exact; substring (earlier and fuller coverage is
// better); in-order subsequence such as "mhmd" in "mohamed"; Levenshtein
// ratio against the whole target or any of its words.
func Distance(query, target string) float64 {
	if query == "" || target == "" {
		return 1
	}
	if query == target {
		return 0
	}

	qn := utf8.RuneCountInString(query)
	tn := utf8.RuneCountInString(target)
	best := 1.0

	if i := strings.Index(target, query); i >= 0 {
		pos := utf8.RuneCountInString(target[:i])
		best = 0.1*float64(pos)/float64(tn) + 0.1*(1-float64(qn)/float64(tn))
	}

	if best > 0.12 && qn <= tn && fuzzy.MatchFold(query, target) {
		best = math.Min(best, 0.12+0.15*(1-float64(qn)/float64(tn)))
	}

	best = math.Min(best, levenshtein(query, target))
	if words := strings.Fields(target); len(words) > 1 {
		for _, w := range words {
			best = math.Min(best, levenshtein(query, w))
		}
	}
	return best
}

func levenshtein(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	ratio := float64(fuzzy.LevenshteinDistance(a, b)) / float64(longest)
	return math.Min(1, 0.1+0.9*ratio)
}

// weighted applies a key weight to a distance. Lower weights push scores
// toward 1, so a hit on a heavy key outranks the same hit on a light one.
func weighted(d, weight float64) float64 {
	if d <= 0 {
		return 0
	}
	return math.Pow(d, weight)
}
