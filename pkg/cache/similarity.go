package cache

import (
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\w+`)

// Similarity returns the Jaccard index of the two strings' token sets,
// in [0, 1]. Tokens are word-boundary matches, case-folded. Two empty
// strings are identical (1.0); exactly one empty string scores 0.0.
func Similarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)

	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// Match pairs a candidate string with its similarity score.
type Match struct {
	Candidate string
	Score     float64
}

// FindSimilar scores each candidate against the target and returns those
// meeting the threshold, best first. Ties keep candidate input order.
func FindSimilar(target string, candidates []string, threshold float64) []Match {
	var matches []Match
	for _, c := range candidates {
		if score := Similarity(target, c); score >= threshold {
			matches = append(matches, Match{Candidate: c, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func tokenSet(s string) map[string]struct{} {
	tokens := tokenPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
