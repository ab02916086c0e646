package matching

import (
	"context"
	"fmt"
	"math"
	"strings"

	"procureiq/internal/domain"
)

// FuzzyMatcher scores the raw string against candidate names and aliases
// locally: exact 100, substring 85, otherwise Levenshtein similarity scaled
// to 80.
type FuzzyMatcher struct{}

func (FuzzyMatcher) Method() domain.MatchMethod { return domain.MethodFuzzy }

func (FuzzyMatcher) Score(ctx context.Context, req Request) (domain.MatchResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.MatchResult{}, unavailable("%v", err)
	}
	raw := normalize(req.RawVendor)
	if raw == "" {
		return domain.MatchResult{}, unavailable("empty vendor string")
	}
	if len(req.Candidates) == 0 {
		return domain.MatchResult{}, unavailable("no candidates")
	}
	best, bestScore, bestName := int64(0), -1, ""
	for _, c := range req.Candidates {
		for _, name := range append([]string{c.Name}, c.Aliases...) {
			s := NameScore(raw, name)
			if s > bestScore {
				best, bestScore, bestName = c.VendorID, s, name
			}
		}
	}
	id := best
	return domain.MatchResult{
		Confidence: bestScore,
		Reasoning:  fmt.Sprintf("fuzzy: %q ~ %q", req.RawVendor, bestName),
		VendorID:   &id,
	}, nil
}

// NameScore compares two vendor names after normalization.
func NameScore(a, b string) int {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 85
	}
	return int(math.Round(similarity(a, b) * 80))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// similarity is 1 - levenshtein/maxlen over runes.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
