// Package injection scores request text for prompt-injection attempts.
//
// Scoring is cumulative across all matching patterns, capped at 1.0, and
// evaluated against a caller-supplied threshold (spec.md §4.4). Matching is
// case-insensitive; the corpus is lowercased once up front rather than
// compiling case-insensitive regexes, matching the teacher's
// pkg/guardrails/pii.go convention of pre-normalizing input before applying
// a fixed pattern table.
package injection

import "strings"

// Match records one pattern hit against the scored text.
type Match struct {
	PatternID string
	Category  Category
	Weight    float64
}

// Result is the outcome of scoring a piece of text.
type Result struct {
	Score   float64
	Matches []Match
}

// Blocked reports whether the score meets or exceeds threshold.
func (r Result) Blocked(threshold float64) bool {
	return r.Score >= threshold
}

// Score evaluates text against the fixed pattern table, returning the
// cumulative weighted score (capped at 1.0) and every pattern that matched.
// A pattern contributes its full weight once per call regardless of how many
// times it matches within text.
func Score(text string) Result {
	lower := strings.ToLower(text)

	var res Result
	for _, p := range patterns {
		if p.re.MatchString(lower) {
			res.Matches = append(res.Matches, Match{
				PatternID: p.ID,
				Category:  p.Category,
				Weight:    p.Weight,
			})
			res.Score += p.Weight
		}
	}
	if res.Score > 1.0 {
		res.Score = 1.0
	}
	return res
}
