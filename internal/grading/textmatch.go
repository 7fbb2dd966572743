package grading

import "strings"

// normalize trims surrounding whitespace and casefolds. Grading is exact
// match after this; anything fuzzier belongs in a new strategy.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
