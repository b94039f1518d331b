package textutil

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeTitle lowercases a title, drops any series suffix in parentheses
// and collapses whitespace, "Dune (Dune, #1)" becomes "dune".
func NormalizeTitle(title string) string {
	title = strings.ToLower(title)
	if idx := strings.Index(title, "("); idx > 0 {
		title = title[:idx]
	}
	title = strings.Trim(title, " \n\t")
	title = whitespaceRegex.ReplaceAllString(title, " ")
	return title
}

// TitleSimilarity is the Jaro-Winkler similarity of two normalized titles,
// 1 means identical.
func TitleSimilarity(a, b string) float64 {
	na := NormalizeTitle(a)
	nb := NormalizeTitle(b)
	if na == nb {
		return 1
	}
	return matchr.JaroWinkler(na, nb, false)
}

// SameTitle reports whether two titles name the same book.
func SameTitle(a, b string) bool {
	return TitleSimilarity(a, b) >= 0.85
}
