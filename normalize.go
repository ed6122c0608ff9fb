package academick

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeTitle folds case and compatibility forms, replaces punctuation
// with spaces and collapses whitespace. Two titles that differ only in
// case, ligatures, dashes or spacing normalize to the same string.
func NormalizeTitle(s string) string {
	s = folder.String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// MatchBooks resolves name against known book names. An exact normalized
// match wins; otherwise every book whose normalized name contains the
// normalized name matches; otherwise the single most similar name scoring
// at least threshold. Matches keep the order of known.
func MatchBooks(name string, known []string, threshold float64) []string {
	target := NormalizeTitle(name)
	if target == "" {
		return nil
	}
	var contains []string
	best, bestScore := "", 0.0
	for _, k := range known {
		n := NormalizeTitle(k)
		if n == target {
			return []string{k}
		}
		if strings.Contains(n, target) {
			contains = append(contains, k)
		}
		if s := Similarity(target, n); s > bestScore {
			best, bestScore = k, s
		}
	}
	if len(contains) > 0 {
		return contains
	}
	if bestScore >= threshold {
		return []string{best}
	}
	return nil
}

// MatchBook is MatchBooks reduced to one name: the first match.
func MatchBook(name string, known []string, threshold float64) (string, bool) {
	m := MatchBooks(name, known, threshold)
	if len(m) == 0 {
		return "", false
	}
	return m[0], true
}

// Similarity returns 1 - levenshtein(a, b)/max(len(a), len(b)) over runes.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
