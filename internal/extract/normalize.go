package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	priceToken = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	byPrefix   = regexp.MustCompile(`(?i)^by\s+`)
)

// ParsePrice reads the first numeric token of text, rounded to 2 decimals.
// ok is false when no positive price is present.
func ParsePrice(text string) (float64, bool) {
	token := priceToken.FindString(text)
	if token == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", ""), 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return 0, false
	}
	return math.Round(v*100) / 100, true
}

// CollapseSpace trims s and folds internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

// StripByPrefix removes a leading "by " from an author line.
func StripByPrefix(author string) string {
	return strings.TrimSpace(byPrefix.ReplaceAllString(strings.TrimSpace(author), ""))
}

// FoldKey returns the comparison form of s: NFKC, case-folded, whitespace collapsed.
func FoldKey(s string) string {
	return cases.Fold().String(norm.NFKC.String(CollapseSpace(s)))
}

// DedupKey identifies a logical product by title and author.
func DedupKey(title, author string) string {
	return FoldKey(title) + "\x1f" + FoldKey(author)
}
