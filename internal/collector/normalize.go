package collector

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// numericLiteral's leading group keeps $n placeholders and identifiers intact.
var (
	stringLiteral  = regexp.MustCompile(`'(?:''|[^'])*'`)
	numericLiteral = regexp.MustCompile(`(^|[^\w$.])\d+(?:\.\d+)?\b`)
)

// truncMarker is appended to query text cut at the length limit.
const truncMarker = "..."

// Normalize collapses whitespace and replaces string and numeric literals
// with "?". With full set the text is kept as reported. Either way the
// result is cut to maxLen runes (0 means unlimited) with a trailing marker.
func Normalize(query string, maxLen int, full bool) string {
	q := query
	if !full {
		q = strings.Join(strings.Fields(q), " ")
		q = stringLiteral.ReplaceAllString(q, "?")
		q = numericLiteral.ReplaceAllString(q, "${1}?")
	}
	return truncate(q, maxLen)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	keep := max(maxLen-len(truncMarker), 0)
	runes := []rune(s)
	return string(runes[:keep]) + truncMarker
}
