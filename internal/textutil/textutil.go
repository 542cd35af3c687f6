// Package textutil holds the text normalization rules shared by extraction and scoring.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MinContentLength = 80
	MinUniqueTokens  = MinContentLength / 8
)

// CollapseWhitespace replaces every whitespace run with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeForMatch applies NFKC, collapses whitespace and lowercases.
func NormalizeForMatch(s string) string {
	return strings.ToLower(CollapseWhitespace(norm.NFKC.String(s)))
}

// Tokens splits s on punctuation and whitespace and returns normalized tokens
// longer than one character.
func Tokens(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	out := parts[:0]
	for _, p := range parts {
		tok := NormalizeForMatch(p)
		if utf8.RuneCountInString(tok) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

// HasSufficientContent reports whether s is long and varied enough to be an article body.
func HasSufficientContent(s string) bool {
	trimmed := strings.TrimSpace(s)
	if utf8.RuneCountInString(trimmed) < MinContentLength {
		return false
	}
	unique := make(map[string]struct{})
	for _, tok := range Tokens(trimmed) {
		unique[tok] = struct{}{}
		if len(unique) >= MinUniqueTokens {
			return true
		}
	}
	return false
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// CountOccurrences counts non-overlapping matches of needle in haystack.
func CountOccurrences(haystack, needle string) int {
	if needle == "" {
		return 0
	}
	return strings.Count(haystack, needle)
}
