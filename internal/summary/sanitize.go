package summary

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// Model disclaimers such as "(Note: this is a machine summary)" or "[注: ...]".
	inlineDisclaimer = regexp.MustCompile(`(?i)[(\[（［]\s*(note|disclaimer|注|注意|※)\s*[:：][^)\]）］]*[)\]）］]`)
	lineDisclaimer   = regexp.MustCompile(`(?i)^\s*(note|disclaimer|注|注意|※)\s*[:：]`)
	summaryLabel     = regexp.MustCompile(`(?i)^\s*(要約|summary)\s*[:：]\s*`)
	listMarker       = regexp.MustCompile(`^\s*([-*・•]|\d+[.)．])\s+`)
)

// SanitizeSummary strips labels, list markers and model disclaimers and joins
// the remaining lines into one paragraph.
func SanitizeSummary(text string) string {
	text = inlineDisclaimer.ReplaceAllString(text, "")

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if lineDisclaimer.MatchString(line) {
			continue
		}
		line = summaryLabel.ReplaceAllString(line, "")
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), "*_`")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return joinLines(kept)
}

// joinLines glues lines directly when the break touches Japanese or Chinese
// text and puts a space between lines of spaced scripts.
func joinLines(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			last, _ := utf8.DecodeLastRuneInString(lines[i-1])
			first, _ := utf8.DecodeRuneInString(line)
			if !isCJK(last) && !isCJK(first) {
				b.WriteByte(' ')
			}
		}
		b.WriteString(line)
	}
	return b.String()
}

func isCJK(r rune) bool {
	switch {
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana):
		return true
	case r >= 0x3000 && r <= 0x303f: // CJK symbols and punctuation
		return true
	case r >= 0xff00 && r <= 0xffef: // halfwidth and fullwidth forms
		return true
	}
	return false
}
