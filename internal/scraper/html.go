package scraper

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/deusflow/cbnews/internal/textutil"
)

var (
	sectionStartPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<div[^>]+class=["'][^"']*article-body[^"']*["'][^>]*>`),
		regexp.MustCompile(`(?i)<div[^>]+class=["'][^"']*body__inner[^"']*["'][^>]*>`),
		regexp.MustCompile(`(?i)<article[^>]*>`),
		regexp.MustCompile(`(?i)<main[^>]*>`),
	}
	sectionEndPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<div[^>]+class=["'][^"']*article-related[^"']*["'][^>]*>`),
		regexp.MustCompile(`(?i)<div[^>]+class=["'][^"']*relatedArticles[^"']*["'][^>]*>`),
		regexp.MustCompile(`(?i)<div[^>]+class=["'][^"']*articleFooter[^"']*["'][^>]*>`),
		regexp.MustCompile(`(?i)<footer[^>]*>`),
		regexp.MustCompile(`(?i)</article>`),
		regexp.MustCompile(`(?i)</main>`),
	}

	readMoreLabel = regexp.MustCompile(`(?i)続きを読む|read more`)
)

const displayModeParam = "display=1"

// Generic paragraph selectors, most specific first.
var paragraphSelectors = []string{
	".article-body p",
	".article-content p",
	".post-content p",
	".entry-content p",
	"article p",
	"main p",
	"#content p",
	"p",
}

// ExtractArticleSection returns the raw HTML between the first recognised
// article-body start marker and the earliest end marker after it.
func ExtractArticleSection(page string) string {
	for _, start := range sectionStartPatterns {
		loc := start.FindStringIndex(page)
		if loc == nil {
			continue
		}
		rest := page[loc[0]:]

		end := -1
		for _, endPattern := range sectionEndPatterns {
			if m := endPattern.FindStringIndex(rest); m != nil && (end == -1 || m[0] < end) {
				end = m[0]
			}
		}

		snippet := rest
		if end != -1 {
			snippet = rest[:end]
		}
		if strings.TrimSpace(snippet) != "" {
			return snippet
		}
	}
	return ""
}

// StripHTML drops script, style and comment content, removes tags, decodes
// entities and collapses whitespace.
func StripHTML(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return textutil.CollapseWhitespace(b.String())
		case html.StartTagToken:
			if isRawTextTag(z) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			if isRawTextTag(z) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawTextTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Noscript:
		return true
	}
	return false
}

// FindReadMoreLink returns the absolute URL of a "read more" link. Links
// carrying the display=1 parameter win; a label match alone is the last resort.
func FindReadMoreLink(doc *goquery.Document, base *url.URL) string {
	var labelled, anyDisplay, labelOnly string

	doc.Find("a[href]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		label := strings.ToLower(textutil.CollapseWhitespace(s.Text()))
		matches := readMoreLabel.MatchString(label)

		if strings.Contains(href, displayModeParam) {
			if label == "" || matches {
				labelled = href
				return false
			}
			if anyDisplay == "" {
				anyDisplay = href
			}
			return true
		}
		if matches && labelOnly == "" {
			labelOnly = href
		}
		return true
	})

	for _, href := range []string{labelled, anyDisplay, labelOnly} {
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.Scheme == "http" || ref.Scheme == "https" {
			return ref.String()
		}
	}
	return ""
}

// PrimaryImage reads the Open Graph or Twitter card image.
func PrimaryImage(doc *goquery.Document) string {
	selectors := []string{
		`meta[property="og:image"]`,
		`meta[name="og:image"]`,
		`meta[name="twitter:image"]`,
		`meta[property="twitter:image"]`,
	}
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if content = strings.TrimSpace(content); content != "" {
				return content
			}
		}
	}
	return ""
}

// paragraphText joins paragraphs from the first selector that yields at least
// three of them.
func paragraphText(doc *goquery.Document) string {
	for _, selector := range paragraphSelectors {
		var paragraphs []string
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			text := textutil.CollapseWhitespace(s.Text())
			if len([]rune(text)) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= 3 {
			return strings.Join(paragraphs, " ")
		}
	}
	return ""
}
