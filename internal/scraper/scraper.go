// Package scraper fetches article pages and extracts clean body text and a lead image.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"github.com/deusflow/cbnews/internal/textutil"
)

const (
	MaxContentLength = 10000

	minFetchTimeout = 5 * time.Second
	maxFetchTimeout = 15 * time.Second
	maxPageBytes    = 5 << 20

	// A read-more page replaces a sufficient primary only with this many more characters.
	fallbackAdvantage = 200

	UserAgent = "cbnews-ingest/1.0"
)

// Extraction is the single shape every extractor result is normalized to.
type Extraction struct {
	Content  string
	Text     string
	ImageURL string
}

type Extractor struct {
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewExtractor clamps timeout to [5s, 15s].
func NewExtractor(timeout time.Duration, client *http.Client, log *slog.Logger) *Extractor {
	if timeout < minFetchTimeout {
		timeout = minFetchTimeout
	}
	if timeout > maxFetchTimeout {
		timeout = maxFetchTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{client: client, timeout: timeout, log: log}
}

type page struct {
	url  *url.URL
	html []byte
	doc  *goquery.Document
}

type attempt struct {
	page     *page
	content  string
	imageURL string
}

// Extract returns nil when the page cannot be fetched. It never fails.
func (e *Extractor) Extract(ctx context.Context, rawURL string) *Extraction {
	visited := make(map[string]struct{})

	primary := e.attemptPrimary(ctx, rawURL, visited)
	if primary.page == nil && primary.content == "" {
		return nil
	}
	primaryText := limitLength(primary.content)

	var fallbackText, fallbackImage string
	if primary.page != nil {
		if fb := e.followReadMore(ctx, primary.page, visited); fb != nil {
			fallbackText, fallbackImage = fb.content, fb.imageURL
		}
	}

	imageOr := func(img string) string {
		if img != "" {
			return img
		}
		return primary.imageURL
	}

	switch {
	case fallbackText != "" && (!textutil.HasSufficientContent(primaryText) || len([]rune(fallbackText)) > len([]rune(primaryText))+fallbackAdvantage):
		return buildResult(fallbackText, imageOr(fallbackImage))
	case textutil.HasSufficientContent(primaryText):
		return buildResult(primaryText, primary.imageURL)
	case fallbackText != "" && textutil.HasSufficientContent(fallbackText):
		return buildResult(fallbackText, imageOr(fallbackImage))
	default:
		return buildResult(primaryText, primary.imageURL)
	}
}

func (e *Extractor) attemptPrimary(ctx context.Context, rawURL string, visited map[string]struct{}) attempt {
	if !markVisited(visited, rawURL) {
		return attempt{}
	}
	p, err := e.fetchPage(ctx, rawURL)
	if err != nil {
		e.log.Warn("ingest.extract.failed", "url", rawURL, "error", err)
		return attempt{}
	}

	generic, image := genericCandidate(p)

	var sectionText string
	if section := ExtractArticleSection(string(p.html)); section != "" {
		sectionText = StripHTML(section)
	}

	content := generic
	if len([]rune(sectionText)) > len([]rune(content)) {
		content = sectionText
	}
	if image == "" && p.doc != nil {
		image = PrimaryImage(p.doc)
	}

	return attempt{page: p, content: content, imageURL: image}
}

func (e *Extractor) followReadMore(ctx context.Context, base *page, visited map[string]struct{}) *attempt {
	if base.doc == nil {
		return nil
	}
	next := FindReadMoreLink(base.doc, base.url)
	if next == "" || !markVisited(visited, next) {
		return nil
	}

	p, err := e.fetchPage(ctx, next)
	if err != nil {
		e.log.Warn("ingest.extract.read-more-failed", "url", next, "error", err)
		return nil
	}

	section := ExtractArticleSection(string(p.html))
	if section == "" {
		section = string(p.html)
	}
	text := StripHTML(section)
	if !textutil.HasSufficientContent(text) {
		return nil
	}

	var image string
	if p.doc != nil {
		image = PrimaryImage(p.doc)
	}
	return &attempt{page: p, content: limitLength(text), imageURL: image}
}

func (e *Extractor) fetchPage(ctx context.Context, rawURL string) (*page, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	// Many Japanese publishers still serve Shift_JIS or EUC-JP.
	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}

	p := &page{url: resp.Request.URL, html: raw}
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw)); err == nil {
		p.doc = doc
	}
	return p, nil
}

// genericCandidate runs readability and falls back to paragraph selectors.
func genericCandidate(p *page) (string, string) {
	article, err := readability.FromReader(bytes.NewReader(p.html), p.url)
	if err == nil {
		text := sanitizeContent(article.Content)
		if text == "" {
			text = sanitizeContent(article.Excerpt)
		}
		if text != "" {
			return text, article.Image
		}
	}
	if p.doc != nil {
		return paragraphText(p.doc), ""
	}
	return "", ""
}

func sanitizeContent(value string) string {
	if stripped := StripHTML(value); stripped != "" {
		return stripped
	}
	return textutil.CollapseWhitespace(value)
}

func limitLength(s string) string {
	return textutil.Truncate(textutil.CollapseWhitespace(s), MaxContentLength)
}

func buildResult(content, image string) *Extraction {
	limited := limitLength(content)
	return &Extraction{Content: limited, Text: limited, ImageURL: image}
}

func markVisited(visited map[string]struct{}, rawURL string) bool {
	key := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		key = u.String()
	}
	if _, seen := visited[key]; seen {
		return false
	}
	visited[key] = struct{}{}
	return true
}
