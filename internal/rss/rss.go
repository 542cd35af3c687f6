// Package rss queries the Google News search feed for a tracked person.
package rss

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/deusflow/cbnews/internal/domain"
	"github.com/deusflow/cbnews/internal/scraper"
)

const (
	DefaultBaseURL = "https://news.google.com/rss/search"
	UserAgent      = "cbnews-ingest/1.0"

	maxFeedBytes = 5 << 20
)

type Fetcher struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	Timeout    time.Duration // 0 = rely on the caller's context
	Logger     *slog.Logger
}

func NewFetcher(opts Options) *Fetcher {
	f := &Fetcher{
		client:  opts.HTTPClient,
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		log:     opts.Logger,
		now:     time.Now,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.baseURL == "" {
		f.baseURL = DefaultBaseURL
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f
}

// Fetch issues one feed request for entry. It does not retry.
func (f *Fetcher) Fetch(ctx context.Context, entry domain.PersonDictionaryEntry) ([]domain.Candidate, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	slug := entry.Person.Slug
	requestURL, err := BuildFeedURL(f.baseURL, entry)
	if err != nil {
		return nil, f.fail(domain.NewError(domain.CodeRSSFetchFailed, err.Error(), map[string]any{"slug": slug}, err), slug, "")
	}

	candidates, err := f.fetch(ctx, requestURL, slug)
	if err != nil {
		return nil, f.fail(err, slug, requestURL)
	}
	return candidates, nil
}

func (f *Fetcher) fetch(ctx context.Context, requestURL, slug string) ([]domain.Candidate, error) {
	wrap := func(err error) error {
		return domain.NewError(domain.CodeRSSFetchFailed, err.Error(), map[string]any{"slug": slug, "url": requestURL}, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, wrap(err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewError(domain.CodeRSSHTTPError,
			fmt.Sprintf("failed to fetch RSS feed (status %d)", resp.StatusCode),
			map[string]any{"status": resp.StatusCode, "slug": slug}, nil)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, wrap(fmt.Errorf("parse feed: %w", err))
	}
	return f.toCandidates(feed), nil
}

func (f *Fetcher) fail(err error, slug, requestURL string) error {
	details := domain.DetailsOf(err)
	f.log.Error("ingest.rss.error",
		"code", domain.CodeOf(err, domain.CodeRSSFetchFailed),
		"slug", slug,
		"url", requestURL,
		"status", details["status"],
		"error", err.Error(),
	)
	return err
}

func (f *Fetcher) toCandidates(feed *gofeed.Feed) []domain.Candidate {
	now := f.now()
	seen := make(map[string]struct{}, len(feed.Items))
	out := make([]domain.Candidate, 0, len(feed.Items))

	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = link
		}

		out = append(out, domain.Candidate{
			URL:          link,
			SourceDomain: sourceDomain(link),
			Title:        title,
			Description:  scraper.StripHTML(item.Description),
			Content:      scraper.StripHTML(item.Content),
			ImageURL:     selectImageURL(item),
			PublishedAt:  publishedAt(item),
			FetchedAt:    now,
			Raw:          item,
		})
	}
	return out
}

// BuildQuery ORs every quoted name and alias and ANDs the institution code.
func BuildQuery(entry domain.PersonDictionaryEntry) string {
	seen := make(map[string]struct{})
	var terms []string
	for _, term := range append([]string{entry.Person.NameEN, entry.Person.NameJP}, entry.Aliases...) {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, `"`+term+`"`)
	}

	names := strings.Join(terms, " OR ")
	if code := strings.TrimSpace(entry.Person.InstitutionCode); code != "" {
		return fmt.Sprintf(`%s AND ("%s")`, names, code)
	}
	return names
}

func BuildFeedURL(base string, entry domain.PersonDictionaryEntry) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid feed base url: %w", err)
	}
	q := url.Values{}
	q.Set("hl", "ja")
	q.Set("gl", "JP")
	q.Set("ceid", "JP:ja")
	q.Set("q", BuildQuery(entry))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sourceDomain(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

// selectImageURL prefers an image enclosure, then media:content with an image
// or missing type, then media:thumbnail.
func selectImageURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && isImageMime(enc.Type) {
			return enc.URL
		}
	}

	media := item.Extensions["media"]
	for _, mc := range mediaElements(media, "content") {
		u, typ := mc.Attrs["url"], mc.Attrs["type"]
		if u != "" && (typ == "" || isImageMime(typ)) {
			return u
		}
	}
	for _, th := range mediaElements(media, "thumbnail") {
		if u := th.Attrs["url"]; u != "" {
			return u
		}
	}
	return ""
}

// mediaElements also looks inside media:group wrappers.
func mediaElements(media map[string][]ext.Extension, name string) []ext.Extension {
	if media == nil {
		return nil
	}
	out := append([]ext.Extension(nil), media[name]...)
	for _, group := range media["group"] {
		out = append(out, group.Children[name]...)
	}
	return out
}

func isImageMime(t string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "image/")
}
