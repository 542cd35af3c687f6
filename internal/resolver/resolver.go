// Package resolver turns Google News redirect links into the publisher's URL.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/deusflow/cbnews/internal/cache"
)

type Method string

const (
	MethodBatchExecute Method = "batchexecute"
	MethodBrowser      Method = "browser"
	MethodFallback     Method = "fallback"
)

const (
	DefaultArticleEndpoint = "https://news.google.com/articles/"
	DefaultBatchEndpoint   = "https://news.google.com/_/DotsSplashUi/data/batchexecute?rpcids=Fbv4je"

	metadataTimeout = 5 * time.Second
	batchTimeout    = 2 * time.Second

	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0 Safari/537.36"
	maxResponseBytes = 2 << 20
)

var (
	timestampRe = regexp.MustCompile(`data-n-a-ts="(\d+)"`)
	signatureRe = regexp.MustCompile(`data-n-a-sg="([^"]+)"`)
	httpURLRe   = regexp.MustCompile(`^https?://`)
)

type Result struct {
	URL    string `json:"url"`
	Method Method `json:"method"`
}

// BrowserNavigator loads a URL in a real browser and reports where it ended up
// once the page has left the Google News host.
type BrowserNavigator interface {
	Navigate(ctx context.Context, rawURL string) (string, error)
}

type Options struct {
	HTTPClient      *http.Client
	Navigator       BrowserNavigator // nil disables the browser stage
	Cache           cache.Store      // nil disables caching
	CacheTTL        time.Duration
	ArticleEndpoint string
	BatchEndpoint   string
	Logger          *slog.Logger
}

type Resolver struct {
	client          *http.Client
	navigator       BrowserNavigator
	cache           cache.Store
	cacheTTL        time.Duration
	articleEndpoint string
	batchEndpoint   string
	group           singleflight.Group
	log             *slog.Logger
}

func New(opts Options) *Resolver {
	r := &Resolver{
		client:          opts.HTTPClient,
		navigator:       opts.Navigator,
		cache:           opts.Cache,
		cacheTTL:        opts.CacheTTL,
		articleEndpoint: opts.ArticleEndpoint,
		batchEndpoint:   opts.BatchEndpoint,
		log:             opts.Logger,
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.articleEndpoint == "" {
		r.articleEndpoint = DefaultArticleEndpoint
	}
	if r.batchEndpoint == "" {
		r.batchEndpoint = DefaultBatchEndpoint
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = 24 * time.Hour
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Resolve never fails: when neither stage finds the publisher URL the input
// comes back unchanged with MethodFallback.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Result {
	if !IsGoogleNewsURL(rawURL) {
		return Result{URL: rawURL, Method: MethodFallback}
	}

	key := cache.Key("resolve:", rawURL)
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok {
			var res Result
			if err := json.Unmarshal([]byte(cached), &res); err == nil && res.URL != "" {
				return res
			}
		}
	}

	v, _, _ := r.group.Do(rawURL, func() (any, error) {
		res := r.resolve(ctx, rawURL)
		if r.cache != nil && res.Method != MethodFallback {
			if raw, err := json.Marshal(res); err == nil {
				r.cache.Set(ctx, key, string(raw), r.cacheTTL)
			}
		}
		return res, nil
	})
	return v.(Result)
}

func (r *Resolver) resolve(ctx context.Context, rawURL string) Result {
	if token := ExtractToken(rawURL); token != "" {
		target, err := r.viaBatchExecute(ctx, token)
		if err == nil {
			return Result{URL: target, Method: MethodBatchExecute}
		}
		r.log.Debug("ingest.resolve.batchexecute-failed", "url", rawURL, "error", err)
	}

	if r.navigator != nil {
		target, err := r.navigator.Navigate(ctx, rawURL)
		if err == nil && httpURLRe.MatchString(target) {
			return Result{URL: target, Method: MethodBrowser}
		}
		r.log.Debug("ingest.resolve.browser-failed", "url", rawURL, "error", err)
	}

	return Result{URL: rawURL, Method: MethodFallback}
}

func (r *Resolver) viaBatchExecute(ctx context.Context, token string) (string, error) {
	ts, sig, err := r.fetchMetadata(ctx, token)
	if err != nil {
		return "", err
	}

	body, err := BuildRequestBody(token, ts, sig)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.batchEndpoint, bytes.NewBufferString(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	req.Header.Set("Referer", "https://news.google.com/")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("batchexecute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("batchexecute status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read batchexecute response: %w", err)
	}

	target, ok := ExtractResolvedURL(string(raw))
	if !ok {
		return "", fmt.Errorf("batchexecute response has no url")
	}
	return target, nil
}

func (r *Resolver) fetchMetadata(ctx context.Context, token string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	u, err := url.Parse(r.articleEndpoint)
	if err != nil {
		return "", "", err
	}
	u = u.JoinPath(token)
	q := u.Query()
	q.Set("hl", "ja")
	q.Set("gl", "JP")
	q.Set("ceid", "JP:ja")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", "https://news.google.com/")
	req.Header.Set("Accept-Language", "ja,en;q=0.9")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("article metadata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("article metadata status %d", resp.StatusCode)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", "", fmt.Errorf("read article metadata: %w", err)
	}

	ts := timestampRe.FindSubmatch(page)
	sig := signatureRe.FindSubmatch(page)
	if ts == nil || sig == nil {
		return "", "", fmt.Errorf("article metadata missing timestamp or signature")
	}
	return string(ts[1]), string(sig[1]), nil
}

// IsGoogleNewsHost reports whether host belongs to the aggregator.
func IsGoogleNewsHost(host string) bool {
	switch strings.ToLower(host) {
	case "news.google.com", "www.news.google.com":
		return true
	}
	return false
}

func IsGoogleNewsURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return IsGoogleNewsHost(u.Hostname())
}

// ExtractToken returns the last non-empty path segment of a Google News URL.
func ExtractToken(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !IsGoogleNewsHost(u.Hostname()) {
		return ""
	}
	var last string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			last = seg
		}
	}
	return last
}

// BuildRequestBody encodes the Fbv4je "garturlreq" call as a form body.
func BuildRequestBody(token, timestamp, signature string) (string, error) {
	locale := []any{"ja", "JP", []string{"WEB_TEST_1_0_0"}, nil, nil, 1, 1, "JP:ja"}
	base := []any{locale, "ja", "JP", 1, []int{2, 3, 4, 8}, 1, 0, "655000234", 0, 0, nil, 0}

	inner := []any{"garturlreq", base, token}
	if timestamp != "" && signature != "" {
		inner = append(inner, timestamp, signature)
	}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return "", err
	}

	outer := []any{[]any{[]any{"Fbv4je", string(innerJSON), nil, "generic"}}}
	outerJSON, err := json.Marshal(outer)
	if err != nil {
		return "", err
	}
	return "f.req=" + url.QueryEscape(string(outerJSON)), nil
}

// ExtractResolvedURL finds the ["wrb.fr","Fbv4je",payload] envelope in a
// batchexecute response and returns the URL from its ["garturlres", url] payload.
func ExtractResolvedURL(raw string) (string, bool) {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), ")]}'"))

	if target, ok := scanEnvelopes([]byte(body)); ok {
		return target, true
	}
	// Chunked responses prefix each JSON array with its length on its own line.
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		if target, ok := scanEnvelopes([]byte(line)); ok {
			return target, true
		}
	}
	return "", false
}

func scanEnvelopes(data []byte) (string, bool) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return "", false
	}
	for _, rawEntry := range entries {
		var entry []json.RawMessage
		if err := json.Unmarshal(rawEntry, &entry); err != nil || len(entry) < 3 {
			continue
		}
		var kind, rpc string
		if json.Unmarshal(entry[0], &kind) != nil || json.Unmarshal(entry[1], &rpc) != nil {
			continue
		}
		if kind != "wrb.fr" || rpc != "Fbv4je" || string(entry[2]) == "null" {
			continue
		}

		payload := []byte(entry[2])
		var encoded string
		if json.Unmarshal(payload, &encoded) == nil {
			payload = []byte(encoded)
		}

		var content []any
		if err := json.Unmarshal(payload, &content); err != nil || len(content) < 2 {
			continue
		}
		if tag, _ := content[0].(string); tag != "garturlres" {
			continue
		}
		if target, _ := content[1].(string); httpURLRe.MatchString(target) {
			return target, true
		}
	}
	return "", false
}
