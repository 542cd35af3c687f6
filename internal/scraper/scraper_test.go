package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const longBody = "The Bank of Japan kept its policy rate unchanged on Friday, and Governor Kazuo Ueda said the board would watch wage negotiations, import prices and the yen closely before deciding on the next hike."

func TestExtractFollowsReadMoreOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/story", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `<html><head><meta property="og:image" content="https://img.example/lead.jpg"></head>
<body><article><p>植田総裁が発言</p></article>
<a href="/story?display=1">続きを読む</a></body></html>`)
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("display") == "1" {
			hits.Add(1)
			fmt.Fprintf(w, `<html><body><div class="article-body"><p>%s</p><script>var tracking = 1;</script>
<a href="/story?display=1">続きを読む</a></div><div class="article-related">Related: other news</div></body></html>`, longBody)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	e := NewExtractor(5*time.Second, srv.Client(), nil)
	got := e.Extract(context.Background(), srv.URL+"/story")
	if got == nil {
		t.Fatal("Extract returned nil")
	}
	if !strings.HasPrefix(got.Content, longBody) {
		t.Fatalf("content = %q", got.Content)
	}
	if strings.Contains(got.Content, "tracking") || strings.Contains(got.Content, "Related") {
		t.Fatalf("content leaked script or related block: %q", got.Content)
	}
	if got.ImageURL != "https://img.example/lead.jpg" {
		t.Fatalf("image = %q", got.ImageURL)
	}
	if hits.Load() != 2 {
		t.Fatalf("fetches = %d, want 2", hits.Load())
	}
}

func TestExtractKeepsSufficientPrimary(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("display") == "1" {
			fmt.Fprint(w, `<html><body><main><p>Short extra page text that is not long enough.</p></main></body></html>`)
			return
		}
		fmt.Fprintf(w, `<html><body><main><p>%s</p></main><footer>Copyright</footer>
<a href="?display=1">次へ</a></body></html>`, longBody)
	}))
	defer srv.Close()

	got := NewExtractor(0, srv.Client(), nil).Extract(context.Background(), srv.URL+"/a")
	if got == nil || !strings.Contains(got.Content, "Kazuo Ueda") {
		t.Fatalf("Extract = %+v", got)
	}
	if got.Text != got.Content {
		t.Fatalf("text and content differ")
	}
}

func TestExtractHTTPErrorReturnsNil(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	if got := NewExtractor(0, srv.Client(), nil).Extract(context.Background(), srv.URL); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestExtractTruncates(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat(longBody+" ", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><article><p>%s</p></article></body></html>`, huge)
	}))
	defer srv.Close()

	got := NewExtractor(0, srv.Client(), nil).Extract(context.Background(), srv.URL)
	if got == nil {
		t.Fatal("nil extraction")
	}
	if n := len([]rune(got.Content)); n > MaxContentLength || n < MaxContentLength-10 {
		t.Fatalf("content runes = %d, want about %d", n, MaxContentLength)
	}
}

func TestNewExtractorClampsTimeout(t *testing.T) {
	t.Parallel()

	if e := NewExtractor(time.Second, nil, nil); e.timeout != 5*time.Second {
		t.Errorf("low timeout = %v", e.timeout)
	}
	if e := NewExtractor(time.Minute, nil, nil); e.timeout != 15*time.Second {
		t.Errorf("high timeout = %v", e.timeout)
	}
	if e := NewExtractor(10*time.Second, nil, nil); e.timeout != 10*time.Second {
		t.Errorf("mid timeout = %v", e.timeout)
	}
}

func TestExtractArticleSection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{"article body div", `<p>nav</p><div class="x article-body y"><p>body</p></div><div class="articleFooter">f</div>`, "body"},
		{"article tag", `<header>h</header><article><p>text</p></article><p>after</p>`, "text"},
		{"earliest end wins", `<main><p>one</p><footer>f</footer></main>`, "one"},
		{"no markers", `<div><p>plain</p></div>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripHTML(ExtractArticleSection(tt.html))
			if got != tt.want {
				t.Fatalf("section text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	in := `<div>Rates &amp; yen<!-- hidden --><style>.a{}</style>
	<script>alert("x")</script>   <b>rose</b>&nbsp;today</div>`
	if got := StripHTML(in); got != "Rates & yen rose today" {
		t.Fatalf("StripHTML = %q", got)
	}
}

func TestFindReadMoreLink(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://news.example.jp/articles/1")
	tests := []struct {
		name string
		html string
		want string
	}{
		{"labelled display link", `<a href="/x?display=1">その他</a><a href="/articles/1?display=1">続きを読む</a>`, "https://news.example.jp/articles/1?display=1"},
		{"empty label", `<a href="?page=2&display=1"><img src="x"></a>`, "https://news.example.jp/articles/1?page=2&display=1"},
		{"any display link", `<a href="/full?display=1">全文</a>`, "https://news.example.jp/full?display=1"},
		{"english label", `<a href="https://other.example/full">Read more</a>`, "https://other.example/full"},
		{"none", `<a href="/about">About</a><a href="javascript:void(0)">read more</a>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			if err != nil {
				t.Fatal(err)
			}
			if got := FindReadMoreLink(doc, base); got != tt.want {
				t.Fatalf("FindReadMoreLink = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrimaryImage(t *testing.T) {
	t.Parallel()

	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(`<head><meta name="twitter:image" content=" https://img.example/t.png "></head>`))
	if got := PrimaryImage(doc); got != "https://img.example/t.png" {
		t.Fatalf("PrimaryImage = %q", got)
	}
}
