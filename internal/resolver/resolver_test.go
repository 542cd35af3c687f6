package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deusflow/cbnews/internal/cache"
)

const gnURL = "https://news.google.com/rss/articles/CBMiTOKEN123?oc=5"

type fakeNavigator struct {
	url   string
	err   error
	calls atomic.Int32
}

func (f *fakeNavigator) Navigate(ctx context.Context, rawURL string) (string, error) {
	f.calls.Add(1)
	return f.url, f.err
}

func batchResponse(target string) string {
	payload, _ := json.Marshal([]any{"garturlres", target, 1})
	envelope, _ := json.Marshal([]any{[]any{"wrb.fr", "Fbv4je", string(payload), nil, nil, nil, "generic"}})
	return ")]}'\n\n" + string(envelope)
}

func newGoogleServer(t *testing.T, target string, batchCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/articles/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/CBMiTOKEN123") {
			t.Errorf("unexpected metadata path %s", r.URL.Path)
		}
		if r.URL.Query().Get("ceid") != "JP:ja" {
			t.Errorf("missing locale params: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `<div jscontroller="x" data-n-a-ts="1712345678" data-n-a-sg="SIGNATURE_ABC"></div>`)
	})
	mux.HandleFunc("/batch", func(w http.ResponseWriter, r *http.Request) {
		if batchCalls != nil {
			batchCalls.Add(1)
		}
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		if err != nil {
			t.Errorf("bad form body: %v", err)
		}
		freq := form.Get("f.req")
		if !strings.Contains(freq, "garturlreq") || !strings.Contains(freq, "SIGNATURE_ABC") || !strings.Contains(freq, "1712345678") {
			t.Errorf("f.req missing fields: %s", freq)
		}
		fmt.Fprint(w, batchResponse(target))
	})
	return httptest.NewServer(mux)
}

func TestResolveViaBatchExecute(t *testing.T) {
	t.Parallel()

	srv := newGoogleServer(t, "https://www.nikkei.com/article/DGX123/", nil)
	defer srv.Close()

	nav := &fakeNavigator{url: "https://should-not-be-used.example"}
	r := New(Options{
		ArticleEndpoint: srv.URL + "/articles/",
		BatchEndpoint:   srv.URL + "/batch",
		Navigator:       nav,
	})

	got := r.Resolve(context.Background(), gnURL)
	if got.Method != MethodBatchExecute || got.URL != "https://www.nikkei.com/article/DGX123/" {
		t.Fatalf("Resolve = %+v", got)
	}
	if nav.calls.Load() != 0 {
		t.Fatalf("browser should not run after batchexecute succeeds")
	}
}

func TestResolveFallsBackToBrowser(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	nav := &fakeNavigator{url: "https://www.reuters.com/markets/boj"}
	r := New(Options{
		ArticleEndpoint: srv.URL + "/articles/",
		BatchEndpoint:   srv.URL + "/batch",
		Navigator:       nav,
	})

	got := r.Resolve(context.Background(), gnURL)
	if got.Method != MethodBrowser || got.URL != "https://www.reuters.com/markets/boj" {
		t.Fatalf("Resolve = %+v", got)
	}
}

func TestResolveReturnsOriginalWhenEverythingFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(Options{
		ArticleEndpoint: srv.URL + "/articles/",
		BatchEndpoint:   srv.URL + "/batch",
		Navigator:       &fakeNavigator{err: errors.New("no chrome")},
	})

	got := r.Resolve(context.Background(), gnURL)
	if got.Method != MethodFallback || got.URL != gnURL {
		t.Fatalf("Resolve = %+v", got)
	}
}

func TestResolveSkipsNonAggregatorURLs(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{url: "https://x.example"}
	r := New(Options{Navigator: nav})

	got := r.Resolve(context.Background(), "https://www.boj.or.jp/en/announcements/")
	if got.Method != MethodFallback || got.URL != "https://www.boj.or.jp/en/announcements/" {
		t.Fatalf("Resolve = %+v", got)
	}
	if nav.calls.Load() != 0 {
		t.Fatalf("navigator called for a non-aggregator URL")
	}
}

func TestResolveUsesCache(t *testing.T) {
	t.Parallel()

	var batchCalls atomic.Int32
	srv := newGoogleServer(t, "https://www.bloomberg.co.jp/news/articles/x", &batchCalls)
	defer srv.Close()

	store := cache.NewMemory()
	defer store.Close()
	r := New(Options{
		ArticleEndpoint: srv.URL + "/articles/",
		BatchEndpoint:   srv.URL + "/batch",
		Cache:           store,
		CacheTTL:        time.Hour,
	})

	for i := 0; i < 3; i++ {
		got := r.Resolve(context.Background(), gnURL)
		if got.URL != "https://www.bloomberg.co.jp/news/articles/x" {
			t.Fatalf("Resolve = %+v", got)
		}
	}
	if batchCalls.Load() != 1 {
		t.Fatalf("batchexecute called %d times, want 1", batchCalls.Load())
	}
}

func TestExtractToken(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		gnURL: "CBMiTOKEN123",
		"https://www.news.google.com/articles/ABC/": "ABC",
		"https://news.google.com/":                  "",
		"https://example.com/rss/articles/ABC":      "",
		"::not a url":                               "",
	}
	for in, want := range tests {
		if got := ExtractToken(in); got != want {
			t.Errorf("ExtractToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractResolvedURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"valid", batchResponse("https://example.com/a"), "https://example.com/a", true},
		{"non http url", batchResponse("javascript:alert(1)"), "", false},
		{"wrong rpc", `)]}'` + `[["wrb.fr","Other","[\"garturlres\",\"https://x.example\"]"]]`, "", false},
		{"chunked", ")]}'\n\n123\n" + strings.TrimPrefix(batchResponse("https://example.com/b"), ")]}'\n\n") + "\n25\n[[\"e\",4]]", "https://example.com/b", true},
		{"garbage", "<html>", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractResolvedURL(tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ExtractResolvedURL = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestBuildRequestBody(t *testing.T) {
	t.Parallel()

	body, err := BuildRequestBody("TOKEN", "123", "SIG")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(body, "f.req=") {
		t.Fatalf("body = %q", body)
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(body, "f.req="))
	if err != nil {
		t.Fatal(err)
	}

	var outer [][][]any
	if err := json.Unmarshal([]byte(decoded), &outer); err != nil {
		t.Fatalf("outer payload: %v", err)
	}
	call := outer[0][0]
	if call[0] != "Fbv4je" || call[3] != "generic" {
		t.Fatalf("call = %v", call)
	}
	var inner []any
	if err := json.Unmarshal([]byte(call[1].(string)), &inner); err != nil {
		t.Fatalf("inner payload: %v", err)
	}
	if inner[0] != "garturlreq" || inner[2] != "TOKEN" || inner[3] != "123" || inner[4] != "SIG" {
		t.Fatalf("inner = %v", inner)
	}
}
