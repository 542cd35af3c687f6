package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeNavigator drives headless Chrome through chromedp. Images, media and
// fonts are blocked so only the redirect chain is loaded.
type ChromeNavigator struct {
	ExecPath        string // empty = look up Chrome on PATH
	NavigateTimeout time.Duration
	RedirectTimeout time.Duration
	PollInterval    time.Duration
}

var _ BrowserNavigator = (*ChromeNavigator)(nil)

func NewChromeNavigator() *ChromeNavigator {
	return &ChromeNavigator{
		NavigateTimeout: 20 * time.Second,
		RedirectTimeout: 7 * time.Second,
		PollInterval:    250 * time.Millisecond,
	}
}

func (n *ChromeNavigator) Navigate(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.NavigateTimeout+n.RedirectTimeout+5*time.Second)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(browserUserAgent),
		chromedp.Flag("lang", "ja-JP"),
	)
	if n.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(n.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	chromedp.ListenTarget(tabCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(tabCtx)
			execCtx := cdp.WithExecutor(tabCtx, c.Target)
			switch paused.ResourceType {
			case network.ResourceTypeImage, network.ResourceTypeMedia, network.ResourceTypeFont:
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			default:
				_ = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
			}
		}()
	})

	// Start the browser before attaching per-step deadlines.
	if err := chromedp.Run(tabCtx); err != nil {
		return "", fmt.Errorf("start browser: %w", err)
	}

	headers := network.Headers{
		"Accept-Language": "ja,en;q=0.9",
		"Referer":         "https://news.google.com/",
	}
	navCtx, cancelNav := context.WithTimeout(tabCtx, n.NavigateTimeout)
	err := chromedp.Run(navCtx,
		fetch.Enable(),
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.Navigate(rawURL),
	)
	cancelNav()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("navigate: %w", err)
	}

	deadline := time.Now().Add(n.RedirectTimeout)
	for {
		var location string
		if err := chromedp.Run(tabCtx, chromedp.Location(&location)); err != nil {
			return "", fmt.Errorf("read location: %w", err)
		}
		if u, err := url.Parse(location); err == nil && u.Host != "" && !IsGoogleNewsHost(u.Hostname()) {
			return location, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("still on %s after %s", location, n.RedirectTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(n.PollInterval):
		}
	}
}
