// Package headless fetches pages that only render their event listings with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/pfrederiksen/events-monitor/internal/scraper"
)

// settleDelay gives client-side rendering a moment after the body is ready
const settleDelay = 500 * time.Millisecond

// Fetcher renders pages in headless Chrome. It satisfies scraper.Fetcher and
// reports failures with the same FetchError taxonomy as the HTTP fetcher.
type Fetcher struct {
	userAgent   string
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher. An empty userAgent uses scraper.UserAgent.
func New(userAgent string) *Fetcher {
	if userAgent == "" {
		userAgent = scraper.UserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		userAgent:   userAgent,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close shuts down the browser allocator
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to url and returns the rendered DOM
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = scraper.DefaultTimeout
	}

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	// tie the browser tab to the caller's cancellation as well as the timeout
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	meta := &documentMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html string
	err := chromedp.Run(taskCtx,
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, classify(ctx, taskCtx, url, err)
	}

	if status := meta.statusCode(); status != 0 && (status < 200 || status > 299) {
		return nil, &scraper.FetchError{Kind: scraper.FetchHTTPStatus, URL: url, Code: status}
	}

	return []byte(html), nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enabling network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(f.userAgent).Do(ctx); err != nil {
			return fmt.Errorf("setting user-agent: %w", err)
		}
		return nil
	})
}

func classify(parent, task context.Context, url string, err error) *scraper.FetchError {
	if parent.Err() != nil {
		return &scraper.FetchError{Kind: scraper.FetchNetwork, URL: url, Err: fmt.Errorf("%w: %v", parent.Err(), err)}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(task.Err(), context.DeadlineExceeded) {
		return &scraper.FetchError{Kind: scraper.FetchTimeout, URL: url, Err: err}
	}
	return &scraper.FetchError{Kind: scraper.FetchNetwork, URL: url, Err: fmt.Errorf("chromedp run: %w", err)}
}

// documentMeta records the status of the main document response
type documentMeta struct {
	mu     sync.RWMutex
	status int
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// the first document response is the page itself; later ones are frames
	if m.status == 0 {
		m.status = int(resp.Response.Status)
	}
}

func (m *documentMeta) statusCode() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
