package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pfrederiksen/events-monitor/internal/logger"
)

const (
	UserAgent      = "events-monitor/1.0 (+https://github.com/pfrederiksen/events-monitor)"
	DefaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response is read into memory
	maxBodyBytes = 10 << 20
)

// Fetcher retrieves the raw content of a page
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// ErrBodyTooLarge is wrapped by a fetch whose response exceeds the body cap
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPFetcher fetches pages over plain HTTP
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

// NewHTTPFetcher creates a fetcher that identifies itself with userAgent.
// An empty userAgent uses UserAgent.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	return NewHTTPFetcherWithClient(&http.Client{Timeout: DefaultTimeout}, userAgent)
}

// NewHTTPFetcherWithClient creates a fetcher around an existing client (useful for testing)
func NewHTTPFetcherWithClient(client *http.Client, userAgent string) *HTTPFetcher {
	if userAgent == "" {
		userAgent = UserAgent
	}
	return &HTTPFetcher{client: client, userAgent: userAgent, maxBody: maxBodyBytes}
}

// Fetch performs a single GET. It does not retry.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchNetwork, URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := *f.client
	client.Timeout = timeout

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyFetchError(ctx, url, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Kind: FetchHTTPStatus, URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, classifyFetchError(ctx, url, fmt.Errorf("reading body: %w", err))
	}
	// A cut-off listing would drop the events past the cap from the state
	if int64(len(body)) > f.maxBody {
		logger.Warn("Response body exceeds limit", logger.Fields{"url": url, "limit_bytes": f.maxBody})
		return nil, &FetchError{Kind: FetchNetwork, URL: url, Err: fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxBody)}
	}

	return body, nil
}

// classifyFetchError maps transport errors onto the fetch taxonomy.
// Cancellation of the parent context stays visible through errors.Is.
func classifyFetchError(parent context.Context, url string, err error) *FetchError {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchTimeout, URL: url, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && parent.Err() == nil {
		return &FetchError{Kind: FetchTimeout, URL: url, Err: err}
	}

	if parent.Err() != nil {
		return &FetchError{Kind: FetchNetwork, URL: url, Err: fmt.Errorf("%w: %v", parent.Err(), err)}
	}

	return &FetchError{Kind: FetchNetwork, URL: url, Err: err}
}
