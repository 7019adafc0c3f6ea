package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/conneroisu/verdrift/internal/errors"
)

// maxPageSize bounds how much of a page is read during a check.
const maxPageSize = 8 << 20

// Fetcher retrieves the current markup of a page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, pageURL string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, pageURL string) (string, error) {
	return f(ctx, pageURL)
}

// HTTPFetcher fetches pages while bypassing every cache between the monitor
// and the origin.
type HTTPFetcher struct {
	Client *http.Client
	now    func() time.Time
}

// NewHTTPFetcher returns an HTTPFetcher using client, or a client with a 30s
// timeout when client is nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{Client: client, now: time.Now}
}

// Fetch performs a cache-busting GET of pageURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", errors.NewValidationError("INVALID_URL", "invalid page URL "+pageURL).
			WithContext("cause", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.NewValidationError("INVALID_URL", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	now := time.Now
	if f.now != nil {
		now = f.now
	}
	q := u.Query()
	q.Set("_t", strconv.FormatInt(now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.ErrFetchFailed(pageURL, err)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")
	req.Header.Set("Accept", "text/html")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", errors.ErrFetchFailed(pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", errors.ErrFetchFailed(pageURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", errors.ErrFetchFailed(pageURL, err)
	}
	return string(body), nil
}
