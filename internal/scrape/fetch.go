// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/paper-search/internal/httputil"
)

// Fetcher retrieves URLs. Implementations apply their own retry policy
// and timeout to the whole transfer, body included.
type Fetcher interface {
	// Fetch returns the full body of url.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// Stream hands the body of url to consume. consume may run once per
	// attempt and must start over each time it is called.
	Stream(ctx context.Context, url string, consume func(io.Reader) error) error
}

// errStalled fails an attempt whose response stopped arriving.
var errStalled = errors.New("no data received")

// HTTPFetcher fetches over HTTP with a retry policy. Timeout bounds
// inactivity: the response headers and every body read must arrive within
// it, so a slow but steady transfer is never cut off.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	Policy    httputil.Policy
}

// Fetch GETs rawURL and reads the whole body. Failures that outlast the
// policy are returned as *httputil.TransientError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var data []byte
	err := f.Stream(ctx, rawURL, func(r io.Reader) error {
		var err error
		data, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Stream GETs rawURL and passes the body to consume. A body read that
// fails or stalls fails the attempt, which is retried like a failed
// request. Any other error from consume ends the fetch at once and is
// returned unchanged.
func (f *HTTPFetcher) Stream(ctx context.Context, rawURL string, consume func(io.Reader) error) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	err := httputil.Retry(ctx, f.Policy, func(int) error {
		callCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		var watchdog *time.Timer
		if f.Timeout > 0 {
			watchdog = time.AfterFunc(f.Timeout, func() { cancel(errStalled) })
			defer watchdog.Stop()
		}

		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			return httputil.Permanent(fmt.Errorf("creating request: %w", err))
		}
		if f.UserAgent != "" {
			req.Header.Set("User-Agent", f.UserAgent)
		}

		// One attempt per Retry iteration; Retry owns the backoff.
		resp, err := httputil.Do(callCtx, client, req, httputil.Policy{MaxAttempts: 1})
		if err != nil {
			var te *httputil.TransientError
			switch {
			case ctx.Err() != nil:
				return httputil.Permanent(ctx.Err())
			case f.stalled(callCtx):
				return fmt.Errorf("%w for %s waiting for response", errStalled, f.Timeout)
			case errors.As(err, &te):
				return te.Err
			default:
				return httputil.Permanent(err)
			}
		}
		defer resp.Body.Close()
		if watchdog != nil {
			watchdog.Reset(f.Timeout)
		}

		body := &watchedReader{r: resp.Body, watchdog: watchdog, timeout: f.Timeout}
		if err := consume(body); err != nil {
			switch {
			case body.err == nil:
				return httputil.Permanent(err)
			case ctx.Err() != nil:
				return httputil.Permanent(ctx.Err())
			case f.stalled(callCtx):
				return fmt.Errorf("%w for %s while reading body", errStalled, f.Timeout)
			default:
				return fmt.Errorf("reading body: %w", body.err)
			}
		}
		return nil
	})
	if err != nil {
		var te *httputil.TransientError
		if errors.As(err, &te) {
			te.URL = rawURL
		}
		return err
	}
	return nil
}

func (f *HTTPFetcher) stalled(callCtx context.Context) bool {
	return errors.Is(context.Cause(callCtx), errStalled)
}

// watchedReader pushes the inactivity deadline back on every read that
// makes progress and remembers the first read error.
type watchedReader struct {
	r        io.Reader
	watchdog *time.Timer
	timeout  time.Duration
	err      error
}

func (w *watchedReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 && w.watchdog != nil {
		w.watchdog.Reset(w.timeout)
	}
	if err != nil && err != io.EOF && w.err == nil {
		w.err = err
	}
	return n, err
}

// Paginator yields listing page URLs. Pages are 1-based.
type Paginator interface {
	PageURL(page int) string
}

// QueryPaginator builds page URLs from a template. "{page}" in Template
// is replaced with the page number; without it, a "page" query parameter
// is set.
type QueryPaginator struct {
	Template string
}

// PageURL returns the URL of page.
func (p QueryPaginator) PageURL(page int) string {
	n := strconv.Itoa(page)
	if strings.Contains(p.Template, "{page}") {
		return strings.ReplaceAll(p.Template, "{page}", n)
	}
	u, err := url.Parse(p.Template)
	if err != nil {
		return p.Template
	}
	q := u.Query()
	q.Set("page", n)
	u.RawQuery = q.Encode()
	return u.String()
}
