package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appLog "staysync/internal/log"
)

const (
	defaultFetchTimeout = 10 * time.Second
	maxFeedBytes        = 8 << 20
)

// FetchError reports a failed feed retrieval. It is never converted into
// an empty event list by this package.
type FetchError struct {
	URL        string // redacted
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("ics fetch %s: timed out", e.URL)
	case e.StatusCode != 0:
		return fmt.Sprintf("ics fetch %s: http %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("ics fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// cacheEntry holds conditional-request metadata for one URL.
type cacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
}

// Fetcher retrieves feeds with a hard per-request timeout. Bodies are kept
// in memory only to answer 304 Not Modified; a network or HTTP failure is
// always returned as an error, never served from that cache.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewFetcher creates a Fetcher. A zero timeout selects 10s.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		client:  &http.Client{},
		timeout: timeout,
		cache:   make(map[string]cacheEntry),
	}
}

// Fetch downloads a feed body.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, &FetchError{URL: "", Err: errors.New("feed URL is empty")}
	}
	redacted := RedactURL(url)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: redacted, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.1")

	f.mu.Lock()
	meta, cached := f.cache[url]
	f.mu.Unlock()
	if cached {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		fe := &FetchError{URL: redacted, Err: err}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			fe.Timeout = true
		}
		appLog.Error("ics fetch failed", fe, "url", redacted)
		return nil, fe
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			fe := &FetchError{URL: redacted, Err: err, Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded)}
			return nil, fe
		}
		f.mu.Lock()
		f.cache[url] = cacheEntry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
		}
		f.mu.Unlock()
		appLog.Debug("ics fetch success", "url", redacted, "bytes", len(body), "duration_ms", time.Since(start).Milliseconds())
		return body, nil

	case http.StatusNotModified:
		if !cached || len(meta.Body) == 0 {
			return nil, &FetchError{URL: redacted, StatusCode: resp.StatusCode,
				Err: errors.New("304 Not Modified without a cached body")}
		}
		appLog.Debug("ics feed not modified", "url", redacted)
		return meta.Body, nil

	default:
		fe := &FetchError{URL: redacted, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
		appLog.Error("ics fetch non-OK", fe, "url", redacted, "status", resp.StatusCode)
		return nil, fe
	}
}

// FetchEvents fetches and parses a feed in one step.
func (f *Fetcher) FetchEvents(ctx context.Context, url string) ([]Event, error) {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// RedactURL hides path and query of a feed URL, which commonly embed a
// secret export token.
//
//	https://example.com/export/abc.ics?t=secret -> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
