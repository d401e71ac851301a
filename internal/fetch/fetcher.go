// Package fetch is the single resilient fetch path every source adapter uses:
// session cookies, optional Scrape.do proxying, anti-bot challenge detection
// and HTTP error classification.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lukman83/watchfinder/internal/httputil"
	"github.com/lukman83/watchfinder/internal/logging"
)

var (
	// ErrBlocked means the target served an anti-bot challenge.
	ErrBlocked = errors.New("blocked by anti-bot challenge")
	// ErrRateLimited means the target answered 429; callers cool down and retry.
	ErrRateLimited = errors.New("rate limited")
)

// StatusError is an HTTP error status from the target.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.Code, e.URL)
}

const (
	DefaultProxyEndpoint = "https://api.scrape.do/"

	challengePhrase = "Just a moment"
)

type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

type Config struct {
	Client *http.Client

	// ProxyToken enables routing through the fetch-proxy service.
	ProxyToken      string
	ProxyEndpoint   string
	ProxyRetryDelay time.Duration

	// Headers are sent on every request (and forwarded by the proxy).
	Headers http.Header

	// Headless, when set, renders challenge pages in a real browser.
	Headless *Headless

	Logger *slog.Logger
}

// Fetcher carries one source's session. Safe for concurrent use.
type Fetcher struct {
	cfg     Config
	cookies []*http.Cookie
	logger  *slog.Logger
}

func New(cfg Config, cookieString string) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = httputil.NewHTTPClient(nil)
	}
	if cfg.ProxyEndpoint == "" {
		cfg.ProxyEndpoint = DefaultProxyEndpoint
	}
	if cfg.ProxyRetryDelay == 0 {
		cfg.ProxyRetryDelay = 3 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = http.Header{}
	}
	return &Fetcher{
		cfg:     cfg,
		cookies: ParseCookies(cookieString),
		logger:  logging.Or(cfg.Logger),
	}
}

func (f *Fetcher) HasCookies() bool { return len(f.cookies) > 0 }

// Get fetches rawURL. Errors are ErrBlocked, ErrRateLimited, *StatusError,
// or a wrapped transport error (timeouts included).
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	if f.cfg.ProxyToken != "" {
		return f.viaProxy(ctx, rawURL)
	}
	return f.direct(ctx, rawURL)
}

func (f *Fetcher) direct(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range f.cfg.Headers {
		req.Header[k] = append([]string(nil), v...)
	}
	for _, c := range f.cookies {
		req.AddCookie(c)
	}

	resp, err := f.do(req, rawURL)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusForbidden && bytes.Contains(resp.Body, []byte(challengePhrase)) {
		if f.cfg.Headless == nil {
			f.logger.Warn("anti-bot challenge; run from a residential network or supply session cookies",
				"url", rawURL)
			return nil, fmt.Errorf("%s: %w", rawURL, ErrBlocked)
		}
		f.logger.Info("anti-bot challenge, rendering in headless browser", "url", rawURL)
		return f.cfg.Headless.Fetch(ctx, rawURL, f.cookies, req.Header.Get("User-Agent"))
	}
	return resp, classify(resp)
}

func (f *Fetcher) viaProxy(ctx context.Context, rawURL string) (*Response, error) {
	q := url.Values{
		"token":          {f.cfg.ProxyToken},
		"url":            {rawURL},
		"forwardHeaders": {"true"},
	}
	proxyURL := f.cfg.ProxyEndpoint + "?" + q.Encode()

	var resp *Response
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxyURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		for k, v := range f.cfg.Headers {
			req.Header[k] = append([]string(nil), v...)
		}
		if len(f.cookies) > 0 {
			req.Header.Set("Cookie", CookieHeader(f.cookies))
		}

		resp, err = f.do(req, rawURL)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusBadGateway || attempt == 2 {
			break
		}
		f.logger.Warn("fetch proxy returned 502, retrying", "url", rawURL, "attempt", attempt)
		if err := httputil.Sleep(ctx, f.cfg.ProxyRetryDelay); err != nil {
			return nil, err
		}
	}
	resp.URL = rawURL
	return resp, classify(resp)
}

// do sends req and reads the body. Errors name target, never the proxy
// URL, which carries the API token.
func (f *Fetcher) do(req *http.Request, target string) (*Response, error) {
	httpResp, err := f.cfg.Client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer httpResp.Body.Close()

	body, err := httputil.ReadBody(httpResp)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return &Response{
		URL:        httpResp.Request.URL.String(),
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func classify(resp *Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", resp.URL, ErrRateLimited)
	case resp.StatusCode >= 400:
		return &StatusError{URL: resp.URL, Code: resp.StatusCode}
	default:
		return nil
	}
}
