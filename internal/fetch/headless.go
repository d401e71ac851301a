package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Headless renders pages in Chromium through rod. One browser runs at a
// time; a challenge that survives rendering still counts as blocked.
type Headless struct {
	Bin     string // browser binary, empty lets rod download or find one
	Timeout time.Duration

	mu sync.Mutex
}

func (h *Headless) Fetch(ctx context.Context, rawURL string, cookies []*http.Cookie, userAgent string) (*Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	l := launcher.New().Context(ctx).Headless(true).Logger(io.Discard)
	if h.Bin != "" {
		l = l.Bin(h.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	if len(cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &proto.NetworkCookieParam{Name: c.Name, Value: c.Value, URL: rawURL})
		}
		if err := browser.SetCookies(params); err != nil {
			return nil, fmt.Errorf("set cookies: %w", err)
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}

	timed := page.Timeout(timeout)
	if err := timed.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := timed.WaitStable(time.Second); err == nil {
		_ = timed.WaitDOMStable(2*time.Second, 0.1)
	}

	content, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("get page HTML: %w", err)
	}
	if bytes.Contains([]byte(content), []byte(challengePhrase)) {
		return nil, fmt.Errorf("%s: %w", rawURL, ErrBlocked)
	}
	return &Response{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(content),
	}, nil
}
