package stealth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// ErrDisallowed is returned for URLs robots.txt forbids.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Transport is an http.RoundTripper applying, in order:
// fingerprint, robots check, rate limit, jitter, proxy rotation.
// Every field is optional.
type Transport struct {
	Base        http.RoundTripper
	Fingerprint *FingerprintPool
	Robots      *RobotsChecker
	RateLimiter *rate.Limiter
	Delay       *HumanDelay
	Proxy       *ProxyRotator
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(req.Context())

	userAgent := req.Header.Get("User-Agent")
	if t.Fingerprint != nil {
		userAgent = t.Fingerprint.Next().Apply(req)
	}

	allowed, err := t.Robots.IsAllowed(req.Context(), userAgent, req.URL.String())
	if err == nil && !allowed {
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, req.URL.Path)
	}

	if t.RateLimiter != nil {
		if err := t.RateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if t.Delay != nil {
		if err := t.Delay.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("delay: %w", err)
		}
	}

	base := t.Base
	if t.Proxy != nil {
		base = t.Proxy.Next().Transport()
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
