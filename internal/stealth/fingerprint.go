package stealth

import (
	"net/http"
	"sync"
)

// Fingerprint is a browser identity: a User-Agent plus the headers that
// browser sends alongside it.
type Fingerprint struct {
	UserAgent string
	Headers   http.Header
}

// FingerprintPool hands out fingerprints round-robin.
type FingerprintPool struct {
	mu           sync.Mutex
	fingerprints []Fingerprint
	next         int
}

func NewFingerprintPool() *FingerprintPool {
	return &FingerprintPool{fingerprints: desktopFingerprints()}
}

// Next returns the next fingerprint in round-robin order.
func (p *FingerprintPool) Next() Fingerprint {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.fingerprints[p.next%len(p.fingerprints)]
	p.next++
	return f
}

// Apply fills in the fingerprint on req without overriding headers the
// caller set, so feeds that require a declared User-Agent keep it.
// It returns the User-Agent the request will carry.
func (f Fingerprint) Apply(req *http.Request) string {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	for key, vals := range f.Headers {
		if req.Header.Get(key) != "" {
			continue
		}
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}
	return req.Header.Get("User-Agent")
}

func desktopFingerprints() []Fingerprint {
	return []Fingerprint{
		{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Headers:   chromiumHeaders("124", "macOS"),
		},
		{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Headers:   chromiumHeaders("124", "Windows"),
		},
		{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:125.0) Gecko/20100101 Firefox/125.0",
			Headers:   geckoHeaders(),
		},
		{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
			Headers:   webkitHeaders(),
		},
	}
}

func chromiumHeaders(version, platform string) http.Header {
	h := http.Header{}
	h.Set("Sec-Ch-Ua", `"Chromium";v="`+version+`", "Not-A.Brand";v="99", "Google Chrome";v="`+version+`"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"`+platform+`"`)
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

func geckoHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("DNT", "1")
	return h
}

func webkitHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}
