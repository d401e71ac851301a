package httputil

import "net/http"

// DesktopUserAgent is used where a single stable browser identity is wanted.
const DesktopUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// BrowserHeaders returns common browser-like headers for page fetches.
// User-Agent is left to the fingerprint pool.
func BrowserHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	return h
}

// FeedHeaders identifies the crawler honestly, as the Reddit API asks.
func FeedHeaders(userAgent string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

// ImageHeaders makes hotlink-protected image hosts accept the request.
func ImageHeaders(referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", DesktopUserAgent)
	h.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

func PricingHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", DesktopUserAgent)
	h.Set("Accept", "application/json, text/html,*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}
