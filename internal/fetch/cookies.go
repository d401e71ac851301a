package fetch

import (
	"net/http"
	"strings"
)

// ParseCookies parses a "name=value; name2=value2" string as copied from
// a browser's devtools. Pairs without "=" are ignored.
func ParseCookies(s string) []*http.Cookie {
	var out []*http.Cookie
	for _, pair := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return out
}

// CookieHeader renders cookies back into a Cookie header value verbatim.
func CookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
