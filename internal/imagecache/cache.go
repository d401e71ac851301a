// Package imagecache stores listing photos on disk, keyed by the MD5 of
// their source URL.
package imagecache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/lukman83/watchfinder/internal/fetch"
	"github.com/lukman83/watchfinder/internal/httputil"
	"github.com/lukman83/watchfinder/internal/logging"
)

// Getter is the session-aware fetch used for forum attachments.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// DefaultAttachmentHosts serve images only to logged-in sessions.
var DefaultAttachmentHosts = []string{"rolexforums.com", "watchuseek.com", "timezone.com"}

var knownExts = []string{".jpg", ".png", ".webp", ".gif"}

const defaultExt = ".jpg"

type Options struct {
	Dir             string
	URLPrefix       string // public path the cached files are served under
	Referer         string
	AttachmentHosts []string
	Client          *http.Client
	Logger          *slog.Logger
}

type Cache struct {
	dir             string
	prefix          string
	referer         string
	attachmentHosts []string
	client          *http.Client
	logger          *slog.Logger
}

func New(opts Options) *Cache {
	if opts.URLPrefix == "" {
		opts.URLPrefix = "/static/images/"
	}
	if !strings.HasSuffix(opts.URLPrefix, "/") {
		opts.URLPrefix += "/"
	}
	if opts.AttachmentHosts == nil {
		opts.AttachmentHosts = DefaultAttachmentHosts
	}
	if opts.Client == nil {
		opts.Client = httputil.NewHTTPClient(nil)
	}
	return &Cache{
		dir:             opts.Dir,
		prefix:          opts.URLPrefix,
		referer:         opts.Referer,
		attachmentHosts: opts.AttachmentHosts,
		client:          opts.Client,
		logger:          logging.Or(opts.Logger),
	}
}

// Key is the cache file stem for rawURL.
func Key(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// Acquire returns a local cache path for rawURL, fetching it at most once.
// When every fetch fails, plain external links are passed through for the
// browser to load; forum attachments yield "".
func (c *Cache) Acquire(ctx context.Context, rawURL string, fallback Getter) string {
	if rawURL == "" {
		return ""
	}
	key := Key(rawURL)
	for _, ext := range knownExts {
		if _, err := os.Stat(filepath.Join(c.dir, key+ext)); err == nil {
			return c.prefix + key + ext
		}
	}

	log := c.logger.With("url", rawURL)
	attachment := c.IsAttachment(rawURL)

	contentType, body, err := c.direct(ctx, rawURL)
	if err != nil && attachment && fallback != nil {
		log.Debug("direct image fetch failed, using session fetch", "err", err)
		contentType, body, err = viaGetter(ctx, fallback, rawURL)
	}
	if err == nil {
		ext := ExtensionFor(contentType)
		if err = c.write(key+ext, body); err == nil {
			return c.prefix + key + ext
		}
		log.Warn("cache image", "err", err)
	} else {
		log.Debug("image unavailable", "err", err)
	}

	if strings.HasPrefix(rawURL, "http") && !strings.Contains(rawURL, "attachment.php") {
		return rawURL
	}
	return ""
}

// IsAttachment reports whether rawURL needs the forum session to load.
func (c *Cache) IsAttachment(rawURL string) bool {
	if strings.Contains(rawURL, "attachment.php") || !strings.HasPrefix(rawURL, "http") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return slices.ContainsFunc(c.attachmentHosts, func(h string) bool {
		return host == h || strings.HasSuffix(host, "."+h)
	})
}

var errNotImage = errors.New("response is not an image")

func (c *Cache) direct(ctx context.Context, rawURL string) (string, []byte, error) {
	if !strings.HasPrefix(rawURL, "http") {
		return "", nil, fmt.Errorf("not an absolute URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, err
	}
	for k, v := range httputil.ImageHeaders(c.referer) {
		req.Header[k] = v
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", nil, errNotImage
	}
	body, err := httputil.ReadBody(resp)
	return ct, body, err
}

func viaGetter(ctx context.Context, g Getter, rawURL string) (string, []byte, error) {
	resp, err := g.Get(ctx, rawURL)
	if err != nil {
		return "", nil, err
	}
	if !strings.HasPrefix(resp.ContentType(), "image/") {
		return "", nil, errNotImage
	}
	return resp.ContentType(), resp.Body, nil
}

// write lands the file with a rename so concurrent writers of the same
// key never leave a torn file behind.
func (c *Cache) write(name string, body []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// ExtensionFor maps a declared image content type onto one of the cached
// extensions, defaulting to .jpg.
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return defaultExt
	}
	m := mimetype.Lookup(mediaType)
	if m == nil {
		return defaultExt
	}
	ext := m.Extension()
	if ext == ".jpeg" || ext == ".jpe" {
		ext = ".jpg"
	}
	if !slices.Contains(knownExts, ext) {
		return defaultExt
	}
	return ext
}
