// Package forum scrapes the RolexForums buy/sell/trade board, a vBulletin
// forum behind Cloudflare bot management.
package forum

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/lukman83/watchfinder/internal/extract"
	"github.com/lukman83/watchfinder/internal/fetch"
	"github.com/lukman83/watchfinder/internal/httputil"
	"github.com/lukman83/watchfinder/internal/logging"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/platform"
	"github.com/lukman83/watchfinder/internal/store"
)

const (
	SourceName = "RolexForums BST"
	BaseURL    = "https://www.rolexforums.com"
	IndexPath  = "/forumdisplay.php?f=9"

	defaultCooldown   = 60 * time.Second
	rateLimitAttempts = 3
	titleSnippet      = 80
)

type Option func(*Adapter)

// WithBaseURL points the adapter at another host serving the same layout.
func WithBaseURL(u string) Option {
	return func(a *Adapter) {
		if parsed, err := url.Parse(u); err == nil {
			a.base = parsed
		}
	}
}

// WithCooldown sets the pause after a rate-limit response.
func WithCooldown(d time.Duration) Option { return func(a *Adapter) { a.cooldown = d } }

type Adapter struct {
	base     *url.URL
	sourceID int64
	store    store.Store
	fetcher  *fetch.Fetcher
	images   platform.ImageAcquirer
	pricer   platform.Pricer
	poolSize int
	cooldown time.Duration
	logger   *slog.Logger
}

var _ platform.Adapter = (*Adapter)(nil)

func New(ctx context.Context, deps platform.Deps, cookies string, opts ...Option) (*Adapter, error) {
	base, _ := url.Parse(BaseURL)
	a := &Adapter{
		base:     base,
		store:    deps.Store,
		images:   deps.Images,
		pricer:   deps.Pricer,
		poolSize: deps.PoolSize,
		cooldown: defaultCooldown,
		logger:   logging.Or(deps.Logger).With("source", SourceName),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.poolSize <= 0 {
		a.poolSize = platform.DefaultPoolSize
	}

	id, err := deps.Store.EnsureSource(ctx, SourceName, BaseURL+IndexPath)
	if err != nil {
		return nil, fmt.Errorf("forum source: %w", err)
	}
	a.sourceID = id

	fc := deps.Fetch
	fc.Headers = httputil.BrowserHeaders()
	fc.Logger = a.logger
	a.fetcher = fetch.New(fc, cookies)
	if !a.fetcher.HasCookies() {
		a.logger.Info("no session cookies; attachments and members-only threads may be unavailable")
	}
	return a, nil
}

// Factory registers the adapter with a platform.Registry.
func Factory(opts ...Option) platform.Factory {
	return func(ctx context.Context, deps platform.Deps, cookies string) (platform.Adapter, error) {
		return New(ctx, deps, cookies, opts...)
	}
}

func (a *Adapter) Name() string { return SourceName }

func (a *Adapter) indexURL(page int) string {
	u := a.base.String() + IndexPath
	if page > 1 {
		u += fmt.Sprintf("&page=%d", page)
	}
	return u
}

func (a *Adapter) ListStubs(ctx context.Context, page int) ([]models.Stub, error) {
	resp, err := platform.GetWithCooldown(ctx, a.fetcher, a.indexURL(page), a.cooldown, rateLimitAttempts, a.logger)
	if err != nil {
		return nil, err
	}
	return parseIndex(resp.Body, a.base)
}

func (a *Adapter) FetchDetail(ctx context.Context, stub models.Stub) (*models.Listing, error) {
	resp, err := platform.GetWithCooldown(ctx, a.fetcher, stub.URL, a.cooldown, rateLimitAttempts, a.logger)
	if err != nil {
		return nil, err
	}
	t, err := parseThread(resp.Body, a.base, stub.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stub.URL, err)
	}

	f := extract.Parse(stub.Title, t.Body)
	image := t.Image
	if image != "" && a.images != nil {
		image = a.images.Acquire(ctx, image, a.fetcher)
	}
	seller := stub.Seller
	if seller == "" {
		seller = t.Seller
	}

	a.logger.Info("parsed thread",
		"price", f.Price, "year", f.Year, "brand", f.Brand,
		"image", image != "", "title", platform.Clip(stub.Title, titleSnippet))

	return &models.Listing{
		SourceID:    a.sourceID,
		URL:         stub.URL,
		Title:       stub.Title,
		Brand:       f.Brand,
		Model:       f.Model,
		Reference:   f.Reference,
		Year:        f.Year,
		Price:       f.Price,
		Currency:    models.DefaultCurrency,
		Condition:   f.Condition,
		Seller:      seller,
		Description: extract.Truncate(t.Body, extract.MaxDescription),
		ImageURL:    image,
		DateListed:  parseDate(stub.Date),
	}, nil
}

// Run walks index pages in order and fetches unseen sale threads through a
// bounded worker pool. An index page that fails or parses empty ends the
// run with Blocked set.
func (a *Adapter) Run(ctx context.Context, opts platform.RunOptions) models.RunStats {
	tally := platform.NewTally(SourceName)
	defer func() {
		if err := a.store.MarkSourceScraped(context.WithoutCancel(ctx), a.sourceID, time.Now()); err != nil {
			a.logger.Error("mark source scraped", "err", err)
		}
	}()

	for page := 1; page <= opts.Pages; page++ {
		if ctx.Err() != nil {
			break
		}
		a.logger.Info("fetching index page", "page", page)
		stubs, err := a.ListStubs(ctx, page)
		if err != nil || len(stubs) == 0 {
			tally.Update(func(s *models.RunStats) {
				s.Errors++
				s.Blocked = true
			})
			a.logger.Warn("index page unusable, stopping", "page", page, "threads", len(stubs), "err", err)
			break
		}

		fresh := a.unseen(ctx, stubs)
		a.logger.Info("index page parsed", "page", page,
			"threads", len(stubs), "new", len(fresh), "known", len(stubs)-len(fresh))
		tally.Update(func(s *models.RunStats) {
			s.Pages++
			s.Items += len(fresh)
		})

		a.pool().Run(ctx, fresh, a.FetchDetail, opts.TargetYear, tally)
	}
	return tally.Snapshot()
}

func (a *Adapter) pool() platform.Pool {
	return platform.Pool{Source: SourceName, Store: a.store, Pricer: a.pricer, Size: a.poolSize, Logger: a.logger}
}

// unseen keeps sale threads whose URL is not stored yet.
func (a *Adapter) unseen(ctx context.Context, stubs []models.Stub) []models.Stub {
	var out []models.Stub
	for _, s := range stubs {
		if !extract.IsForSale(s.Title) {
			continue
		}
		exists, err := a.store.ListingExists(ctx, s.URL)
		if err != nil {
			a.logger.Warn("listing lookup failed", "url", s.URL, "err", err)
		}
		if !exists {
			out = append(out, s)
		}
	}
	return out
}
