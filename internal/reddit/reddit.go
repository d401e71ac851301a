// Package reddit reads the r/Watchexchange JSON feed. Sellers mostly post
// images and put the details in a comment, so the adapter also reads
// comment threads, both during a run and in Backfill.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
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
	SourceName    = "Reddit r/Watchexchange"
	BaseURL       = "https://www.reddit.com"
	Subreddit     = "/r/Watchexchange"
	PermalinkBase = "https://reddit.com"
	UserAgent     = "WatchFinder/1.0 (personal project; watch listing tracker)"

	pageSize          = 100
	rateLimitAttempts = 3
	titleSnippet      = 80
)

var (
	defaultPageDelay     = 2 * time.Second
	defaultBackfillDelay = 1 * time.Second
	defaultCooldown      = 60 * time.Second

	postIDPattern = regexp.MustCompile(`/comments/([a-z0-9]+)/`)
)

type Option func(*Adapter)

func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.base = strings.TrimRight(u, "/") }
}

// WithDelays sets the pause between feed pages and between backfilled items.
func WithDelays(page, backfill time.Duration) Option {
	return func(a *Adapter) {
		a.pageDelay = page
		a.backfillDelay = backfill
	}
}

func WithCooldown(d time.Duration) Option { return func(a *Adapter) { a.cooldown = d } }

type Adapter struct {
	base          string
	sourceID      int64
	store         store.Store
	fetcher       *fetch.Fetcher
	images        platform.ImageAcquirer
	pricer        platform.Pricer
	poolSize      int
	pageDelay     time.Duration
	backfillDelay time.Duration
	cooldown      time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	cursors map[int]string
}

var (
	_ platform.Adapter    = (*Adapter)(nil)
	_ platform.Backfiller = (*Adapter)(nil)
)

func New(ctx context.Context, deps platform.Deps, cookies string, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		base:          BaseURL,
		store:         deps.Store,
		images:        deps.Images,
		pricer:        deps.Pricer,
		poolSize:      deps.PoolSize,
		pageDelay:     defaultPageDelay,
		backfillDelay: defaultBackfillDelay,
		cooldown:      defaultCooldown,
		logger:        logging.Or(deps.Logger).With("source", SourceName),
		cursors:       map[int]string{1: ""},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.poolSize <= 0 {
		a.poolSize = platform.DefaultPoolSize
	}

	id, err := deps.Store.EnsureSource(ctx, SourceName, BaseURL+Subreddit+"/")
	if err != nil {
		return nil, fmt.Errorf("reddit source: %w", err)
	}
	a.sourceID = id

	fc := deps.Fetch
	fc.Headers = httputil.FeedHeaders(UserAgent)
	fc.Logger = a.logger
	a.fetcher = fetch.New(fc, cookies)
	return a, nil
}

func Factory(opts ...Option) platform.Factory {
	return func(ctx context.Context, deps platform.Deps, cookies string) (platform.Adapter, error) {
		return New(ctx, deps, cookies, opts...)
	}
}

func (a *Adapter) Name() string { return SourceName }

type feedPage struct {
	stubs []models.Stub
	after string
}

func (a *Adapter) feedURL(after string) string {
	u := fmt.Sprintf("%s%s/new.json?limit=%d&sort=new", a.base, Subreddit, pageSize)
	if after != "" {
		u += "&after=" + url.QueryEscape(after)
	}
	return u
}

func (a *Adapter) page(ctx context.Context, after string) (feedPage, error) {
	resp, err := platform.GetWithCooldown(ctx, a.fetcher, a.feedURL(after), a.cooldown, rateLimitAttempts, a.logger)
	if err != nil {
		return feedPage{}, err
	}
	var l listing
	if err := json.Unmarshal(resp.Body, &l); err != nil {
		return feedPage{}, fmt.Errorf("decode feed: %w", err)
	}

	out := feedPage{after: l.Data.After}
	for _, child := range l.Data.Children {
		var p post
		if err := json.Unmarshal(child.Data, &p); err != nil {
			a.logger.Warn("undecodable post", "err", err)
			continue
		}
		out.stubs = append(out.stubs, models.Stub{
			URL:     PermalinkBase + p.Permalink,
			Title:   p.Title,
			Seller:  p.Author,
			Payload: child.Data,
		})
	}
	return out, nil
}

// ListStubs returns one feed page. Pages are cursor-linked, so page n is
// only reachable after page n-1 has been listed.
func (a *Adapter) ListStubs(ctx context.Context, page int) ([]models.Stub, error) {
	a.mu.Lock()
	after, ok := a.cursors[page]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("feed page %d has no cursor yet; list page %d first", page, page-1)
	}

	p, err := a.page(ctx, after)
	if err != nil {
		return nil, err
	}
	if p.after != "" {
		a.mu.Lock()
		a.cursors[page+1] = p.after
		a.mu.Unlock()
	}
	return p.stubs, nil
}

// FetchDetail builds a listing from the post carried in the stub. Posts
// without body text borrow the best comment from their thread.
func (a *Adapter) FetchDetail(ctx context.Context, stub models.Stub) (*models.Listing, error) {
	p, err := a.postFor(ctx, stub)
	if err != nil {
		return nil, err
	}
	if !extract.IsForSale(p.Title) || wantedFlair(p.LinkFlairText) {
		return nil, nil
	}

	thread := ""
	if strings.TrimSpace(p.Selftext) == "" && p.ID != "" {
		thread, err = a.bestComment(ctx, p.ID, p.Author)
		if err != nil {
			a.logger.Warn("comment thread unavailable", "post", p.ID, "err", err)
		}
	}

	f := extract.Parse(p.Title, strings.TrimSpace(p.Selftext+" "+thread))
	image := pickImage(p)
	if image != "" && a.images != nil {
		image = a.images.Acquire(ctx, image, a.fetcher)
	}
	description := p.Selftext
	if description == "" {
		description = thread
	}

	a.logger.Info("parsed post",
		"price", f.Price, "year", f.Year, "brand", f.Brand,
		"image", image != "", "title", platform.Clip(p.Title, titleSnippet))

	return &models.Listing{
		SourceID:    a.sourceID,
		URL:         PermalinkBase + p.Permalink,
		Title:       p.Title,
		Brand:       f.Brand,
		Model:       f.Model,
		Reference:   f.Reference,
		Year:        f.Year,
		Price:       f.Price,
		Currency:    models.DefaultCurrency,
		Condition:   f.Condition,
		Seller:      p.Author,
		Description: extract.Truncate(description, extract.MaxDescription),
		ImageURL:    image,
		DateListed:  p.created(),
	}, nil
}

// postFor decodes the stub payload, or loads the post from its thread
// when the stub came from somewhere other than the feed.
func (a *Adapter) postFor(ctx context.Context, stub models.Stub) (*post, error) {
	if len(stub.Payload) > 0 {
		var p post
		if err := json.Unmarshal(stub.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		return &p, nil
	}
	id := PostID(stub.URL)
	if id == "" {
		return nil, fmt.Errorf("%s: %w", stub.URL, platform.ErrMalformed)
	}
	p, _, err := a.thread(ctx, id)
	return p, err
}

// PostID extracts the post id from a permalink, or "" when there is none.
func PostID(permalink string) string {
	m := postIDPattern.FindStringSubmatch(permalink)
	if m == nil {
		return ""
	}
	return m[1]
}

// thread loads a post and its top-level comments.
func (a *Adapter) thread(ctx context.Context, id string) (*post, []comment, error) {
	u := fmt.Sprintf("%s%s/comments/%s.json", a.base, Subreddit, id)
	resp, err := platform.GetWithCooldown(ctx, a.fetcher, u, a.cooldown, rateLimitAttempts, a.logger)
	if err != nil {
		return nil, nil, err
	}
	var parts []listing
	if err := json.Unmarshal(resp.Body, &parts); err != nil {
		return nil, nil, fmt.Errorf("decode thread %s: %w", id, err)
	}
	if len(parts) < 2 || len(parts[0].Data.Children) == 0 {
		return nil, nil, fmt.Errorf("thread %s: %w", id, platform.ErrMalformed)
	}

	var p post
	if err := json.Unmarshal(parts[0].Data.Children[0].Data, &p); err != nil {
		return nil, nil, fmt.Errorf("decode thread %s: %w", id, err)
	}
	var comments []comment
	for _, child := range parts[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		var c comment
		if err := json.Unmarshal(child.Data, &c); err == nil {
			comments = append(comments, c)
		}
	}
	return &p, comments, nil
}

func (a *Adapter) bestComment(ctx context.Context, id, op string) (string, error) {
	_, comments, err := a.thread(ctx, id)
	if err != nil {
		return "", err
	}
	return bestComment(comments, op), nil
}

// Run follows the feed cursor newest first. It stops at the last page, or
// at the first page that offers nothing new, since older pages cannot.
func (a *Adapter) Run(ctx context.Context, opts platform.RunOptions) models.RunStats {
	tally := platform.NewTally(SourceName)
	defer func() {
		if err := a.store.MarkSourceScraped(context.WithoutCancel(ctx), a.sourceID, time.Now()); err != nil {
			a.logger.Error("mark source scraped", "err", err)
		}
	}()

	after := ""
	for n := 1; n <= opts.Pages; n++ {
		if ctx.Err() != nil {
			break
		}
		a.logger.Info("fetching feed page", "page", n)
		p, err := a.page(ctx, after)
		if err != nil || len(p.stubs) == 0 {
			if errors.Is(err, fetch.ErrBlocked) || isForbidden(err) {
				a.logger.Warn("feed refused; datacenter IPs are commonly blocked, try running locally", "err", err)
			}
			tally.Update(func(s *models.RunStats) {
				s.Errors++
				s.Blocked = true
			})
			a.logger.Warn("feed page unusable, stopping", "page", n, "posts", len(p.stubs), "err", err)
			break
		}

		fresh := a.unseen(ctx, p.stubs)
		a.logger.Info("feed page parsed", "page", n,
			"posts", len(p.stubs), "new", len(fresh), "known", len(p.stubs)-len(fresh))
		tally.Update(func(s *models.RunStats) {
			s.Pages++
			s.Items += len(p.stubs)
		})

		a.pool().Run(ctx, fresh, a.FetchDetail, opts.TargetYear, tally)

		if p.after == "" {
			break
		}
		if len(fresh) == 0 {
			a.logger.Info("no new posts on page, stopping early", "page", n)
			break
		}
		after = p.after
		if n < opts.Pages {
			if err := httputil.Sleep(ctx, a.pageDelay); err != nil {
				break
			}
		}
	}
	return tally.Snapshot()
}

func (a *Adapter) pool() platform.Pool {
	return platform.Pool{Source: SourceName, Store: a.store, Pricer: a.pricer, Size: a.poolSize, Logger: a.logger}
}

// unseen keeps sale posts that are not stored yet.
func (a *Adapter) unseen(ctx context.Context, stubs []models.Stub) []models.Stub {
	var out []models.Stub
	for _, s := range stubs {
		if !extract.IsForSale(s.Title) {
			continue
		}
		var p struct {
			Flair string `json:"link_flair_text"`
		}
		if json.Unmarshal(s.Payload, &p) == nil && wantedFlair(p.Flair) {
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

func isForbidden(err error) bool {
	var se *fetch.StatusError
	return errors.As(err, &se) && se.Code == 403
}

// Backfill revisits stored posts that still have no price, in case the
// seller has since commented with one. Other columns are only filled
// where empty.
func (a *Adapter) Backfill(ctx context.Context, targetYear int) models.BackfillStats {
	var stats models.BackfillStats
	rows, err := a.store.UnpricedListings(ctx, a.sourceID)
	if err != nil {
		a.logger.Error("load unpriced listings", "err", err)
		stats.Errors++
		return stats
	}
	a.logger.Info("backfill starting", "listings", len(rows), "target_year", targetYear)

	for i, l := range rows {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := httputil.Sleep(ctx, a.backfillDelay); err != nil {
				break
			}
		}

		id := PostID(l.URL)
		if id == "" {
			stats.Skipped++
			continue
		}
		body, err := a.bestComment(ctx, id, l.Seller)
		if err != nil {
			a.logger.Warn("backfill thread failed", "listing", l.ID, "err", err)
			stats.Errors++
			continue
		}
		f := extract.Parse(l.Title, body)
		if body == "" || f.Price <= 0 {
			a.logger.Debug("no price in thread", "post", id, "body", platform.Clip(body, 100))
			stats.Skipped++
			continue
		}

		err = a.store.ApplyBackfill(ctx, l.ID, store.BackfillUpdate{
			Price:       f.Price,
			Brand:       f.Brand,
			Year:        f.Year,
			Condition:   f.Condition,
			Description: extract.Truncate(body, extract.MaxDescription),
		})
		if err != nil {
			a.logger.Warn("backfill update failed", "listing", l.ID, "err", err)
			stats.Errors++
			continue
		}
		a.logger.Info("backfilled listing", "listing", l.ID, "post", id, "price", f.Price)
		stats.Updated++
	}
	a.logger.Info("backfill done", "updated", stats.Updated, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats
}
