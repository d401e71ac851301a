package platform

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lukman83/watchfinder/internal/fetch"
	"github.com/lukman83/watchfinder/internal/httputil"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/pricing"
	"github.com/lukman83/watchfinder/internal/store"
)

// Tally is a RunStats shared by pooled workers.
type Tally struct {
	mu    sync.Mutex
	stats models.RunStats
}

func NewTally(source string) *Tally {
	return &Tally{stats: models.RunStats{Source: source}}
}

func (t *Tally) Update(fn func(s *models.RunStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
}

func (t *Tally) Snapshot() models.RunStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Enrich rates l against the market when it is a target-year listing with
// an asking price and a known brand. It reports whether a rating was found.
func Enrich(ctx context.Context, p Pricer, l *models.Listing, targetYear int) bool {
	if p == nil || targetYear == 0 || l.Year != targetYear || l.Price <= 0 || l.Brand == "" {
		return false
	}
	res := p.Check(ctx, pricing.Query{
		Brand:     l.Brand,
		Model:     l.Model,
		Reference: l.Reference,
		Asking:    l.Price,
	})
	l.PriceRating = string(res.Rating)
	l.MarketPrice = res.MarketPrice
	l.PriceDeltaPct = res.PctOfMarket
	l.MarketURL = res.URL
	return l.PriceRating != "" && res.Rating != pricing.NoData
}

// Save upserts l and counts the outcome. A store failure drops the item.
func Save(ctx context.Context, st store.Store, l *models.Listing, priced bool, t *Tally, logger *slog.Logger) {
	_, isNew, err := st.UpsertListing(ctx, l)
	t.Update(func(s *models.RunStats) {
		switch {
		case err != nil:
			s.Errors++
			return
		case isNew:
			s.New++
		default:
			s.Updated++
		}
		if priced {
			s.Priced++
		}
	})
	if err != nil {
		logger.Error("save listing", "url", l.URL, "err", err)
	}
}

type Getter interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// GetWithCooldown retries rate-limited fetches after a fixed cooldown,
// giving up after attempts tries.
func GetWithCooldown(ctx context.Context, g Getter, rawURL string, cooldown time.Duration, attempts int, logger *slog.Logger) (*fetch.Response, error) {
	attempts = max(attempts, 1)
	var err error
	for i := range attempts {
		var resp *fetch.Response
		resp, err = g.Get(ctx, rawURL)
		if !errors.Is(err, fetch.ErrRateLimited) {
			return resp, err
		}
		if i == attempts-1 {
			break
		}
		logger.Warn("rate limited, cooling down", "url", rawURL, "cooldown", cooldown)
		if serr := httputil.Sleep(ctx, cooldown); serr != nil {
			return nil, serr
		}
	}
	return nil, err
}

// Clip shortens a title for progress events.
func Clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
