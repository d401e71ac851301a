package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lukman83/watchfinder/internal/fetch"
	"github.com/lukman83/watchfinder/internal/logging"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/pricing"
	"github.com/lukman83/watchfinder/internal/store"
	"github.com/lukman83/watchfinder/internal/store/memory"
)

func TestWithProgressSerializesCalls(t *testing.T) {
	calls := 0
	ctx := WithProgress(context.Background(), func(p models.Progress) { calls++ })

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ReportProgress(ctx, models.Progress{Processed: i})
		}(i)
	}
	wg.Wait()
	if calls != 50 {
		t.Errorf("callback ran %d times, want 50", calls)
	}
	ReportProgress(context.Background(), models.Progress{})
}

func TestRegistryOrderAndReplace(t *testing.T) {
	r := NewRegistry()
	nop := func(context.Context, Deps, string) (Adapter, error) { return nil, nil }
	r.Register("b", "https://b", nop)
	r.Register("a", "https://a", nop)
	r.Register("b", "https://b2", nop)

	if got := r.Names(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("Names() = %v, want [b a]", got)
	}
	reg, err := r.Get("b")
	if err != nil || reg.URL != "https://b2" {
		t.Errorf("Get(b) = %+v, %v", reg, err)
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("Get(missing) succeeded")
	}
}

type stubPricer struct {
	res   pricing.Result
	calls int
}

func (p *stubPricer) Check(ctx context.Context, q pricing.Query) pricing.Result {
	p.calls++
	return p.res
}

func TestEnrich(t *testing.T) {
	good := pricing.Result{Rating: pricing.Good, MarketPrice: 10000, PctOfMarket: 95, URL: "https://watchcharts.com/watch_model/1"}
	tests := []struct {
		name    string
		listing models.Listing
		res     pricing.Result
		want    bool
		calls   int
	}{
		{"target year priced", models.Listing{Brand: "Rolex", Year: 2007, Price: 9500}, good, true, 1},
		{"other year", models.Listing{Brand: "Rolex", Year: 2008, Price: 9500}, good, false, 0},
		{"no price", models.Listing{Brand: "Rolex", Year: 2007}, good, false, 0},
		{"no brand", models.Listing{Year: 2007, Price: 9500}, good, false, 0},
		{"no market data", models.Listing{Brand: "Rolex", Year: 2007, Price: 9500}, pricing.Result{Rating: pricing.NoData}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPricer{res: tt.res}
			l := tt.listing
			if got := Enrich(context.Background(), p, &l, 2007); got != tt.want {
				t.Errorf("Enrich() = %v, want %v", got, tt.want)
			}
			if p.calls != tt.calls {
				t.Errorf("pricer called %d times, want %d", p.calls, tt.calls)
			}
			if tt.want && (l.PriceRating != "Good" || l.MarketPrice != 10000 || l.MarketURL == "") {
				t.Errorf("listing not annotated: %+v", l)
			}
		})
	}
	if Enrich(context.Background(), nil, &models.Listing{Brand: "Rolex", Year: 2007, Price: 1}, 2007) {
		t.Error("Enrich with nil pricer reported priced")
	}
}

func TestSaveCounts(t *testing.T) {
	st := memory.New()
	tally := NewTally("test")
	ctx := context.Background()
	log := logging.Or(nil)

	Save(ctx, st, &models.Listing{URL: "u1", Title: "a"}, true, tally, log)
	Save(ctx, st, &models.Listing{URL: "u1", Title: "a2"}, false, tally, log)
	Save(ctx, st, &models.Listing{Title: "no url"}, true, tally, log)

	got := tally.Snapshot()
	if got.New != 1 || got.Updated != 1 || got.Priced != 1 || got.Errors != 1 {
		t.Errorf("stats = %+v", got)
	}
}

type seqGetter struct {
	errs  []error
	calls int
}

func (g *seqGetter) Get(ctx context.Context, rawURL string) (*fetch.Response, error) {
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	return &fetch.Response{URL: rawURL, StatusCode: 200}, nil
}

func TestGetWithCooldown(t *testing.T) {
	log := logging.Or(nil)
	ctx := context.Background()

	g := &seqGetter{errs: []error{fetch.ErrRateLimited, fetch.ErrRateLimited}}
	resp, err := GetWithCooldown(ctx, g, "https://x", time.Millisecond, 3, log)
	if err != nil || resp == nil || g.calls != 3 {
		t.Errorf("recovered fetch = %v, %v after %d calls", resp, err, g.calls)
	}

	g = &seqGetter{errs: []error{fetch.ErrRateLimited, fetch.ErrRateLimited}}
	if _, err := GetWithCooldown(ctx, g, "https://x", time.Millisecond, 2, log); !errors.Is(err, fetch.ErrRateLimited) {
		t.Errorf("exhausted error = %v, want ErrRateLimited", err)
	}

	g = &seqGetter{errs: []error{fetch.ErrBlocked}}
	if _, err := GetWithCooldown(ctx, g, "https://x", time.Millisecond, 3, log); !errors.Is(err, fetch.ErrBlocked) || g.calls != 1 {
		t.Errorf("blocked fetch retried: %v after %d calls", err, g.calls)
	}
}

func TestClip(t *testing.T) {
	if got := Clip("Rolex Dätejust", 9); got != "Rolex Dät" {
		t.Errorf("Clip() = %q", got)
	}
	if got := Clip("short", 80); got != "short" {
		t.Errorf("Clip() = %q", got)
	}
}

func TestPoolStoresEveryItemOnce(t *testing.T) {
	st := memory.New()
	tally := NewTally("test")
	var events atomic.Int32
	ctx := WithProgress(context.Background(), func(models.Progress) { events.Add(1) })

	stubs := make([]models.Stub, 20)
	for i := range stubs {
		stubs[i] = models.Stub{URL: fmt.Sprintf("https://example.com/t/%d", i), Title: fmt.Sprintf("FS: watch %d", i)}
	}
	fetchFn := func(ctx context.Context, s models.Stub) (*models.Listing, error) {
		switch s.URL {
		case stubs[3].URL:
			return nil, ErrMalformed
		case stubs[4].URL:
			return nil, nil
		}
		return &models.Listing{URL: s.URL, Title: s.Title}, nil
	}

	pool := Pool{Source: "test", Store: st, Size: 5, Logger: logging.Or(nil)}
	pool.Run(ctx, stubs, fetchFn, 2007, tally)

	got := tally.Snapshot()
	if got.New != 18 || got.Errors != 1 || got.Updated != 0 {
		t.Errorf("stats = %+v", got)
	}
	if n := events.Load(); n != 20 {
		t.Errorf("%d progress events, want 20", n)
	}
	all, _ := st.Listings(context.Background(), store.ListingFilter{IncludeInactive: true})
	if len(all) != 18 {
		t.Errorf("%d listings stored, want 18", len(all))
	}
}

func TestPoolRecoversPanickingItem(t *testing.T) {
	st := memory.New()
	tally := NewTally("test")
	stubs := []models.Stub{{URL: "https://example.com/t/1"}, {URL: "https://example.com/t/2"}, {URL: "https://example.com/t/3"}}
	fetchFn := func(ctx context.Context, s models.Stub) (*models.Listing, error) {
		if s.URL == stubs[1].URL {
			var l *models.Listing
			l.Title = "boom"
			return l, nil
		}
		return &models.Listing{URL: s.URL, Title: "FS: watch"}, nil
	}

	Pool{Source: "test", Store: st, Size: 2, Logger: logging.Or(nil)}.Run(context.Background(), stubs, fetchFn, 2007, tally)

	got := tally.Snapshot()
	if got.New != 2 || got.Errors != 1 {
		t.Errorf("stats = %+v, want 2 new and 1 error", got)
	}
	all, _ := st.Listings(context.Background(), store.ListingFilter{IncludeInactive: true})
	if len(all) != 2 {
		t.Errorf("%d listings stored, want 2", len(all))
	}
}

func TestPoolStopsWhenCancelled(t *testing.T) {
	st := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	fetchFn := func(ctx context.Context, s models.Stub) (*models.Listing, error) {
		calls.Add(1)
		return &models.Listing{URL: s.URL}, nil
	}
	stubs := []models.Stub{{URL: "a"}, {URL: "b"}, {URL: "c"}}
	Pool{Store: st, Size: 2, Logger: logging.Or(nil)}.Run(ctx, stubs, fetchFn, 0, NewTally("test"))
	if calls.Load() != 0 {
		t.Errorf("fetched %d items after cancellation", calls.Load())
	}
}
