// Package storetest holds behaviour checks every store.Store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/store"
)

// Run exercises a fresh store from open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"DefaultSources", testDefaultSources},
		{"UpsertNewThenUpdate", testUpsertNewThenUpdate},
		{"ConcurrentUpsertSameURL", testConcurrentUpsert},
		{"MarkSourceScraped", testMarkSourceScraped},
		{"Settings", testSettings},
		{"Backfill", testBackfill},
		{"ListingsFilter", testListingsFilter},
		{"Stats", testStats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func sourceID(t *testing.T, s store.Store, name string) int64 {
	t.Helper()
	id, err := s.SourceID(context.Background(), name)
	if err != nil {
		t.Fatalf("SourceID(%q): %v", name, err)
	}
	return id
}

func testDefaultSources(t *testing.T, s store.Store) {
	ctx := context.Background()
	srcs, err := s.Sources(ctx)
	if err != nil {
		t.Fatalf("Sources() error: %v", err)
	}
	if len(srcs) != len(store.DefaultSources) {
		t.Fatalf("got %d sources, want %d", len(srcs), len(store.DefaultSources))
	}
	for _, want := range store.DefaultSources {
		sourceID(t, s, want.Name)
	}
	if _, err := s.SourceID(ctx, "Nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SourceID(unknown) error = %v, want ErrNotFound", err)
	}

	id1, err := s.EnsureSource(ctx, "WatchUSeek", "https://www.watchuseek.com/")
	if err != nil {
		t.Fatalf("EnsureSource() error: %v", err)
	}
	id2, _ := s.EnsureSource(ctx, "WatchUSeek", "https://example.com/")
	if id1 != id2 {
		t.Errorf("EnsureSource not idempotent: %d vs %d", id1, id2)
	}
}

func testUpsertNewThenUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	src := sourceID(t, s, store.DefaultSources[0].Name)
	l := &models.Listing{
		SourceID: src,
		URL:      "https://www.rolexforums.com/showthread.php?t=1",
		Title:    "FS: Rolex Submariner 16610",
		Brand:    "Rolex",
		Price:    9500,
	}
	if exists, _ := s.ListingExists(ctx, l.URL); exists {
		t.Fatal("listing exists before insert")
	}

	id, isNew, err := s.UpsertListing(ctx, l)
	if err != nil || !isNew {
		t.Fatalf("first upsert = (%d, %v, %v), want new", id, isNew, err)
	}
	first, err := s.Listing(ctx, id)
	if err != nil {
		t.Fatalf("Listing(%d): %v", id, err)
	}
	if first.Currency != models.DefaultCurrency || !first.IsActive || first.DateFound.IsZero() {
		t.Errorf("inserted row = %+v", first)
	}
	if first.SourceName != store.DefaultSources[0].Name {
		t.Errorf("SourceName = %q", first.SourceName)
	}

	other := sourceID(t, s, store.DefaultSources[1].Name)
	update := &models.Listing{
		SourceID: other,
		URL:      l.URL,
		Title:    "FS: Rolex Submariner 16610 price drop",
		Brand:    "Rolex",
		Price:    9000,
	}
	id2, isNew, err := s.UpsertListing(ctx, update)
	if err != nil || isNew || id2 != id {
		t.Fatalf("second upsert = (%d, %v, %v), want (%d, false, nil)", id2, isNew, err, id)
	}
	got, _ := s.Listing(ctx, id)
	if got.Title != update.Title || got.Price != 9000 {
		t.Errorf("mutable fields not updated: %+v", got)
	}
	if got.SourceID != src || !got.DateFound.Equal(first.DateFound) {
		t.Errorf("immutable fields changed: source %d found %v", got.SourceID, got.DateFound)
	}
	if exists, _ := s.ListingExists(ctx, l.URL); !exists {
		t.Error("ListingExists() = false after upsert")
	}
}

func testConcurrentUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	src := sourceID(t, s, store.DefaultSources[1].Name)
	const workers = 12

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, isNew, err := s.UpsertListing(ctx, &models.Listing{
				SourceID: src,
				URL:      "https://reddit.com/r/Watchexchange/comments/abc123/x/",
				Title:    fmt.Sprintf("[WTS] Tudor BB58 #%d", i),
			})
			if err != nil {
				t.Errorf("upsert %d: %v", i, err)
				return
			}
			if isNew {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("%d upserts reported new, want exactly 1", created)
	}
	all, err := s.Listings(ctx, store.ListingFilter{IncludeInactive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("%d rows for one URL, want 1", len(all))
	}
}

func testMarkSourceScraped(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := sourceID(t, s, store.DefaultSources[0].Name)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkSourceScraped(ctx, id, at); err != nil {
		t.Fatalf("MarkSourceScraped() error: %v", err)
	}
	srcs, _ := s.Sources(ctx)
	for _, src := range srcs {
		if src.ID != id {
			continue
		}
		if src.LastScraped == nil || !src.LastScraped.Equal(at) {
			t.Errorf("LastScraped = %v, want %v", src.LastScraped, at)
		}
	}
	if err := s.MarkSourceScraped(ctx, 9999, at); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown source error = %v, want ErrNotFound", err)
	}
}

func testSettings(t *testing.T, s store.Store) {
	ctx := context.Background()
	if v, _ := s.Setting(ctx, store.KeyScrapePages, "3"); v != "3" {
		t.Errorf("default Setting() = %q, want 3", v)
	}
	key := store.CookieKey("RolexForums BST")
	if err := s.SetSetting(ctx, key, "bb_sessionhash=abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, key, "bb_sessionhash=def"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Setting(ctx, key, ""); v != "bb_sessionhash=def" {
		t.Errorf("Setting() = %q after overwrite", v)
	}
	all, err := s.Settings(ctx)
	if err != nil || len(all) != 1 || all[key] != "bb_sessionhash=def" {
		t.Errorf("Settings() = %v, %v", all, err)
	}
}

func testBackfill(t *testing.T, s store.Store) {
	ctx := context.Background()
	src := sourceID(t, s, store.DefaultSources[1].Name)
	bare := &models.Listing{SourceID: src, URL: "https://reddit.com/r/Watchexchange/comments/p1/a/", Title: "[WTS] Omega"}
	known := &models.Listing{SourceID: src, URL: "https://reddit.com/r/Watchexchange/comments/p2/b/", Title: "[WTS] Rolex", Brand: "Rolex", Year: 2007}
	priced := &models.Listing{SourceID: src, URL: "https://reddit.com/r/Watchexchange/comments/p3/c/", Title: "[WTS] Tudor", Price: 3000}
	for _, l := range []*models.Listing{bare, known, priced} {
		if _, _, err := s.UpsertListing(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	unpriced, err := s.UnpricedListings(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(unpriced) != 2 {
		t.Fatalf("UnpricedListings() = %d rows, want 2", len(unpriced))
	}

	u := store.BackfillUpdate{Price: 4200, Brand: "Omega", Year: 2015, Condition: "Excellent", Description: "asking 4200"}
	for _, l := range unpriced {
		if err := s.ApplyBackfill(ctx, l.ID, u); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := s.Listing(ctx, bare.ID)
	if got.Price != 4200 || got.Brand != "Omega" || got.Year != 2015 || got.Description != "asking 4200" {
		t.Errorf("bare listing after backfill = %+v", got)
	}
	got, _ = s.Listing(ctx, known.ID)
	if got.Brand != "Rolex" || got.Year != 2007 || got.Price != 4200 {
		t.Errorf("known fields overwritten: %+v", got)
	}
	if err := s.ApplyBackfill(ctx, 424242, u); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ApplyBackfill(unknown) error = %v, want ErrNotFound", err)
	}
}

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	forum := sourceID(t, s, store.DefaultSources[0].Name)
	feed := sourceID(t, s, store.DefaultSources[1].Name)
	rows := []models.Listing{
		{SourceID: forum, URL: "u1", Title: "Rolex GMT 16710", Brand: "Rolex", Model: "GMT-Master II", Year: 2007, Price: 12000, PriceRating: "Good"},
		{SourceID: forum, URL: "u2", Title: "Rolex Explorer II", Brand: "Rolex", Year: 2011, Price: 8000, PriceRating: "Great"},
		{SourceID: feed, URL: "u3", Title: "Omega Speedmaster", Brand: "Omega", Year: 2007, Price: 4000, PriceRating: "High"},
		{SourceID: feed, URL: "u4", Title: "Seiko SKX", Brand: "Seiko", Price: 250, Condition: "Pre-owned"},
	}
	for i := range rows {
		if _, _, err := s.UpsertListing(ctx, &rows[i]); err != nil {
			t.Fatal(err)
		}
	}
}

func urls(ls []models.Listing) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.URL
	}
	return out
}

func testListingsFilter(t *testing.T, s store.Store) {
	seed(t, s)
	ctx := context.Background()
	tests := []struct {
		name   string
		filter store.ListingFilter
		want   []string
	}{
		{"brand case-insensitive", store.ListingFilter{Brand: "rolex", Sort: "price", Order: "asc"}, []string{"u2", "u1"}},
		{"year", store.ListingFilter{Year: 2007, Sort: "price", Order: "desc"}, []string{"u1", "u3"}},
		{"year range", store.ListingFilter{YearMin: 2010, Sort: "year"}, []string{"u2"}},
		{"price range", store.ListingFilter{PriceMin: 1000, PriceMax: 9000, Sort: "price", Order: "asc"}, []string{"u3", "u2"}},
		{"ratings", store.ListingFilter{Ratings: []string{"Great", "Good"}, Sort: "price", Order: "asc"}, []string{"u2", "u1"}},
		{"source", store.ListingFilter{Source: "reddit", Sort: "price", Order: "asc"}, []string{"u4", "u3"}},
		{"search", store.ListingFilter{Search: "gmt-master"}, []string{"u1"}},
		{"condition", store.ListingFilter{Condition: "pre-owned"}, []string{"u4"}},
		{"paging", store.ListingFilter{Sort: "price", Order: "asc", Limit: 2, Offset: 1}, []string{"u3", "u2"}},
		{"unknown sort falls back", store.ListingFilter{Sort: "id; DROP TABLE listings", Brand: "Seiko"}, []string{"u4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Listings(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Listings() error: %v", err)
			}
			if fmt.Sprint(urls(got)) != fmt.Sprint(tt.want) {
				t.Errorf("Listings() = %v, want %v", urls(got), tt.want)
			}
		})
	}
}

func testStats(t *testing.T, s store.Store) {
	seed(t, s)
	sum, err := s.Stats(context.Background(), 2007)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 4 || sum.Active != 4 || sum.TargetYearCount != 2 {
		t.Errorf("Stats() counts = %+v", sum)
	}
	if sum.ByRating["Good"] != 1 || sum.ByRating["Great"] != 1 || sum.ByRating["High"] != 1 {
		t.Errorf("ByRating = %v", sum.ByRating)
	}
	if sum.BySource[store.DefaultSources[0].Name] != 2 || sum.BySource[store.DefaultSources[1].Name] != 2 {
		t.Errorf("BySource = %v", sum.BySource)
	}
}
