package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRate(t *testing.T) {
	tests := []struct {
		asking, market float64
		want           Rating
	}{
		{900, 1000, Great},
		{1000, 1000, Good},
		{1090, 1000, Fair},
		{1200, 1000, High},
		{1000, 0, NoData},
		{1000, -5, NoData},
	}
	for _, tt := range tests {
		if got, _ := Rate(tt.asking, tt.market); got != tt.want {
			t.Errorf("Rate(%v, %v) = %s, want %s", tt.asking, tt.market, got, tt.want)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{100, 300, 200}); got != 200 {
		t.Errorf("odd median = %v, want 200", got)
	}
	// Even counts take index len/2, the upper central value.
	if got := Median([]float64{400, 100, 300, 200}); got != 300 {
		t.Errorf("even median = %v, want 300", got)
	}
	if got := Median(nil); got != 0 {
		t.Errorf("empty median = %v, want 0", got)
	}
}

func nextData(pageProps string) string {
	return fmt.Sprintf(`<html><head></head><body><div id="__next"></div>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":%s}}</script></body></html>`, pageProps)
}

type fakeWatchCharts struct {
	searchAPI   string
	searchPage  string
	watchPage   string
	marketplace string
	hits        atomic.Int32
}

func (f *fakeWatchCharts) server(t *testing.T) (*httptest.Server, *Resolver) {
	t.Helper()
	serve := func(body string, contentType string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.hits.Add(1)
			if body == "" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", contentType)
			fmt.Fprint(w, body)
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/watches/search/", serve(f.searchAPI, "application/json"))
	mux.HandleFunc("/watches", serve(f.searchPage, "text/html"))
	mux.HandleFunc("/watches/", serve(f.watchPage, "text/html"))
	mux.HandleFunc("/listings", serve(f.marketplace, "text/html"))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := NewResolver(srv.Client(),
		WithStageDelay(0),
		WithEndpoints(Endpoints{
			SearchAPI:   srv.URL + "/api/watches/search/",
			SearchPage:  srv.URL + "/watches",
			WatchPage:   srv.URL + "/watches/",
			Marketplace: srv.URL + "/listings",
		}),
	)
	return srv, r
}

func TestCheckUsesSearchResultPrice(t *testing.T) {
	f := &fakeWatchCharts{searchAPI: `[{"slug":"rolex-submariner-16610","market_price":9000}]`}
	srv, r := f.server(t)

	got := r.Check(context.Background(), Query{Brand: "Rolex", Reference: "16610", Asking: 8000})

	if got.Rating != Great || got.Source != FromSearch {
		t.Fatalf("got %+v", got)
	}
	if got.MarketPrice != 9000 || got.PctOfMarket != 88.9 {
		t.Errorf("market = %v pct = %v", got.MarketPrice, got.PctOfMarket)
	}
	if want := srv.URL + "/watches/rolex-submariner-16610"; got.URL != want {
		t.Errorf("url = %q, want %q", got.URL, want)
	}
}

func TestCheckFallsBackToChartPage(t *testing.T) {
	f := &fakeWatchCharts{
		searchAPI: `{"results":[{"slug":"omega-speedmaster","market_price":null}]}`,
		watchPage: nextData(`{"watch":{"price":0,"priceData":{"median":12000}}}`),
	}
	_, r := f.server(t)

	got := r.Check(context.Background(), Query{Brand: "Omega", Model: "Speedmaster", Asking: 12000})

	if got.Source != FromChartPage || got.Rating != Good {
		t.Fatalf("got %+v", got)
	}
	if got.MarketPrice != 12000 || got.PctOfMarket != 100 {
		t.Errorf("market = %v pct = %v", got.MarketPrice, got.PctOfMarket)
	}
}

func TestCheckSearchPageFallback(t *testing.T) {
	f := &fakeWatchCharts{
		searchPage: nextData(`{"watches":[{"id":42,"brand":{"name":"Omega"},"price":5000}]}`),
	}
	srv, r := f.server(t)

	got := r.Check(context.Background(), Query{Brand: "Omega", Reference: "3570.50", Asking: 5400})

	if got.Source != FromSearch || got.Rating != Fair {
		t.Fatalf("got %+v", got)
	}
	if got.URL != srv.URL+"/watches/42" {
		t.Errorf("url = %q", got.URL)
	}
}

func TestCheckMarketplaceMedian(t *testing.T) {
	f := &fakeWatchCharts{
		searchAPI:   `[]`,
		marketplace: nextData(`{"listings":[{"price":100},{"price":300},{"amount":200},{"price":0}]}`),
	}
	srv, r := f.server(t)

	got := r.Check(context.Background(), Query{Brand: "Rolex", Reference: "16610", Asking: 150})

	if got.Source != FromMarketplace || got.MarketPrice != 200 || got.Rating != Great {
		t.Fatalf("got %+v", got)
	}
	if want := srv.URL + "/listings?brand=Rolex&ref=16610"; got.URL != want {
		t.Errorf("url = %q, want %q", got.URL, want)
	}
}

func TestCheckNoData(t *testing.T) {
	f := &fakeWatchCharts{}
	_, r := f.server(t)

	got := r.Check(context.Background(), Query{Brand: "Zenith", Model: "El Primero", Asking: 4000})
	if got.Rating != NoData || got.MarketPrice != 0 {
		t.Errorf("got %+v, want no data", got)
	}
}

func TestCheckSkipsNonPositiveAsking(t *testing.T) {
	f := &fakeWatchCharts{searchAPI: `[{"slug":"x","market_price":9000}]`}
	_, r := f.server(t)

	got := r.Check(context.Background(), Query{Brand: "Rolex", Reference: "16610", Asking: 0})
	if got.Rating != NoData {
		t.Errorf("rating = %s, want N/A", got.Rating)
	}
	if n := f.hits.Load(); n != 0 {
		t.Errorf("made %d requests, want 0", n)
	}
}
