// Package pricing rates asking prices against WatchCharts market data.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lukman83/watchfinder/internal/httputil"
	"github.com/lukman83/watchfinder/internal/logging"
)

type Source string

const (
	FromSearch      Source = "search_result"
	FromChartPage   Source = "chart_page"
	FromMarketplace Source = "marketplace_median"
)

type Query struct {
	Brand     string
	Model     string
	Reference string
	Asking    float64
}

type Result struct {
	Rating      Rating  `json:"rating"`
	MarketPrice float64 `json:"market_price,omitempty"`
	PctOfMarket float64 `json:"pct_of_market,omitempty"`
	Source      Source  `json:"source,omitempty"`
	URL         string  `json:"url,omitempty"`
}

// Endpoints are the WatchCharts URLs the resolver talks to.
type Endpoints struct {
	SearchAPI   string
	SearchPage  string
	WatchPage   string // slug is appended
	Marketplace string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		SearchAPI:   "https://watchcharts.com/api/watches/search/",
		SearchPage:  "https://watchcharts.com/watches",
		WatchPage:   "https://watchcharts.com/watches/",
		Marketplace: "https://marketplace.watchcharts.com/listings",
	}
}

// Resolver walks search, chart page and marketplace median in order,
// stopping at the first positive market price.
type Resolver struct {
	client     *http.Client
	endpoints  Endpoints
	stageDelay time.Duration
	logger     *slog.Logger
}

type Option func(*Resolver)

func WithEndpoints(e Endpoints) Option { return func(r *Resolver) { r.endpoints = e } }

// WithStageDelay sets the pause between network stages.
func WithStageDelay(d time.Duration) Option { return func(r *Resolver) { r.stageDelay = d } }

func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

func NewResolver(client *http.Client, opts ...Option) *Resolver {
	if client == nil {
		client = httputil.NewHTTPClient(nil)
	}
	r := &Resolver{
		client:     client,
		endpoints:  DefaultEndpoints(),
		stageDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Or(r.logger)
	return r
}

type searchHit struct {
	slug  string
	price float64
}

// Check resolves a market price and rates the asking price against it.
// Lookup failures are not errors; they yield Rating NoData.
func (r *Resolver) Check(ctx context.Context, q Query) Result {
	none := Result{Rating: NoData}
	if q.Asking <= 0 {
		return none
	}

	key := q.Reference
	if key == "" {
		key = q.Model
	}
	query := strings.TrimSpace(q.Brand + " " + key)
	log := r.logger.With("query", query, "asking", q.Asking)

	var (
		market  float64
		source  Source
		pageURL string
	)

	if hits := r.search(ctx, query); len(hits) > 0 {
		top := hits[0]
		switch {
		case top.price > 0:
			market, source = top.price, FromSearch
		case top.slug != "":
			if httputil.Sleep(ctx, r.stageDelay) != nil {
				return none
			}
			if p := r.chartPrice(ctx, top.slug); p > 0 {
				market, source = p, FromChartPage
			}
		}
		if top.slug != "" {
			pageURL = r.endpoints.WatchPage + top.slug
		}
	}

	if market <= 0 {
		if httputil.Sleep(ctx, r.stageDelay) != nil {
			return none
		}
		if p := r.marketplaceMedian(ctx, q.Brand, key); p > 0 {
			market, source = p, FromMarketplace
			pageURL = r.endpoints.Marketplace + "?brand=" + url.QueryEscape(q.Brand) + "&ref=" + url.QueryEscape(key)
		}
	}

	if market <= 0 {
		log.Warn("no market price found")
		return none
	}

	rating, ratio := Rate(q.Asking, market)
	log.Info("price checked", "market", market, "rating", rating, "source", source)
	return Result{
		Rating:      rating,
		MarketPrice: round(market, 2),
		PctOfMarket: round(ratio*100, 1),
		Source:      source,
		URL:         pageURL,
	}
}

// search tries the JSON API, then the HTML search page.
func (r *Resolver) search(ctx context.Context, query string) []searchHit {
	apiURL := r.endpoints.SearchAPI + "?" + url.Values{"q": {query}, "limit": {"5"}}.Encode()
	if body, err := r.get(ctx, apiURL); err == nil {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			switch v := decoded.(type) {
			case []any:
				return hitsFrom(objects(v))
			case map[string]any:
				if results, ok := v["results"]; ok {
					return hitsFrom(objects(results))
				}
			}
		}
	} else {
		r.logger.Debug("search API failed", "err", err)
	}

	pageURL := r.endpoints.SearchPage + "?" + url.Values{"q": {query}}.Encode()
	body, err := r.get(ctx, pageURL)
	if err != nil {
		r.logger.Debug("search page failed", "err", err)
		return nil
	}
	props, err := pageProps(body)
	if err != nil {
		r.logger.Debug("search page has no data", "err", err)
		return nil
	}
	watches := objects(firstPresent(props, "watches", "results"))
	if len(watches) > 5 {
		watches = watches[:5]
	}
	return hitsFrom(watches)
}

func hitsFrom(items []map[string]any) []searchHit {
	hits := make([]searchHit, 0, len(items))
	for _, m := range items {
		h := searchHit{slug: stringOf(m["slug"])}
		if h.slug == "" {
			h.slug = stringOf(m["id"])
		}
		h.price, _ = positive(firstPresent(m, "market_price", "price"))
		hits = append(hits, h)
	}
	return hits
}

var chartPriceFields = []string{"market_price", "price", "current_price", "avg_price", "median_price", "priceData"}

var chartPriceSubfields = []string{"value", "amount", "price", "median"}

func (r *Resolver) chartPrice(ctx context.Context, slug string) float64 {
	body, err := r.get(ctx, r.endpoints.WatchPage+slug)
	if err != nil {
		r.logger.Debug("chart page failed", "slug", slug, "err", err)
		return 0
	}
	props, err := pageProps(body)
	if err != nil {
		return 0
	}
	watch, _ := firstPresent(props, "watch", "watchData").(map[string]any)
	for _, field := range chartPriceFields {
		switch v := watch[field].(type) {
		case float64:
			if v > 0 {
				return v
			}
		case map[string]any:
			for _, sub := range chartPriceSubfields {
				if p, ok := positive(v[sub]); ok {
					return p
				}
			}
		}
	}
	return 0
}

func (r *Resolver) marketplaceMedian(ctx context.Context, brand, ref string) float64 {
	params := url.Values{"brand": {brand}}
	if ref != "" {
		params.Set("ref", ref)
	}
	body, err := r.get(ctx, r.endpoints.Marketplace+"?"+params.Encode())
	if err != nil {
		r.logger.Debug("marketplace failed", "err", err)
		return 0
	}
	props, err := pageProps(body)
	if err != nil {
		return 0
	}
	var prices []float64
	for _, item := range objects(firstPresent(props, "listings", "data")) {
		if p, ok := positive(firstPresent(item, "price", "amount")); ok {
			prices = append(prices, p)
		}
	}
	return Median(prices)
}

func (r *Resolver) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range httputil.PricingHeaders() {
		req.Header[k] = v
	}
	resp, err := httputil.DoWithRetry(r.client, req, 1)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return httputil.ReadBody(resp)
}
