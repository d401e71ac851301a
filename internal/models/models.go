package models

import "time"

// DefaultCurrency is assigned to every listing whose source does not say otherwise.
const DefaultCurrency = "USD"

// Listing is a single watch-for-sale post, keyed by its URL.
// Zero values mean unknown: Year 0, Price 0, empty strings.
type Listing struct {
	ID            int64      `json:"id"`
	SourceID      int64      `json:"source_id"`
	SourceName    string     `json:"source_name,omitempty"`
	URL           string     `json:"listing_url"`
	Title         string     `json:"title"`
	Brand         string     `json:"brand,omitempty"`
	Model         string     `json:"model,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	Year          int        `json:"year,omitempty"`
	Price         float64    `json:"price,omitempty"`
	Currency      string     `json:"currency"`
	Condition     string     `json:"condition,omitempty"`
	Seller        string     `json:"seller,omitempty"`
	Description   string     `json:"description,omitempty"`
	ImageURL      string     `json:"image_url,omitempty"`
	DateListed    *time.Time `json:"date_listed,omitempty"`
	DateFound     time.Time  `json:"date_found"`
	PriceRating   string     `json:"price_rating,omitempty"`
	MarketPrice   float64    `json:"market_price,omitempty"`
	PriceDeltaPct float64    `json:"price_delta_pct,omitempty"`
	MarketURL     string     `json:"watchcharts_url,omitempty"`
	IsActive      bool       `json:"is_active"`
}

type Source struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	LastScraped *time.Time `json:"last_scraped,omitempty"`
}

// Stub is a listing reference discovered on an index page.
// Payload carries source-specific data the detail step can reuse.
type Stub struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Seller  string `json:"seller,omitempty"`
	Date    string `json:"date,omitempty"`
	Payload []byte `json:"-"`
}

// Progress is emitted once per completed item.
type Progress struct {
	Source    string `json:"source"`
	Current   string `json:"current"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// RunStats holds per-adapter counters for one run.
type RunStats struct {
	Source  string `json:"source"`
	Pages   int    `json:"pages"`
	Items   int    `json:"items"`
	New     int    `json:"new"`
	Updated int    `json:"updated"`
	Priced  int    `json:"priced"`
	Errors  int    `json:"errors"`
	Blocked bool   `json:"blocked"`
	Err     string `json:"error,omitempty"`
}

// CombinedStats is the orchestrator's report across adapters.
type CombinedStats struct {
	Pages   int        `json:"pages"`
	Items   int        `json:"items"`
	New     int        `json:"new"`
	Updated int        `json:"updated"`
	Priced  int        `json:"priced"`
	Errors  int        `json:"errors"`
	Blocked bool       `json:"blocked"`
	Sources []RunStats `json:"sources"`
}

// Add folds one adapter's stats into the totals.
func (c *CombinedStats) Add(s RunStats) {
	c.Pages += s.Pages
	c.Items += s.Items
	c.New += s.New
	c.Updated += s.Updated
	c.Priced += s.Priced
	c.Errors += s.Errors
	c.Blocked = c.Blocked || s.Blocked
	c.Sources = append(c.Sources, s)
}

type BackfillStats struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (b *BackfillStats) Add(o BackfillStats) {
	b.Updated += o.Updated
	b.Skipped += o.Skipped
	b.Errors += o.Errors
}

// Summary is the dashboard view over stored listings.
type Summary struct {
	Total           int            `json:"total"`
	Active          int            `json:"active"`
	TargetYear      int            `json:"target_year"`
	TargetYearCount int            `json:"target_year_count"`
	ByRating        map[string]int `json:"by_rating"`
	BySource        map[string]int `json:"by_source"`
}
