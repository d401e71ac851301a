package store

import (
	"github.com/lukman83/watchfinder/internal/models"
)

// ListingColumns selects every listings column except the timestamps,
// in the order Row.Dest expects. Backends append their own time columns.
const ListingColumns = `l.id, l.source_id, s.name, l.listing_url, l.title, l.brand, l.model,
	l.reference, l.year, l.price, l.currency, l.condition, l.seller, l.description,
	l.image_url, l.price_rating, l.market_price, l.price_delta_pct, l.watchcharts_url,
	l.is_active`

// Row mirrors a listings row; nullable columns are pointers.
type Row struct {
	ID            int64
	SourceID      *int64
	SourceName    *string
	URL           *string
	Title         string
	Brand         *string
	Model         *string
	Reference     *string
	Year          *int
	Price         *float64
	Currency      *string
	Condition     *string
	Seller        *string
	Description   *string
	ImageURL      *string
	PriceRating   *string
	MarketPrice   *float64
	PriceDeltaPct *float64
	MarketURL     *string
	IsActive      bool
}

func (r *Row) Dest() []any {
	return []any{
		&r.ID, &r.SourceID, &r.SourceName, &r.URL, &r.Title, &r.Brand, &r.Model,
		&r.Reference, &r.Year, &r.Price, &r.Currency, &r.Condition, &r.Seller, &r.Description,
		&r.ImageURL, &r.PriceRating, &r.MarketPrice, &r.PriceDeltaPct, &r.MarketURL,
		&r.IsActive,
	}
}

func (r *Row) Listing() models.Listing {
	l := models.Listing{
		ID:            r.ID,
		SourceID:      deref(r.SourceID),
		SourceName:    deref(r.SourceName),
		URL:           deref(r.URL),
		Title:         r.Title,
		Brand:         deref(r.Brand),
		Model:         deref(r.Model),
		Reference:     deref(r.Reference),
		Year:          deref(r.Year),
		Price:         deref(r.Price),
		Currency:      deref(r.Currency),
		Condition:     deref(r.Condition),
		Seller:        deref(r.Seller),
		Description:   deref(r.Description),
		ImageURL:      deref(r.ImageURL),
		PriceRating:   deref(r.PriceRating),
		MarketPrice:   deref(r.MarketPrice),
		PriceDeltaPct: deref(r.PriceDeltaPct),
		MarketURL:     deref(r.MarketURL),
		IsActive:      r.IsActive,
	}
	if l.Currency == "" {
		l.Currency = models.DefaultCurrency
	}
	return l
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Null maps the zero value of v to SQL NULL.
func Null[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}
