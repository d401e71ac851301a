// Package store defines the persistence contract the scrapers and the API
// share, plus query helpers common to every backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lukman83/watchfinder/internal/models"
)

var ErrNotFound = errors.New("not found")

// Setting keys read by the orchestrator.
const (
	KeyScrapePages = "scrape_pages"
	KeyTargetYear  = "target_year"
	cookiePrefix   = "cookie_"
)

// CookieKey is the setting holding the session cookies for a source.
func CookieKey(source string) string { return cookiePrefix + source }

// IsCookieKey reports whether key holds session cookies.
func IsCookieKey(key string) bool {
	return len(key) > len(cookiePrefix) && key[:len(cookiePrefix)] == cookiePrefix
}

// Store persists listings, sources and settings. Implementations must make
// UpsertListing atomic per URL under concurrent callers.
type Store interface {
	SourceID(ctx context.Context, name string) (int64, error)
	EnsureSource(ctx context.Context, name, url string) (int64, error)
	Sources(ctx context.Context) ([]models.Source, error)
	MarkSourceScraped(ctx context.Context, sourceID int64, at time.Time) error

	ListingExists(ctx context.Context, url string) (bool, error)
	// UpsertListing inserts l or updates the row with the same URL,
	// reporting whether a row was created.
	UpsertListing(ctx context.Context, l *models.Listing) (id int64, isNew bool, err error)
	UnpricedListings(ctx context.Context, sourceID int64) ([]models.Listing, error)
	ApplyBackfill(ctx context.Context, id int64, u BackfillUpdate) error
	Listings(ctx context.Context, f ListingFilter) ([]models.Listing, error)
	Listing(ctx context.Context, id int64) (*models.Listing, error)
	Stats(ctx context.Context, targetYear int) (*models.Summary, error)

	Setting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	Settings(ctx context.Context) (map[string]string, error)

	Close() error
}

// BackfillUpdate carries fields recovered from a late comment. Price is
// always written; the rest only fill columns that are still empty.
type BackfillUpdate struct {
	Price       float64
	Brand       string
	Year        int
	Condition   string
	Description string
}

// DefaultSources are registered by every backend on first use.
var DefaultSources = []models.Source{
	{Name: "RolexForums BST", URL: "https://www.rolexforums.com/forumdisplay.php?f=9"},
	{Name: "Reddit r/Watchexchange", URL: "https://www.reddit.com/r/Watchexchange/"},
}
