package platform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lukman83/watchfinder/internal/fetch"
	"github.com/lukman83/watchfinder/internal/imagecache"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/pricing"
	"github.com/lukman83/watchfinder/internal/store"
)

// ErrMalformed means a detail page was fetched but the listing content
// was not where the layout says it should be.
var ErrMalformed = errors.New("listing content not found")

// DefaultPoolSize bounds concurrent detail fetches within one adapter.
const DefaultPoolSize = 5

type RunOptions struct {
	Pages      int
	TargetYear int
}

// Adapter is one listing source. Run never returns an error: failures are
// counted in the stats, and Blocked reports a source that shut us out.
type Adapter interface {
	Name() string
	ListStubs(ctx context.Context, page int) ([]models.Stub, error)
	// FetchDetail returns nil, nil for posts that are not sale listings.
	FetchDetail(ctx context.Context, stub models.Stub) (*models.Listing, error)
	Run(ctx context.Context, opts RunOptions) models.RunStats
}

// Backfiller is implemented by adapters that can revisit stored listings.
type Backfiller interface {
	Backfill(ctx context.Context, targetYear int) models.BackfillStats
}

type Pricer interface {
	Check(ctx context.Context, q pricing.Query) pricing.Result
}

type ImageAcquirer interface {
	Acquire(ctx context.Context, rawURL string, fallback imagecache.Getter) string
}

// Deps are the collaborators every adapter is built from.
type Deps struct {
	Store    store.Store
	Fetch    fetch.Config
	Images   ImageAcquirer
	Pricer   Pricer
	PoolSize int
	Logger   *slog.Logger
}
