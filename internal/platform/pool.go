package platform

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/lukman83/watchfinder/internal/logging"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/store"
	"golang.org/x/sync/errgroup"
)

// Pool fetches detail pages with bounded parallelism and stores each
// listing as soon as its fetch completes.
type Pool struct {
	Source string
	Store  store.Store
	Pricer Pricer
	Size   int
	Logger *slog.Logger
}

// FetchFunc is an adapter's FetchDetail.
type FetchFunc func(ctx context.Context, stub models.Stub) (*models.Listing, error)

// Run processes stubs until done or ctx is cancelled. Completion order is
// not submission order. A nil listing without an error is skipped silently.
// A panicking item counts as one error; the rest of the batch still runs.
func (p Pool) Run(ctx context.Context, stubs []models.Stub, fetch FetchFunc, targetYear int, tally *Tally) {
	logger := logging.Or(p.Logger)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Size, 1))

	var processed atomic.Int32
	for _, stub := range stubs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					tally.Update(func(s *models.RunStats) { s.Errors++ })
					logger.Error("item panicked", "url", stub.URL, "panic", r, "stack", string(debug.Stack()))
				}
			}()
			l, err := fetch(gctx, stub)
			ReportProgress(ctx, models.Progress{
				Source:    p.Source,
				Current:   Clip(stub.Title, 80),
				Processed: int(processed.Add(1)),
				Total:     len(stubs),
			})
			if err != nil {
				tally.Update(func(s *models.RunStats) { s.Errors++ })
				logger.Warn("item skipped", "url", stub.URL, "err", err)
				return nil
			}
			if l == nil {
				return nil
			}
			priced := Enrich(gctx, p.Pricer, l, targetYear)
			Save(gctx, p.Store, l, priced, tally, logger)
			return nil
		})
	}
	_ = g.Wait()
}
