package platform

import (
	"context"
	"sync"

	"github.com/lukman83/watchfinder/internal/models"
)

// ProgressFunc receives one event per completed item.
type ProgressFunc func(p models.Progress)

type progressKey struct{}

// WithProgress returns a context carrying fn. Calls are serialized, so fn
// never runs concurrently even when pooled workers report at once.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	var mu sync.Mutex
	return context.WithValue(ctx, progressKey{}, ProgressFunc(func(p models.Progress) {
		mu.Lock()
		defer mu.Unlock()
		fn(p)
	}))
}

// ReportProgress calls the progress callback in ctx, if any.
func ReportProgress(ctx context.Context, p models.Progress) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(p)
	}
}
