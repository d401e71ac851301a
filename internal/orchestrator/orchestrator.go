// Package orchestrator runs the registered source adapters one after
// another and folds their stats into a single report.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"

	"github.com/lukman83/watchfinder/internal/logging"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/platform"
	"github.com/lukman83/watchfinder/internal/store"
)

const (
	DefaultPages      = 3
	DefaultTargetYear = 2007
)

// RunOptions selects what a run does. Zero Pages or TargetYear fall back
// to the stored settings, then to the orchestrator defaults. Sources
// limits the run to the named adapters; empty means all of them.
type RunOptions struct {
	Pages      int                   `json:"pages"`
	TargetYear int                   `json:"target_year"`
	Cookies    map[string]string     `json:"-"`
	Sources    []string              `json:"sources,omitempty"`
	Progress   platform.ProgressFunc `json:"-"`
}

type Option func(*Orchestrator)

func WithDefaults(pages, targetYear int) Option {
	return func(o *Orchestrator) {
		if pages > 0 {
			o.pages = pages
		}
		if targetYear > 0 {
			o.targetYear = targetYear
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithCookies sets fallback session cookies per source name, used when
// neither the run nor the stored settings supply any.
func WithCookies(m map[string]string) Option { return func(o *Orchestrator) { o.fallbackCookies = m } }

type Orchestrator struct {
	registry   *platform.Registry
	deps       platform.Deps
	pages      int
	targetYear int
	logger     *slog.Logger

	fallbackCookies map[string]string
}

func New(reg *platform.Registry, deps platform.Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   reg,
		deps:       deps,
		pages:      DefaultPages,
		targetYear: DefaultTargetYear,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.Or(o.logger)
	if o.deps.Logger == nil {
		o.deps.Logger = o.logger
	}
	return o
}

func (o *Orchestrator) Store() store.Store { return o.deps.Store }

// Resolve fills unset pages and target year from the stored settings.
func (o *Orchestrator) Resolve(ctx context.Context, opts RunOptions) RunOptions {
	if opts.Pages <= 0 {
		opts.Pages = o.intSetting(ctx, store.KeyScrapePages, o.pages)
	}
	if opts.TargetYear <= 0 {
		opts.TargetYear = o.intSetting(ctx, store.KeyTargetYear, o.targetYear)
	}
	return opts
}

func (o *Orchestrator) intSetting(ctx context.Context, key string, def int) int {
	v, err := o.deps.Store.Setting(ctx, key, strconv.Itoa(def))
	if err != nil {
		o.logger.Warn("read setting", "key", key, "err", err)
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		o.logger.Warn("ignoring invalid setting", "key", key, "value", v)
		return def
	}
	return n
}

// cookies returns the session cookies for a source: the explicit map
// first, then the stored setting, then the configured fallback.
func (o *Orchestrator) cookies(ctx context.Context, explicit map[string]string, source string) string {
	if c, ok := explicit[source]; ok && c != "" {
		return c
	}
	c, err := o.deps.Store.Setting(ctx, store.CookieKey(source), "")
	if err != nil {
		o.logger.Warn("read cookies", "source", source, "err", err)
	}
	if c == "" {
		c = o.fallbackCookies[source]
	}
	return c
}

func (o *Orchestrator) selected(filter []string) []platform.Registration {
	var out []platform.Registration
	for _, r := range o.registry.List() {
		if len(filter) == 0 || slices.Contains(filter, r.Name) {
			out = append(out, r)
		}
	}
	return out
}

// Run executes the selected adapters in registration order. A failing
// adapter is recorded in its own stats entry and the rest still run.
// Cancelling ctx stops the run before the next adapter starts.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) models.CombinedStats {
	opts = o.Resolve(ctx, opts)
	ctx = platform.WithProgress(ctx, opts.Progress)

	var combined models.CombinedStats
	for _, reg := range o.selected(opts.Sources) {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("run interrupted", "next_source", reg.Name, "err", err)
			break
		}
		o.logger.Info("source starting", "source", reg.Name, "pages", opts.Pages, "target_year", opts.TargetYear)
		stats := o.runOne(ctx, reg, opts)
		o.logger.Info("source done", "source", reg.Name,
			"pages", stats.Pages, "items", stats.Items, "new", stats.New, "updated", stats.Updated,
			"priced", stats.Priced, "errors", stats.Errors, "blocked", stats.Blocked)
		combined.Add(stats)
	}
	return combined
}

func (o *Orchestrator) runOne(ctx context.Context, reg platform.Registration, opts RunOptions) (stats models.RunStats) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("adapter panicked", "source", reg.Name, "panic", r, "stack", string(debug.Stack()))
			stats = failed(reg.Name, fmt.Errorf("panic: %v", r))
		}
	}()

	a, err := reg.New(ctx, o.deps, o.cookies(ctx, opts.Cookies, reg.Name))
	if err != nil {
		o.logger.Error("adapter unavailable", "source", reg.Name, "err", err)
		return failed(reg.Name, err)
	}
	return a.Run(ctx, platform.RunOptions{Pages: opts.Pages, TargetYear: opts.TargetYear})
}

func failed(source string, err error) models.RunStats {
	return models.RunStats{Source: source, Errors: 1, Err: err.Error()}
}

// Backfill asks every adapter that supports it to revisit its stored
// listings that still lack a price.
func (o *Orchestrator) Backfill(ctx context.Context, targetYear int) models.BackfillStats {
	if targetYear <= 0 {
		targetYear = o.intSetting(ctx, store.KeyTargetYear, o.targetYear)
	}

	var total models.BackfillStats
	for _, reg := range o.registry.List() {
		if ctx.Err() != nil {
			break
		}
		stats, ok := o.backfillOne(ctx, reg, targetYear)
		if ok {
			total.Add(stats)
		}
	}
	return total
}

func (o *Orchestrator) backfillOne(ctx context.Context, reg platform.Registration, targetYear int) (stats models.BackfillStats, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("backfill panicked", "source", reg.Name, "panic", r)
			stats, ok = models.BackfillStats{Errors: 1}, true
		}
	}()

	a, err := reg.New(ctx, o.deps, o.cookies(ctx, nil, reg.Name))
	if err != nil {
		o.logger.Error("adapter unavailable", "source", reg.Name, "err", err)
		return models.BackfillStats{Errors: 1}, true
	}
	b, ok := a.(platform.Backfiller)
	if !ok {
		return models.BackfillStats{}, false
	}
	o.logger.Info("backfill starting", "source", reg.Name)
	return b.Backfill(ctx, targetYear), true
}
