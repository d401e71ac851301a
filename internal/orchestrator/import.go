package orchestrator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lukman83/watchfinder/internal/extract"
	"github.com/lukman83/watchfinder/internal/models"
)

// ManualSource owns listings entered by hand.
const (
	ManualSource    = "Manual import"
	manualURLScheme = "manual://"
)

var errNoTitle = errors.New("title is required")

type ImportStats struct {
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Errors  int      `json:"errors"`
	IDs     []int64  `json:"ids,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}

// Import stores hand-entered listings through the same upsert path the
// scrapers use. Missing fields are extracted from title and description,
// and a listing without a URL gets a synthetic manual:// one.
func (o *Orchestrator) Import(ctx context.Context, items []models.Listing) ImportStats {
	var stats ImportStats
	for i := range items {
		id, isNew, err := o.importOne(ctx, &items[i])
		switch {
		case err != nil:
			o.logger.Warn("import failed", "title", items[i].Title, "err", err)
			stats.Errors++
			stats.Failed = append(stats.Failed, fmt.Sprintf("item %d: %v", i, err))
		case isNew:
			stats.Added++
			stats.IDs = append(stats.IDs, id)
		default:
			stats.Updated++
			stats.IDs = append(stats.IDs, id)
		}
	}
	return stats
}

func (o *Orchestrator) importOne(ctx context.Context, l *models.Listing) (int64, bool, error) {
	l.Title = strings.TrimSpace(l.Title)
	if l.Title == "" {
		return 0, false, errNoTitle
	}
	if l.SourceID == 0 {
		id, err := o.deps.Store.EnsureSource(ctx, ManualSource, manualURLScheme)
		if err != nil {
			return 0, false, fmt.Errorf("manual source: %w", err)
		}
		l.SourceID = id
	}
	if l.URL == "" {
		l.URL = ManualURL(l.Title, time.Now())
	}
	FillMissing(l)
	return o.deps.Store.UpsertListing(ctx, l)
}

// ManualURL derives a stable-looking unique key for a listing with no URL.
func ManualURL(title string, at time.Time) string {
	sum := md5.Sum([]byte(at.Format(time.RFC3339Nano) + title))
	return manualURLScheme + hex.EncodeToString(sum[:])[:12]
}

// FillMissing runs the extractors over title and description and fills
// only the fields the caller left empty.
func FillMissing(l *models.Listing) {
	f := extract.Parse(l.Title, l.Description)
	if l.Brand == "" {
		l.Brand = f.Brand
	}
	if l.Model == "" {
		l.Model = f.Model
	}
	if l.Reference == "" {
		l.Reference = f.Reference
	}
	if l.Year == 0 {
		l.Year = f.Year
	}
	if l.Price == 0 {
		l.Price = f.Price
	}
	if l.Condition == "" {
		l.Condition = f.Condition
	}
	if l.Currency == "" {
		l.Currency = models.DefaultCurrency
	}
	l.Description = extract.Truncate(l.Description, extract.MaxDescription)
}
