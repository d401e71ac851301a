// Package memory is a mutex-guarded Store used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/store"
)

type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	lastSource int64
	lastID     int64
	sources    map[int64]*models.Source
	listings   map[int64]*models.Listing
	byURL      map[string]int64
	settings   map[string]string
}

var _ store.Store = (*Store)(nil)

// New returns an empty store holding the default sources.
func New() *Store {
	s := &Store{
		now:      time.Now,
		sources:  make(map[int64]*models.Source),
		listings: make(map[int64]*models.Listing),
		byURL:    make(map[string]int64),
		settings: make(map[string]string),
	}
	for _, src := range store.DefaultSources {
		s.EnsureSource(context.Background(), src.Name, src.URL)
	}
	return s
}

func (s *Store) SourceID(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.findSource(name); ok {
		return id, nil
	}
	return 0, fmt.Errorf("source %q: %w", name, store.ErrNotFound)
}

func (s *Store) EnsureSource(ctx context.Context, name, url string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.findSource(name); ok {
		return id, nil
	}
	s.lastSource++
	s.sources[s.lastSource] = &models.Source{ID: s.lastSource, Name: name, URL: url}
	return s.lastSource, nil
}

func (s *Store) findSource(name string) (int64, bool) {
	for id, src := range s.sources {
		if src.Name == name {
			return id, true
		}
	}
	return 0, false
}

func (s *Store) Sources(ctx context.Context) ([]models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Source, 0, len(s.sources))
	for id := int64(1); id <= s.lastSource; id++ {
		if src, ok := s.sources[id]; ok {
			out = append(out, *src)
		}
	}
	return out, nil
}

func (s *Store) MarkSourceScraped(ctx context.Context, sourceID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("source %d: %w", sourceID, store.ErrNotFound)
	}
	at = at.UTC()
	src.LastScraped = &at
	return nil
}

func (s *Store) ListingExists(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byURL[url]
	return ok, nil
}

func (s *Store) UpsertListing(ctx context.Context, l *models.Listing) (int64, bool, error) {
	if l.URL == "" {
		return 0, false, fmt.Errorf("upsert listing: empty url")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byURL[l.URL]; ok {
		cur := s.listings[id]
		next := *l
		next.ID = cur.ID
		next.SourceID = cur.SourceID
		next.DateFound = cur.DateFound
		next.IsActive = true
		if next.Currency == "" {
			next.Currency = models.DefaultCurrency
		}
		s.listings[id] = &next
		l.ID, l.SourceID, l.DateFound = cur.ID, cur.SourceID, cur.DateFound
		return id, false, nil
	}

	s.lastID++
	row := *l
	row.ID = s.lastID
	row.DateFound = s.now().UTC()
	row.IsActive = true
	if row.Currency == "" {
		row.Currency = models.DefaultCurrency
	}
	s.listings[row.ID] = &row
	s.byURL[row.URL] = row.ID
	l.ID, l.DateFound = row.ID, row.DateFound
	return row.ID, true, nil
}

func (s *Store) UnpricedListings(ctx context.Context, sourceID int64) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Listing
	for id := int64(1); id <= s.lastID; id++ {
		l, ok := s.listings[id]
		if ok && l.SourceID == sourceID && l.Price == 0 {
			out = append(out, s.withSource(l))
		}
	}
	return out, nil
}

func (s *Store) ApplyBackfill(ctx context.Context, id int64, u store.BackfillUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	l.Price = u.Price
	if l.Brand == "" {
		l.Brand = u.Brand
	}
	if l.Year == 0 {
		l.Year = u.Year
	}
	if l.Condition == "" {
		l.Condition = u.Condition
	}
	if l.Description == "" {
		l.Description = u.Description
	}
	return nil
}

func (s *Store) Listings(ctx context.Context, f store.ListingFilter) ([]models.Listing, error) {
	s.mu.Lock()
	all := make([]models.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		all = append(all, s.withSource(l))
	}
	s.mu.Unlock()
	return f.Apply(all), nil
}

func (s *Store) Listing(ctx context.Context, id int64) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	out := s.withSource(l)
	return &out, nil
}

func (s *Store) Stats(ctx context.Context, targetYear int) (*models.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &models.Summary{
		TargetYear: targetYear,
		ByRating:   make(map[string]int),
		BySource:   make(map[string]int),
	}
	for _, l := range s.listings {
		sum.Total++
		if !l.IsActive {
			continue
		}
		sum.Active++
		if targetYear > 0 && l.Year == targetYear {
			sum.TargetYearCount++
		}
		if l.PriceRating != "" {
			sum.ByRating[l.PriceRating]++
		}
		if src, ok := s.sources[l.SourceID]; ok {
			sum.BySource[src.Name]++
		}
	}
	return sum, nil
}

func (s *Store) Setting(ctx context.Context, key, def string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.settings[key]; ok {
		return v, nil
	}
	return def, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.settings), nil
}

func (s *Store) Close() error { return nil }

// withSource copies l with its source name filled in. Callers hold mu.
func (s *Store) withSource(l *models.Listing) models.Listing {
	out := *l
	if src, ok := s.sources[l.SourceID]; ok {
		out.SourceName = src.Name
	}
	return out
}
