// Package sqlite is the default Store, backed by a single-file database
// with embedded migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lukman83/watchfinder/internal/logging"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/store"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const selectListings = `SELECT ` + store.ListingColumns + `, l.date_listed, l.date_found
	FROM listings l LEFT JOIN sources s ON s.id = l.source_id `

type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies
// pending migrations. Writes go through one connection, which serializes
// upserts.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	version, err := Migrate(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger = logging.Or(logger)
	logger.Debug("sqlite store ready", "path", path, "schema_version", version)
	return &Store{db: db, now: time.Now, logger: logger}, nil
}

// Migrate applies all pending migrations and returns the schema version.
func Migrate(db *sql.DB) (uint, error) {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	return version, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SourceID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sources WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("source %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("source %q: %w", name, err)
	}
	return id, nil
}

func (s *Store) EnsureSource(ctx context.Context, name, url string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (name, url) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`, name, url)
	if err != nil {
		return 0, fmt.Errorf("ensure source %q: %w", name, err)
	}
	return s.SourceID(ctx, name)
}

func (s *Store) Sources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, url, last_scraped FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		var src models.Source
		var last *string
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &last); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.LastScraped = parseTimePtr(last)
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) MarkSourceScraped(ctx context.Context, sourceID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET last_scraped = ? WHERE id = ?`, formatTime(at), sourceID)
	if err != nil {
		return fmt.Errorf("mark source %d scraped: %w", sourceID, err)
	}
	return expectRow(res, "source", sourceID)
}

func (s *Store) ListingExists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM listings WHERE listing_url = ?`, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("listing exists: %w", err)
	}
	return true, nil
}

func (s *Store) UpsertListing(ctx context.Context, l *models.Listing) (int64, bool, error) {
	if l.URL == "" {
		return 0, false, fmt.Errorf("upsert listing: empty url")
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return 0, false, fmt.Errorf("encode listing: %w", err)
	}
	currency := l.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM listings WHERE listing_url = ?`, l.URL).Scan(&id)
	isNew := errors.Is(err, sql.ErrNoRows)
	switch {
	case isNew:
		res, err := tx.ExecContext(ctx, `INSERT INTO listings (
				source_id, listing_url, title, brand, model, reference, year, price, currency,
				condition, seller, description, image_url, date_listed, date_found,
				price_rating, market_price, price_delta_pct, watchcharts_url, is_active, raw_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			store.Null(l.SourceID), l.URL, l.Title, store.Null(l.Brand), store.Null(l.Model),
			store.Null(l.Reference), store.Null(l.Year), store.Null(l.Price), currency,
			store.Null(l.Condition), store.Null(l.Seller), store.Null(l.Description),
			store.Null(l.ImageURL), formatTimePtr(l.DateListed), formatTime(s.now()),
			store.Null(l.PriceRating), store.Null(l.MarketPrice), store.Null(l.PriceDeltaPct),
			store.Null(l.MarketURL), string(raw))
		if err != nil {
			return 0, false, fmt.Errorf("insert listing %s: %w", l.URL, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, false, fmt.Errorf("insert listing %s: %w", l.URL, err)
		}
	case err != nil:
		return 0, false, fmt.Errorf("lookup listing %s: %w", l.URL, err)
	default:
		_, err := tx.ExecContext(ctx, `UPDATE listings SET
				title = ?, brand = ?, model = ?, reference = ?, year = ?, price = ?, currency = ?,
				condition = ?, seller = ?, description = ?, image_url = ?, date_listed = ?,
				price_rating = ?, market_price = ?, price_delta_pct = ?, watchcharts_url = ?,
				raw_json = ?, is_active = 1
			WHERE id = ?`,
			l.Title, store.Null(l.Brand), store.Null(l.Model), store.Null(l.Reference),
			store.Null(l.Year), store.Null(l.Price), currency, store.Null(l.Condition),
			store.Null(l.Seller), store.Null(l.Description), store.Null(l.ImageURL),
			formatTimePtr(l.DateListed), store.Null(l.PriceRating), store.Null(l.MarketPrice),
			store.Null(l.PriceDeltaPct), store.Null(l.MarketURL), string(raw), id)
		if err != nil {
			return 0, false, fmt.Errorf("update listing %s: %w", l.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit upsert %s: %w", l.URL, err)
	}
	l.ID = id
	return id, isNew, nil
}

func (s *Store) UnpricedListings(ctx context.Context, sourceID int64) ([]models.Listing, error) {
	return s.queryListings(ctx, selectListings+`WHERE l.source_id = ? AND l.price IS NULL ORDER BY l.id`, sourceID)
}

func (s *Store) ApplyBackfill(ctx context.Context, id int64, u store.BackfillUpdate) error {
	res, err := s.db.ExecContext(ctx, `UPDATE listings SET price = ?,
			brand = COALESCE(brand, ?), year = COALESCE(year, ?), condition = COALESCE(condition, ?),
			description = COALESCE(NULLIF(description, ''), ?)
		WHERE id = ?`,
		u.Price, store.Null(u.Brand), store.Null(u.Year), store.Null(u.Condition),
		store.Null(u.Description), id)
	if err != nil {
		return fmt.Errorf("backfill listing %d: %w", id, err)
	}
	return expectRow(res, "listing", id)
}

func (s *Store) Listings(ctx context.Context, f store.ListingFilter) ([]models.Listing, error) {
	where, args := f.SQL(func(int) string { return "?" })
	return s.queryListings(ctx, selectListings+where, args...)
}

func (s *Store) Listing(ctx context.Context, id int64) (*models.Listing, error) {
	l, err := scanListing(s.db.QueryRowContext(ctx, selectListings+`WHERE l.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("listing %d: %w", id, err)
	}
	return &l, nil
}

func (s *Store) Stats(ctx context.Context, targetYear int) (*models.Summary, error) {
	sum := &models.Summary{
		TargetYear: targetYear,
		ByRating:   make(map[string]int),
		BySource:   make(map[string]int),
	}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
			COALESCE(SUM(is_active), 0),
			COALESCE(SUM(CASE WHEN is_active = 1 AND year = ? THEN 1 ELSE 0 END), 0)
		FROM listings`, targetYear).Scan(&sum.Total, &sum.Active, &sum.TargetYearCount)
	if err != nil {
		return nil, fmt.Errorf("count listings: %w", err)
	}
	if err := s.groupCount(ctx, sum.ByRating, `SELECT price_rating, COUNT(*) FROM listings
		WHERE is_active = 1 AND price_rating IS NOT NULL GROUP BY price_rating`); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, sum.BySource, `SELECT s.name, COUNT(*) FROM listings l
		JOIN sources s ON s.id = l.source_id WHERE l.is_active = 1 GROUP BY s.name`); err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *Store) Setting(ctx context.Context, key, def string) (string, error) {
	var v *string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && v == nil) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("setting %q: %w", key, err)
	}
	return *v, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	rows, err := s.db.QueryContext(ctx, `SELECT key, COALESCE(value, '') FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) queryListings(ctx context.Context, query string, args ...any) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	out := []models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) groupCount(ctx context.Context, into map[string]int, query string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("group listings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scan group: %w", err)
		}
		into[k] = n
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(sc scanner) (models.Listing, error) {
	var r store.Row
	var listed *string
	var found string
	if err := sc.Scan(append(r.Dest(), &listed, &found)...); err != nil {
		return models.Listing{}, err
	}
	l := r.Listing()
	l.DateListed = parseTimePtr(listed)
	if t, ok := parseTime(found); ok {
		l.DateFound = t
	}
	return l, nil
}

func expectRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, ok := parseTime(*s)
	if !ok {
		return nil
	}
	return &t
}
