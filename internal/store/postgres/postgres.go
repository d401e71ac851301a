// Package postgres is a Store for shared deployments, backed by pgxpool.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lukman83/watchfinder/internal/logging"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const selectListings = `SELECT ` + store.ListingColumns + `, l.date_listed, l.date_found
	FROM listings l LEFT JOIN sources s ON s.id = l.source_id `

type Store struct {
	pool   *pgxpool.Pool
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string, maxConns int, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	version, err := migrateUp(db)
	if err != nil {
		db.Close()
		pool.Close()
		return nil, err
	}
	logger = logging.Or(logger)
	logger.Debug("postgres store ready", "schema_version", version, "max_conns", maxConns)
	return &Store{pool: pool, db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB) (uint, error) {
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return 0, fmt.Errorf("create postgres migrate driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	return version, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	s.pool.Close()
	return err
}

func (s *Store) SourceID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM sources WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("source %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("source %q: %w", name, err)
	}
	return id, nil
}

func (s *Store) EnsureSource(ctx context.Context, name, url string) (int64, error) {
	_, err := s.pool.Exec(ctx, `INSERT INTO sources (name, url) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, name, url)
	if err != nil {
		return 0, fmt.Errorf("ensure source %q: %w", name, err)
	}
	return s.SourceID(ctx, name)
}

func (s *Store) Sources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, url, last_scraped FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.LastScraped); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if src.LastScraped != nil {
			t := src.LastScraped.UTC()
			src.LastScraped = &t
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) MarkSourceScraped(ctx context.Context, sourceID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET last_scraped = $1 WHERE id = $2`, at.UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("mark source %d scraped: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %d: %w", sourceID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListingExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE listing_url = $1)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("listing exists: %w", err)
	}
	return exists, nil
}

// UpsertListing relies on xmax being zero only for freshly inserted tuples.
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

	var id int64
	var isNew bool
	err = s.pool.QueryRow(ctx, `INSERT INTO listings (
			source_id, listing_url, title, brand, model, reference, year, price, currency,
			condition, seller, description, image_url, date_listed, date_found,
			price_rating, market_price, price_delta_pct, watchcharts_url, is_active, raw_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(),
			$15, $16, $17, $18, TRUE, $19)
		ON CONFLICT (listing_url) DO UPDATE SET
			title = EXCLUDED.title, brand = EXCLUDED.brand, model = EXCLUDED.model,
			reference = EXCLUDED.reference, year = EXCLUDED.year, price = EXCLUDED.price,
			currency = EXCLUDED.currency, condition = EXCLUDED.condition, seller = EXCLUDED.seller,
			description = EXCLUDED.description, image_url = EXCLUDED.image_url,
			date_listed = EXCLUDED.date_listed, price_rating = EXCLUDED.price_rating,
			market_price = EXCLUDED.market_price, price_delta_pct = EXCLUDED.price_delta_pct,
			watchcharts_url = EXCLUDED.watchcharts_url, raw_json = EXCLUDED.raw_json,
			is_active = TRUE
		RETURNING id, (xmax = 0)`,
		store.Null(l.SourceID), l.URL, l.Title, store.Null(l.Brand), store.Null(l.Model),
		store.Null(l.Reference), store.Null(l.Year), store.Null(l.Price), currency,
		store.Null(l.Condition), store.Null(l.Seller), store.Null(l.Description),
		store.Null(l.ImageURL), l.DateListed, store.Null(l.PriceRating),
		store.Null(l.MarketPrice), store.Null(l.PriceDeltaPct), store.Null(l.MarketURL),
		string(raw),
	).Scan(&id, &isNew)
	if err != nil {
		return 0, false, fmt.Errorf("upsert listing %s: %w", l.URL, err)
	}
	l.ID = id
	return id, isNew, nil
}

func (s *Store) UnpricedListings(ctx context.Context, sourceID int64) ([]models.Listing, error) {
	return s.queryListings(ctx, selectListings+`WHERE l.source_id = $1 AND l.price IS NULL ORDER BY l.id`, sourceID)
}

func (s *Store) ApplyBackfill(ctx context.Context, id int64, u store.BackfillUpdate) error {
	tag, err := s.pool.Exec(ctx, `UPDATE listings SET price = $1,
			brand = COALESCE(brand, $2), year = COALESCE(year, $3), condition = COALESCE(condition, $4),
			description = COALESCE(NULLIF(description, ''), $5)
		WHERE id = $6`,
		u.Price, store.Null(u.Brand), store.Null(u.Year), store.Null(u.Condition),
		store.Null(u.Description), id)
	if err != nil {
		return fmt.Errorf("backfill listing %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) Listings(ctx context.Context, f store.ListingFilter) ([]models.Listing, error) {
	where, args := f.SQL(func(n int) string { return "$" + strconv.Itoa(n) })
	return s.queryListings(ctx, selectListings+where, args...)
}

func (s *Store) Listing(ctx context.Context, id int64) (*models.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx, selectListings+`WHERE l.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_active AND year = $1)
		FROM listings`, targetYear).Scan(&sum.Total, &sum.Active, &sum.TargetYearCount)
	if err != nil {
		return nil, fmt.Errorf("count listings: %w", err)
	}
	if err := s.groupCount(ctx, sum.ByRating, `SELECT price_rating, COUNT(*) FROM listings
		WHERE is_active AND price_rating IS NOT NULL GROUP BY price_rating`); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, sum.BySource, `SELECT s.name, COUNT(*) FROM listings l
		JOIN sources s ON s.id = l.source_id WHERE l.is_active GROUP BY s.name`); err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *Store) Setting(ctx context.Context, key, def string) (string, error) {
	var v *string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && v == nil) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("setting %q: %w", key, err)
	}
	return *v, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, COALESCE(value, '') FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
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
	rows, err := s.pool.Query(ctx, query, args...)
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
	rows, err := s.pool.Query(ctx, query)
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

func scanListing(row pgx.Row) (models.Listing, error) {
	var r store.Row
	var listed *time.Time
	var found time.Time
	if err := row.Scan(append(r.Dest(), &listed, &found)...); err != nil {
		return models.Listing{}, err
	}
	l := r.Listing()
	if listed != nil {
		t := listed.UTC()
		l.DateListed = &t
	}
	l.DateFound = found.UTC()
	return l, nil
}
