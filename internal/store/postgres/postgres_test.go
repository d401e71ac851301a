package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/lukman83/watchfinder/internal/store"
	"github.com/lukman83/watchfinder/internal/store/storetest"
)

// Set WATCHFINDER_TEST_POSTGRES_DSN to run against a disposable database.
func TestStore(t *testing.T) {
	dsn := os.Getenv("WATCHFINDER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WATCHFINDER_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn, 4, nil)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		reset := []string{
			`TRUNCATE listings, settings RESTART IDENTITY`,
			`DELETE FROM sources WHERE name NOT IN ('RolexForums BST', 'Reddit r/Watchexchange')`,
			`UPDATE sources SET last_scraped = NULL`,
		}
		for _, q := range reset {
			if _, err := s.pool.Exec(ctx, q); err != nil {
				t.Fatalf("reset %q: %v", q, err)
			}
		}
		return s
	})
}
