package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/orchestrator"
	"github.com/lukman83/watchfinder/internal/platform"
	"github.com/lukman83/watchfinder/internal/store"
	"github.com/lukman83/watchfinder/internal/store/memory"
)

type stubAdapter struct{ block chan struct{} }

func (s *stubAdapter) Name() string { return "stub" }
func (s *stubAdapter) ListStubs(context.Context, int) ([]models.Stub, error) {
	return nil, nil
}
func (s *stubAdapter) FetchDetail(context.Context, models.Stub) (*models.Listing, error) {
	return nil, nil
}
func (s *stubAdapter) Run(ctx context.Context, opts platform.RunOptions) models.RunStats {
	<-s.block
	return models.RunStats{Source: "stub", Pages: opts.Pages, New: 1}
}
func (s *stubAdapter) Backfill(context.Context, int) models.BackfillStats {
	return models.BackfillStats{Updated: 4}
}

type testServer struct {
	*httptest.Server
	store store.Store
	runs  *orchestrator.RunHandle
	block chan struct{}
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	st := memory.New()
	ts := &testServer{store: st, block: make(chan struct{})}
	adapter := &stubAdapter{block: ts.block}
	reg := platform.NewRegistry()
	reg.Register("stub", "", func(context.Context, platform.Deps, string) (platform.Adapter, error) {
		return adapter, nil
	})
	orch := orchestrator.New(reg, platform.Deps{Store: st})
	ts.runs = orchestrator.NewRunHandle(orch)
	h := NewHandler(context.Background(), orch, ts.runs, nil)
	ts.Server = httptest.NewServer(NewServer(h, ServerOptions{APIKey: apiKey, ImageDir: t.TempDir()}))
	t.Cleanup(func() {
		select {
		case <-ts.block:
		default:
			close(ts.block)
		}
		ts.runs.Wait(context.Background())
		ts.Close()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func seed(t *testing.T, st store.Store, listings ...models.Listing) []int64 {
	t.Helper()
	ctx := context.Background()
	id, err := st.SourceID(ctx, "Reddit r/Watchexchange")
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for i := range listings {
		listings[i].SourceID = id
		lid, _, err := st.UpsertListing(ctx, &listings[i])
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, lid)
	}
	return ids
}

func TestListingsEndpoints(t *testing.T) {
	ts := newTestServer(t, "")
	ids := seed(t, ts.store,
		models.Listing{URL: "u1", Title: "Rolex Sub", Brand: "Rolex", Year: 2007, Price: 9000, PriceRating: "Good"},
		models.Listing{URL: "u2", Title: "Omega Speedy", Brand: "Omega", Year: 2015, Price: 4000},
	)

	resp, body := ts.do(t, http.MethodGet, "/api/listings?brand=rolex&rating=Good", "")
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("filtered listings = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/listings?limit=abc", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/listings/%d", ids[1]), "")
	if resp.StatusCode != http.StatusOK || body["brand"] != "Omega" || body["source_name"] != "Reddit r/Watchexchange" {
		t.Errorf("listing detail = %d %v", resp.StatusCode, body)
	}

	for path, want := range map[string]int{"/api/listings/999": http.StatusNotFound, "/api/listings/x": http.StatusBadRequest} {
		if resp, _ := ts.do(t, http.MethodGet, path, ""); resp.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, want)
		}
	}

	resp, body = ts.do(t, http.MethodGet, "/api/stats?target_year=2007", "")
	if resp.StatusCode != http.StatusOK || body["total"] != float64(2) || body["target_year_count"] != float64(1) {
		t.Errorf("stats = %d %v", resp.StatusCode, body)
	}
}

func TestSettingsRedactCookies(t *testing.T) {
	ts := newTestServer(t, "")

	resp, body := ts.do(t, http.MethodPost, "/api/settings",
		`{"cookie_RolexForums BST":"bb_sessionhash=secret","target_year":2015,"is_admin":"yes"}`)
	if resp.StatusCode != http.StatusOK || body["updated"] != float64(2) {
		t.Fatalf("update = %d %v", resp.StatusCode, body)
	}

	_, body = ts.do(t, http.MethodGet, "/api/settings", "")
	if body["cookie_RolexForums BST"] != "***" || body["target_year"] != "2015" {
		t.Errorf("settings = %v", body)
	}
	if _, ok := body["is_admin"]; ok {
		t.Error("unknown setting key was stored")
	}
	if v, _ := ts.store.Setting(context.Background(), store.CookieKey("RolexForums BST"), ""); v != "bb_sessionhash=secret" {
		t.Errorf("stored cookie = %q", v)
	}
}

func TestScrapeConflictAndStatus(t *testing.T) {
	ts := newTestServer(t, "")

	resp, body := ts.do(t, http.MethodPost, "/api/scrape", `{"pages":2}`)
	if resp.StatusCode != http.StatusAccepted || body["status"] != "started" || body["pages"] != float64(2) {
		t.Fatalf("start = %d %v", resp.StatusCode, body)
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/scrape", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start = %d, want 409", resp.StatusCode)
	}

	_, body = ts.do(t, http.MethodGet, "/api/scrape/status", "")
	if body["running"] != true || body["state"] != "running" {
		t.Errorf("status while running = %v", body)
	}

	close(ts.block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ts.runs.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	_, body = ts.do(t, http.MethodGet, "/api/scrape/status", "")
	result, _ := body["last_result"].(map[string]any)
	if body["state"] != "completed" || result == nil || result["new"] != float64(1) {
		t.Errorf("status after run = %v", body)
	}
}

func TestBackfillAndImport(t *testing.T) {
	ts := newTestServer(t, "")

	resp, body := ts.do(t, http.MethodPost, "/api/backfill", "")
	if resp.StatusCode != http.StatusOK || body["updated"] != float64(4) {
		t.Errorf("backfill = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/import",
		`[{"title":"FS: Tudor Pelagos 2016, $3,200 shipped"},{"description":"no title"}]`)
	if resp.StatusCode != http.StatusOK || body["added"] != float64(1) || body["errors"] != float64(1) {
		t.Errorf("import array = %d %v", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPost, "/api/import", `{"title":"Seiko SKX007","listing_url":"https://example.com/skx"}`)
	if resp.StatusCode != http.StatusOK || body["added"] != float64(1) {
		t.Errorf("import object = %d %v", resp.StatusCode, body)
	}
	if resp, _ := ts.do(t, http.MethodPost, "/api/import", "  "); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty import = %d", resp.StatusCode)
	}

	got, _ := ts.store.Listings(context.Background(), store.ListingFilter{Brand: "Tudor"})
	if len(got) != 1 || got[0].Price != 3200 || got[0].Year != 2016 || !strings.HasPrefix(got[0].URL, "manual://") {
		t.Errorf("imported = %+v", got)
	}
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	tests := []struct {
		name string
		path string
		hdr  []string
		want int
	}{
		{"health is open", "/healthz", nil, http.StatusOK},
		{"missing header", "/api/sources", nil, http.StatusUnauthorized},
		{"wrong token", "/api/sources", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"wrong scheme", "/api/sources", []string{"Authorization", "Basic s3cret"}, http.StatusUnauthorized},
		{"valid token", "/api/sources", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, http.MethodGet, tt.path, "", tt.hdr...)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
