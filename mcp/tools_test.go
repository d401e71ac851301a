package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/orchestrator"
	"github.com/lukman83/watchfinder/internal/platform"
	"github.com/lukman83/watchfinder/internal/pricing"
	"github.com/lukman83/watchfinder/internal/store/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

type quickAdapter struct{}

func (quickAdapter) Name() string                                          { return "quick" }
func (quickAdapter) ListStubs(context.Context, int) ([]models.Stub, error) { return nil, nil }
func (quickAdapter) FetchDetail(context.Context, models.Stub) (*models.Listing, error) {
	return nil, nil
}
func (quickAdapter) Run(_ context.Context, opts platform.RunOptions) models.RunStats {
	return models.RunStats{Source: "quick", Pages: opts.Pages, New: 3}
}

type flatPricer struct{}

func (flatPricer) Check(_ context.Context, q pricing.Query) pricing.Result {
	r, pct := pricing.Rate(q.Asking, 5000)
	return pricing.Result{Rating: r, MarketPrice: 5000, PctOfMarket: pct * 100}
}

func newTools(t *testing.T) *tools {
	t.Helper()
	reg := platform.NewRegistry()
	reg.Register("quick", "", func(context.Context, platform.Deps, string) (platform.Adapter, error) {
		return quickAdapter{}, nil
	})
	orch := orchestrator.New(reg, platform.Deps{Store: memory.New()})
	return &tools{Deps{
		RunCtx:       context.Background(),
		Orchestrator: orch,
		Runs:         orchestrator.NewRunHandle(orch),
		Pricer:       flatPricer{},
	}}
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestRunScrapeWaitsForResult(t *testing.T) {
	tl := newTools(t)

	out, isErr := call(t, tl.handleRunScrape, map[string]any{"pages": 2, "wait": true})
	if isErr {
		t.Fatalf("run_scrape error: %s", out)
	}
	var snap orchestrator.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != orchestrator.StateCompleted || snap.Result == nil || snap.Result.New != 3 || snap.Pages != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	out, _ = call(t, tl.handleScrapeStatus, nil)
	if !strings.Contains(out, `"state": "completed"`) {
		t.Errorf("scrape_status = %s", out)
	}
}

func TestImportThenSearch(t *testing.T) {
	tl := newTools(t)

	if out, isErr := call(t, tl.handleImport, map[string]any{"title": ""}); !isErr {
		t.Errorf("import without title = %s, want error", out)
	}
	out, isErr := call(t, tl.handleImport, map[string]any{
		"title":       "FS: Rolex Explorer 14270 1997",
		"description": "Asking $5,200 shipped",
	})
	if isErr || !strings.Contains(out, `"added": 1`) {
		t.Fatalf("import = %s", out)
	}

	out, isErr = call(t, tl.handleSearchListings, map[string]any{"brand": "Rolex", "year": 1997})
	if isErr {
		t.Fatal(out)
	}
	var rows []models.Listing
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Price != 5200 || rows[0].Reference != "14270" {
		t.Errorf("search = %+v", rows)
	}

	out, _ = call(t, tl.handleSearchListings, map[string]any{"brand": "Omega"})
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("empty search = %s", out)
	}
}

func TestCheckPrice(t *testing.T) {
	tl := newTools(t)

	if _, isErr := call(t, tl.handleCheckPrice, map[string]any{"brand": "Rolex"}); !isErr {
		t.Error("check_price without asking price should fail")
	}
	out, isErr := call(t, tl.handleCheckPrice, map[string]any{"brand": "Rolex", "asking": 4500})
	if isErr {
		t.Fatal(out)
	}
	var res pricing.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.Rating != pricing.Great || res.MarketPrice != 5000 {
		t.Errorf("result = %+v", res)
	}
}
