package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/orchestrator"
	"github.com/lukman83/watchfinder/internal/platform"
	"github.com/lukman83/watchfinder/internal/pricing"
	"github.com/lukman83/watchfinder/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Deps are what the tools operate on. RunCtx bounds background scrapes.
type Deps struct {
	RunCtx       context.Context
	Orchestrator *orchestrator.Orchestrator
	Runs         *orchestrator.RunHandle
	Pricer       platform.Pricer
}

type tools struct{ Deps }

func registerTools(s *server.MCPServer, deps Deps) {
	if deps.RunCtx == nil {
		deps.RunCtx = context.Background()
	}
	t := &tools{deps}

	// run_scrape
	s.AddTool(mcp.NewTool("run_scrape",
		mcp.WithDescription("Start a scrape of the watch listing sources in the background"),
		mcp.WithNumber("pages",
			mcp.Description("Index pages per source (default: stored setting or 3)"),
		),
		mcp.WithNumber("target_year",
			mcp.Description("Production year to price against the market (default: stored setting or 2007)"),
		),
		mcp.WithString("source",
			mcp.Description("Only scrape this source, e.g. \"Reddit r/Watchexchange\""),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the scrape finishes and return its stats"),
		),
	), t.handleRunScrape)

	// scrape_status
	s.AddTool(mcp.NewTool("scrape_status",
		mcp.WithDescription("Show the state, progress and last result of the background scrape"),
	), t.handleScrapeStatus)

	// backfill_prices
	s.AddTool(mcp.NewTool("backfill_prices",
		mcp.WithDescription("Re-read comment threads of stored listings that have no price"),
		mcp.WithNumber("target_year",
			mcp.Description("Target year (default: stored setting)"),
		),
	), t.handleBackfill)

	// search_listings
	s.AddTool(mcp.NewTool("search_listings",
		mcp.WithDescription("Search stored watch listings"),
		mcp.WithString("query", mcp.Description("Text to find in title, model or reference")),
		mcp.WithString("brand", mcp.Description("Exact brand, e.g. Rolex")),
		mcp.WithNumber("year", mcp.Description("Exact production year")),
		mcp.WithNumber("max_price", mcp.Description("Maximum asking price in USD")),
		mcp.WithString("rating", mcp.Description("Price rating: Great, Good, Fair, High or N/A")),
		mcp.WithString("sort", mcp.Description("date_found, price, year, brand or price_rating")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default: 20)")),
	), t.handleSearchListings)

	// check_price
	s.AddTool(mcp.NewTool("check_price",
		mcp.WithDescription("Rate an asking price against the watch's market value"),
		mcp.WithString("brand", mcp.Required(), mcp.Description("Watch brand")),
		mcp.WithNumber("asking", mcp.Required(), mcp.Description("Asking price in USD")),
		mcp.WithString("model", mcp.Description("Model name")),
		mcp.WithString("reference", mcp.Description("Reference number")),
	), t.handleCheckPrice)

	// import_listing
	s.AddTool(mcp.NewTool("import_listing",
		mcp.WithDescription("Store a watch listing by hand; missing fields are extracted from the text"),
		mcp.WithString("title", mcp.Required(), mcp.Description("Listing title")),
		mcp.WithString("description", mcp.Description("Listing text")),
		mcp.WithString("url", mcp.Description("Listing URL (generated when empty)")),
		mcp.WithNumber("price", mcp.Description("Asking price in USD")),
	), t.handleImport)
}

func (t *tools) handleRunScrape(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := orchestrator.RunOptions{
		Pages:      request.GetInt("pages", 0),
		TargetYear: request.GetInt("target_year", 0),
	}
	if src := request.GetString("source", ""); src != "" {
		opts.Sources = []string{src}
	}

	snap, err := t.Runs.Start(t.RunCtx, opts)
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		return mcp.NewToolResultError("a scrape is already running; check scrape_status"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start error: %v", err)), nil
	}
	if request.GetBool("wait", false) {
		snap, err = t.Runs.Wait(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("wait interrupted: %v", err)), nil
		}
	}
	return jsonResult(snap)
}

func (t *tools) handleScrapeStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.Runs.Snapshot())
}

func (t *tools) handleBackfill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.Orchestrator.Backfill(ctx, request.GetInt("target_year", 0)))
}

func (t *tools) handleSearchListings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := store.ListingFilter{
		Search:   request.GetString("query", ""),
		Brand:    request.GetString("brand", ""),
		Year:     request.GetInt("year", 0),
		PriceMax: request.GetFloat("max_price", 0),
		Sort:     request.GetString("sort", "date_found"),
		Order:    "desc",
		Limit:    request.GetInt("limit", 20),
	}
	if r := request.GetString("rating", ""); r != "" {
		f.Ratings = []string{r}
	}

	rows, err := t.Orchestrator.Store().Listings(ctx, f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
	}
	if rows == nil {
		rows = []models.Listing{}
	}
	return jsonResult(rows)
}

func (t *tools) handleCheckPrice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	brand := request.GetString("brand", "")
	asking := request.GetFloat("asking", 0)
	if brand == "" || asking <= 0 {
		return mcp.NewToolResultError("brand and a positive asking price are required"), nil
	}
	if t.Pricer == nil {
		return mcp.NewToolResultError("price checking is not configured"), nil
	}

	res := t.Pricer.Check(ctx, pricing.Query{
		Brand:     brand,
		Model:     request.GetString("model", ""),
		Reference: request.GetString("reference", ""),
		Asking:    asking,
	})
	return jsonResult(res)
}

func (t *tools) handleImport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := request.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("title is required"), nil
	}
	stats := t.Orchestrator.Import(ctx, []models.Listing{{
		Title:       title,
		Description: request.GetString("description", ""),
		URL:         request.GetString("url", ""),
		Price:       request.GetFloat("price", 0),
	}})
	if stats.Errors > 0 {
		return mcp.NewToolResultError(fmt.Sprintf("import error: %v", stats.Failed)), nil
	}
	return jsonResult(stats)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
