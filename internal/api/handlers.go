package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lukman83/watchfinder/internal/logging"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/orchestrator"
	"github.com/lukman83/watchfinder/internal/store"
)

const redacted = "***"

type Handler struct {
	// runCtx outlives requests; background scrapes are bound to it.
	runCtx context.Context
	orch   *orchestrator.Orchestrator
	runs   *orchestrator.RunHandle
	store  store.Store
	logger *slog.Logger
}

func NewHandler(runCtx context.Context, orch *orchestrator.Orchestrator, runs *orchestrator.RunHandle, logger *slog.Logger) *Handler {
	return &Handler{
		runCtx: runCtx,
		orch:   orch,
		runs:   runs,
		store:  orch.Store(),
		logger: logging.Or(logger),
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "scrape": h.runs.Snapshot().State})
}

func (h *Handler) ListListings(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.store.Listings(c.Request.Context(), f)
	if err != nil {
		h.internal(c, "list listings", err)
		return
	}
	if rows == nil {
		rows = []models.Listing{}
	}
	c.JSON(http.StatusOK, gin.H{"listings": rows, "count": len(rows)})
}

func filterFromQuery(c *gin.Context) (store.ListingFilter, error) {
	f := store.ListingFilter{
		Brand:     c.Query("brand"),
		Ratings:   c.QueryArray("rating"),
		Condition: c.Query("condition"),
		Source:    c.Query("source"),
		Search:    c.Query("q"),
		Sort:      c.DefaultQuery("sort", "date_found"),
		Order:     c.DefaultQuery("order", "desc"),
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"year", &f.Year}, {"year_min", &f.YearMin}, {"year_max", &f.YearMax},
		{"limit", &f.Limit}, {"offset", &f.Offset},
	}
	for _, p := range ints {
		if v := c.Query(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return f, fmt.Errorf("%s: not a number", p.key)
			}
			*p.dst = n
		}
	}
	floats := []struct {
		key string
		dst *float64
	}{{"price_min", &f.PriceMin}, {"price_max", &f.PriceMax}}
	for _, p := range floats {
		if v := c.Query(p.key); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return f, fmt.Errorf("%s: not a number", p.key)
			}
			*p.dst = n
		}
	}
	f.IncludeInactive, _ = strconv.ParseBool(c.Query("include_inactive"))
	return f, nil
}

func (h *Handler) GetListing(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}
	l, err := h.store.Listing(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if err != nil {
		h.internal(c, "get listing", err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) GetStats(c *gin.Context) {
	year, _ := strconv.Atoi(c.Query("target_year"))
	if year <= 0 {
		year = h.orch.Resolve(c.Request.Context(), orchestrator.RunOptions{}).TargetYear
	}
	s, err := h.store.Stats(c.Request.Context(), year)
	if err != nil {
		h.internal(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) ListSources(c *gin.Context) {
	srcs, err := h.store.Sources(c.Request.Context())
	if err != nil {
		h.internal(c, "list sources", err)
		return
	}
	c.JSON(http.StatusOK, srcs)
}

// GetSettings shows whether cookies are set, never their values.
func (h *Handler) GetSettings(c *gin.Context) {
	all, err := h.store.Settings(c.Request.Context())
	if err != nil {
		h.internal(c, "settings", err)
		return
	}
	safe := make(map[string]string, len(all))
	for k, v := range all {
		if store.IsCookieKey(k) && v != "" {
			v = redacted
		}
		safe[k] = v
	}
	c.JSON(http.StatusOK, safe)
}

// UpdateSettings accepts cookie_<source>, target_year and scrape_pages;
// other keys are ignored.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected a JSON object"})
		return
	}
	updated := 0
	for k, v := range body {
		if !store.IsCookieKey(k) && k != store.KeyTargetYear && k != store.KeyScrapePages {
			continue
		}
		if err := h.store.SetSetting(c.Request.Context(), k, settingValue(v)); err != nil {
			h.internal(c, "save setting", err)
			return
		}
		updated++
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": updated})
}

func settingValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

type scrapeRequest struct {
	Pages      int      `json:"pages"`
	TargetYear int      `json:"target_year"`
	Sources    []string `json:"sources"`
}

func (h *Handler) StartScrape(c *gin.Context) {
	var req scrapeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	snap, err := h.runs.Start(h.runCtx, orchestrator.RunOptions{
		Pages:      req.Pages,
		TargetYear: req.TargetYear,
		Sources:    req.Sources,
	})
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internal(c, "start scrape", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":      "started",
		"id":          snap.ID,
		"pages":       snap.Pages,
		"target_year": snap.TargetYear,
	})
}

func (h *Handler) ScrapeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.runs.Snapshot())
}

func (h *Handler) Backfill(c *gin.Context) {
	var req struct {
		TargetYear int `json:"target_year"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, h.orch.Backfill(c.Request.Context(), req.TargetYear))
}

// Import takes one listing object or an array of them.
func (h *Handler) Import(c *gin.Context) {
	raw, err := c.GetRawData()
	raw = bytes.TrimSpace(raw)
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no data"})
		return
	}

	var items []models.Listing
	if raw[0] == '[' {
		err = json.Unmarshal(raw, &items)
	} else {
		var one models.Listing
		err = json.Unmarshal(raw, &one)
		items = []models.Listing{one}
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing JSON: " + strings.TrimPrefix(err.Error(), "json: ")})
		return
	}
	c.JSON(http.StatusOK, h.orch.Import(c.Request.Context(), items))
}

func (h *Handler) internal(c *gin.Context, op string, err error) {
	h.logger.Error("request failed", "op", op, "path", c.Request.URL.Path, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
