// Package api is the HTTP surface over the orchestrator and the store.
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lukman83/watchfinder/internal/logging"
)

type ServerOptions struct {
	// APIKey enables bearer-token auth on everything except /healthz.
	APIKey string
	// MCP, when set, is mounted at /mcp.
	MCP http.Handler
	// ImageDir is served under ImagePrefix so cached image paths resolve.
	ImageDir    string
	ImagePrefix string
	Logger      *slog.Logger
}

// NewServer creates a gin engine with all routes configured.
func NewServer(h *Handler, opts ServerOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger := logging.Or(opts.Logger)

	r := gin.New()
	r.Use(requestLogger(logger), gin.Recovery())

	r.GET("/healthz", h.Health)

	protected := r.Group("/")
	if opts.APIKey != "" {
		protected.Use(bearerAuth(opts.APIKey))
	} else {
		logger.Warn("API key not set; endpoints are unauthenticated")
	}

	api := protected.Group("/api")
	{
		api.GET("/listings", h.ListListings)
		api.GET("/listings/:id", h.GetListing)
		api.GET("/stats", h.GetStats)
		api.GET("/sources", h.ListSources)
		api.GET("/settings", h.GetSettings)
		api.POST("/settings", h.UpdateSettings)
		api.POST("/scrape", h.StartScrape)
		api.GET("/scrape/status", h.ScrapeStatus)
		api.POST("/backfill", h.Backfill)
		api.POST("/import", h.Import)
	}
	if opts.MCP != nil {
		protected.Any("/mcp", gin.WrapH(opts.MCP))
	}
	if opts.ImageDir != "" {
		prefix := opts.ImagePrefix
		if prefix == "" {
			prefix = "/static/images/"
		}
		r.Static(strings.TrimSuffix(prefix, "/"), opts.ImageDir)
	}
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client", c.ClientIP())
	}
}

func bearerAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.Header("WWW-Authenticate", `Bearer realm="watchfinder"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="watchfinder", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
