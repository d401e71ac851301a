package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/lukman83/watchfinder/config"
	"github.com/lukman83/watchfinder/internal/fetch"
	"github.com/lukman83/watchfinder/internal/forum"
	"github.com/lukman83/watchfinder/internal/httputil"
	"github.com/lukman83/watchfinder/internal/imagecache"
	"github.com/lukman83/watchfinder/internal/logging"
	"github.com/lukman83/watchfinder/internal/orchestrator"
	"github.com/lukman83/watchfinder/internal/platform"
	"github.com/lukman83/watchfinder/internal/pricing"
	"github.com/lukman83/watchfinder/internal/reddit"
	"github.com/lukman83/watchfinder/internal/stealth"
	"github.com/lukman83/watchfinder/internal/store"
	"github.com/lukman83/watchfinder/internal/store/memory"
	"github.com/lukman83/watchfinder/internal/store/postgres"
	"github.com/lukman83/watchfinder/internal/store/sqlite"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	cfg       *config.Config
	cfgErr    error
	logger    *slog.Logger
	appClient *http.Client
)

var rootCmd = &cobra.Command{
	Use:   "watchfinder",
	Short: "WatchFinder - pre-owned watch listing tracker",
	Long: "Scrapes watch sale listings from RolexForums and r/Watchexchange, extracts brand, year and price,\n" +
		"and rates target-year listings against WatchCharts market prices.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfgErr
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite path or postgres:// URL")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("delay-profile", "", "Delay profile: cautious, normal, aggressive, off")
	rootCmd.PersistentFlags().Bool("respect-robots", false, "Respect robots.txt rules")
	rootCmd.PersistentFlags().String("proxy-mode", "", "Proxy mode: direct, custom")
	rootCmd.PersistentFlags().String("proxy-file", "", "Path to proxy list file")
	rootCmd.PersistentFlags().Bool("headless", false, "Render anti-bot challenge pages in a headless browser")
}

func initConfig() {
	cfg = config.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	if path, _ := flags.GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			cfgErr = err
		}
	}
	cfg.LoadFromEnv()

	// Override from flags
	if v, _ := flags.GetString("db"); v != "" {
		cfg.DatabaseURL = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.GetString("delay-profile"); v != "" {
		cfg.DelayProfile = v
	}
	if flags.Changed("respect-robots") {
		cfg.RespectRobots, _ = flags.GetBool("respect-robots")
	}
	if v, _ := flags.GetString("proxy-mode"); v != "" {
		cfg.ProxyMode = v
	}
	if v, _ := flags.GetString("proxy-file"); v != "" {
		cfg.ProxyFile = v
	}
	if flags.Changed("headless") {
		cfg.Headless, _ = flags.GetBool("headless")
	}

	logger = logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Color:  cfg.LogColor,
	})
	slog.SetDefault(logger)
}

// buildHTTPClient creates the stealth-wrapped HTTP client from config.
// Every component shares it so the rate limit is global.
func buildHTTPClient() (*http.Client, error) {
	if appClient != nil {
		return appClient, nil
	}
	profile, err := stealth.ParseDelayProfile(cfg.DelayProfile)
	if err != nil {
		return nil, err
	}

	var proxyRotator *stealth.ProxyRotator
	switch cfg.ProxyMode {
	case "custom":
		providers, err := stealth.LoadProxyFile(cfg.ProxyFile)
		if err != nil {
			return nil, err
		}
		proxyRotator = stealth.NewProxyRotator(providers)
	case "", "direct":
	default:
		return nil, fmt.Errorf("unknown proxy mode %q", cfg.ProxyMode)
	}

	robotsClient := httputil.NewHTTPClient(nil)
	transport := &stealth.Transport{
		Base:        httputil.NewBaseTransport(),
		Robots:      stealth.NewRobotsChecker(robotsClient, cfg.RespectRobots),
		Fingerprint: stealth.NewFingerprintPool(),
		Proxy:       proxyRotator,
		Delay:       stealth.NewHumanDelay(profile),
		RateLimiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
	}
	appClient = httputil.NewHTTPClient(transport)
	return appClient, nil
}

// openStore opens the configured database, migrating it to the latest schema.
func openStore(ctx context.Context) (store.Store, error) {
	if cfg.IsPostgres() {
		return postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
	}
	return sqlite.Open(ctx, cfg.DatabaseURL, logger)
}

// openStoreOrMemory returns an in-memory store for dry runs.
func openStoreOrMemory(ctx context.Context, dryRun bool) (store.Store, error) {
	if dryRun {
		logger.Info("dry run: listings are kept in memory and discarded")
		return memory.New(), nil
	}
	return openStore(ctx)
}

func buildPricer() (*pricing.Resolver, error) {
	client, err := buildHTTPClient()
	if err != nil {
		return nil, err
	}
	return pricing.NewResolver(client, pricing.WithLogger(logger)), nil
}

func buildDeps(st store.Store) (platform.Deps, error) {
	client, err := buildHTTPClient()
	if err != nil {
		return platform.Deps{}, err
	}
	pricer, err := buildPricer()
	if err != nil {
		return platform.Deps{}, err
	}

	fc := fetch.Config{
		Client:     client,
		ProxyToken: cfg.ScrapeDoToken,
		Logger:     logger,
	}
	if cfg.Headless {
		fc.Headless = &fetch.Headless{Bin: cfg.BrowserBin}
	}

	return platform.Deps{
		Store: st,
		Fetch: fc,
		Images: imagecache.New(imagecache.Options{
			Dir:       cfg.ImageDir,
			URLPrefix: cfg.ImageURLPrefix,
			Referer:   forum.BaseURL + "/",
			Client:    client,
			Logger:    logger,
		}),
		Pricer:   pricer,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	}, nil
}

// initPlatforms registers all available source adapters, in run order.
func initPlatforms() {
	platform.Register(forum.SourceName, forum.BaseURL+forum.IndexPath, forum.Factory())
	platform.Register(reddit.SourceName, reddit.BaseURL+reddit.Subreddit+"/", reddit.Factory())
}

func newOrchestrator(st store.Store) (*orchestrator.Orchestrator, error) {
	initPlatforms()
	deps, err := buildDeps(st)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(platform.Default(), deps,
		orchestrator.WithDefaults(cfg.Pages, cfg.TargetYear),
		orchestrator.WithCookies(cfg.Cookies),
		orchestrator.WithLogger(logger),
	), nil
}
