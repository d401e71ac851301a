package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Storage
	DatabaseURL    string `yaml:"database_url"` // sqlite path or postgres:// DSN
	DBMaxConns     int    `yaml:"db_max_conns"`
	ImageDir       string `yaml:"image_dir"`
	ImageURLPrefix string `yaml:"image_url_prefix"`

	// Scraping
	Pages      int               `yaml:"pages"`
	TargetYear int               `yaml:"target_year"`
	PoolSize   int               `yaml:"pool_size"`
	Cookies    map[string]string `yaml:"cookies"` // source name -> cookie header

	// Fetching
	ScrapeDoToken string  `yaml:"scrape_do_token"`
	DelayProfile  string  `yaml:"delay_profile"` // "cautious", "normal", "aggressive"
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
	RespectRobots bool    `yaml:"respect_robots"`
	ProxyMode     string  `yaml:"proxy_mode"` // "direct", "custom"
	ProxyFile     string  `yaml:"proxy_file"`
	Headless      bool    `yaml:"headless"`
	BrowserBin    string  `yaml:"browser_bin"`

	// HTTP server
	HTTPPort string `yaml:"http_port"`
	APIKey   string `yaml:"api_key"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text", "json"
	LogColor  bool   `yaml:"log_color"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabaseURL:    "watches.db",
		DBMaxConns:     4,
		ImageDir:       "static/images",
		ImageURLPrefix: "/static/images/",
		Pages:          3,
		TargetYear:     2007,
		PoolSize:       5,
		Cookies:        map[string]string{},
		DelayProfile:   "normal",
		RatePerSecond:  2.0,
		RateBurst:      3,
		ProxyMode:      "direct",
		HTTPPort:       "8080",
		LogLevel:       "info",
		LogFormat:      "text",
		LogColor:       true,
	}
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if c.Cookies == nil {
		c.Cookies = map[string]string{}
	}
	return nil
}

// LoadFromEnv loads .env file (if present) then overrides config from environment variables.
func (c *Config) LoadFromEnv() {
	// Auto-load .env file; silently ignored if missing
	_ = godotenv.Load()

	if v := firstEnv("WATCHFINDER_DATABASE_URL", "DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	envInt("WATCHFINDER_DB_MAX_CONNS", &c.DBMaxConns)
	if v := os.Getenv("WATCHFINDER_IMAGE_DIR"); v != "" {
		c.ImageDir = v
	}
	envInt("WATCHFINDER_PAGES", &c.Pages)
	envInt("WATCHFINDER_TARGET_YEAR", &c.TargetYear)
	envInt("WATCHFINDER_POOL_SIZE", &c.PoolSize)
	if v := os.Getenv("SCRAPE_DO_API_KEY"); v != "" {
		c.ScrapeDoToken = v
	}
	if v := os.Getenv("WATCHFINDER_DELAY_PROFILE"); v != "" {
		c.DelayProfile = v
	}
	if v := os.Getenv("WATCHFINDER_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RatePerSecond = f
		}
	}
	envInt("WATCHFINDER_RATE_BURST", &c.RateBurst)
	envBool("WATCHFINDER_RESPECT_ROBOTS", &c.RespectRobots)
	if v := os.Getenv("WATCHFINDER_PROXY_MODE"); v != "" {
		c.ProxyMode = v
	}
	if v := os.Getenv("WATCHFINDER_PROXIES"); v != "" {
		c.ProxyFile = v
	}
	envBool("WATCHFINDER_HEADLESS", &c.Headless)
	if v := os.Getenv("WATCHFINDER_BROWSER_BIN"); v != "" {
		c.BrowserBin = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.HTTPPort = v
	}
	if v := os.Getenv("WATCHFINDER_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("WATCHFINDER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WATCHFINDER_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		c.LogColor = false
	}
}

// IsPostgres reports whether DatabaseURL names a PostgreSQL server.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
