// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/extractor"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/retry"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/session"
)

// Supported backend names.
const (
	EngineChromedp = "chromedp"
	EngineStatic   = "static"

	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
)

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Browser   BrowserConfig       `mapstructure:"browser"`
	Scraper   ScraperConfig       `mapstructure:"scraper"`
	Selectors extractor.Selectors `mapstructure:"selectors"`
	Identity  IdentityConfig      `mapstructure:"identity"`
	Mirror    MirrorConfig        `mapstructure:"mirror"`
	Notify    NotifyConfig        `mapstructure:"notify"`
	History   HistoryConfig       `mapstructure:"history"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Server    ServerConfig        `mapstructure:"server"`
}

// BrowserConfig controls the automation engine.
type BrowserConfig struct {
	Engine         string        `mapstructure:"engine"`
	Headless       bool          `mapstructure:"headless"`
	UserAgent      string        `mapstructure:"user_agent"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SlowMo         time.Duration `mapstructure:"slow_mo"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	ExecPath       string        `mapstructure:"exec_path"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
}

// ScraperConfig governs the batch loop, pacing, and persistence.
type ScraperConfig struct {
	MaxConcurrentPages int           `mapstructure:"max_concurrent_pages"`
	MinDelay           time.Duration `mapstructure:"min_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	HostQPS            float64       `mapstructure:"host_qps"`
	HostBurst          int           `mapstructure:"host_burst"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	ReadyTimeout       time.Duration `mapstructure:"ready_timeout"`
	SaveImages         bool          `mapstructure:"save_images"`
	OutputDir          string        `mapstructure:"output_dir"`
	MaxListingsPerPage int           `mapstructure:"max_listings_per_page"`
	MaxImages          int           `mapstructure:"max_images"`
}

// IdentityConfig selects where listing ids are remembered.
type IdentityConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig controls the identity table connection.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig controls the identity key space.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MirrorConfig selects the object store committed listings are copied to.
type MirrorConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Dir     string `mapstructure:"dir"`
}

// NotifyConfig selects where listing.committed messages go.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HistoryConfig enables batch history in Postgres when DSN is set.
type HistoryConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the ops HTTP server. An empty address disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.timeout", "30s")
	v.SetDefault("browser.slow_mo", "100ms")
	v.SetDefault("browser.startup_timeout", "30s")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.respect_robots", false)
	v.SetDefault("scraper.max_concurrent_pages", 3)
	v.SetDefault("scraper.min_delay", "1s")
	v.SetDefault("scraper.max_delay", "3s")
	v.SetDefault("scraper.host_qps", 0)
	v.SetDefault("scraper.host_burst", 1)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.retry_base_delay", "250ms")
	v.SetDefault("scraper.retry_max_delay", "5s")
	v.SetDefault("scraper.ready_timeout", "10s")
	v.SetDefault("scraper.save_images", false)
	v.SetDefault("scraper.output_dir", "./data")
	v.SetDefault("scraper.max_listings_per_page", 25)
	v.SetDefault("scraper.max_images", 20)
	v.SetDefault("identity.backend", BackendFile)
	v.SetDefault("identity.postgres.table", "listing_identities")
	v.SetDefault("identity.redis.key_prefix", "listing:identity:")
	v.SetDefault("mirror.backend", BackendNone)
	v.SetDefault("mirror.prefix", "listings")
	v.SetDefault("notify.backend", BackendNone)
	v.SetDefault("notify.topic", "listing-committed")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.max_conns", 2)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	b := c.Browser
	switch b.Engine {
	case EngineChromedp, EngineStatic:
	default:
		return fmt.Errorf("browser.engine must be %q or %q, got %q", EngineChromedp, EngineStatic, b.Engine)
	}
	if b.ViewportWidth < 800 || b.ViewportHeight < 600 {
		return fmt.Errorf("browser viewport must be at least 800x600, got %dx%d", b.ViewportWidth, b.ViewportHeight)
	}
	if b.Timeout < time.Second {
		return fmt.Errorf("browser.timeout must be >= 1s")
	}
	if b.SlowMo < 0 || b.SlowMo > 5*time.Second {
		return fmt.Errorf("browser.slow_mo must be between 0 and 5s")
	}

	s := c.Scraper
	if s.MaxConcurrentPages < 1 || s.MaxConcurrentPages > 10 {
		return fmt.Errorf("scraper.max_concurrent_pages must be between 1 and 10")
	}
	if s.MinDelay < 0 || s.MaxDelay < 0 {
		return fmt.Errorf("scraper delays must be >= 0")
	}
	if s.MinDelay > s.MaxDelay {
		return fmt.Errorf("scraper.min_delay %s exceeds scraper.max_delay %s", s.MinDelay, s.MaxDelay)
	}
	if s.MaxRetries < 0 || s.MaxRetries > 10 {
		return fmt.Errorf("scraper.max_retries must be between 0 and 10")
	}
	if s.MaxListingsPerPage < 1 {
		return fmt.Errorf("scraper.max_listings_per_page must be >= 1")
	}
	if strings.TrimSpace(s.OutputDir) == "" {
		return fmt.Errorf("scraper.output_dir is required")
	}
	if s.HostQPS < 0 {
		return fmt.Errorf("scraper.host_qps must be >= 0")
	}

	switch c.Identity.Backend {
	case BackendFile, BackendMemory:
	case BackendPostgres:
		if c.Identity.Postgres.DSN == "" {
			return fmt.Errorf("identity.postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Identity.Redis.Addr == "" {
			return fmt.Errorf("identity.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown identity.backend %q", c.Identity.Backend)
	}

	switch c.Mirror.Backend {
	case "", BackendNone, BackendMemory:
	case BackendGCS:
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror.bucket is required for the gcs backend")
		}
	case BackendLocal:
		if strings.TrimSpace(c.Mirror.Dir) == "" {
			return fmt.Errorf("mirror.dir is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown mirror.backend %q", c.Mirror.Backend)
	}

	switch c.Notify.Backend {
	case "", BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown notify.backend %q", c.Notify.Backend)
	}

	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}

// SessionConfig converts the pacing knobs for the session pool.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		MaxConcurrentPages: c.Scraper.MaxConcurrentPages,
		MinDelay:           c.Scraper.MinDelay,
		MaxDelay:           c.Scraper.MaxDelay,
		HostQPS:            c.Scraper.HostQPS,
		HostBurst:          c.Scraper.HostBurst,
	}
}

// RetryConfig converts the retry knobs for the backoff policy.
func (c Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxRetries: c.Scraper.MaxRetries,
		BaseDelay:  c.Scraper.RetryBaseDelay,
		MaxDelay:   c.Scraper.RetryMaxDelay,
	}
}

// ExtractorConfig converts timeouts, limits, and selectors for the extractor.
func (c Config) ExtractorConfig() extractor.Config {
	return extractor.Config{
		NavigationTimeout: c.Browser.Timeout,
		ReadyTimeout:      c.Scraper.ReadyTimeout,
		MaxImages:         c.Scraper.MaxImages,
		Selectors:         c.Selectors,
	}
}
