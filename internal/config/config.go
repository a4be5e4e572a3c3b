// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port          int  `mapstructure:"port"`
	SeedOnStartup bool `mapstructure:"seed_on_startup"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the worker pool and queue.
type CrawlerConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	QueueDepth   int    `mapstructure:"queue_depth"`
	QueueBackend string `mapstructure:"queue_backend"`
	UserAgent    string `mapstructure:"user_agent"`
}

// BrowserConfig configures headless Chrome sessions.
type BrowserConfig struct {
	MaxSessions    int           `mapstructure:"max_sessions"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	ChromePath     string        `mapstructure:"chrome_path"`
}

// PolicyConfig configures the robots.txt gate.
type PolicyConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheSize    int           `mapstructure:"cache_size"`
	DeniedStatus string        `mapstructure:"denied_status"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// CatalogConfig points at an optional rules file overriding the embedded one.
type CatalogConfig struct {
	RulesPath string `mapstructure:"rules_path"`
}

// EnrichmentConfig picks the product detail enrichment strategy.
type EnrichmentConfig struct {
	Mode string `mapstructure:"mode"`
	Seed uint64 `mapstructure:"seed"`
}

// StorageConfig selects the page snapshot backend.
type StorageConfig struct {
	Backend     string      `mapstructure:"backend"`
	Bucket      string      `mapstructure:"bucket"`
	Prefix      string      `mapstructure:"prefix"`
	ContentType string      `mapstructure:"content_type"`
	Snapshots   bool        `mapstructure:"snapshots"`
	Local       LocalConfig `mapstructure:"local"`
}

// LocalConfig configures the filesystem blob store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// RedisConfig configures the redis queue backend.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Key         string        `mapstructure:"key"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// PubSubConfig holds metadata for job lifecycle notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	Enabled    bool        `mapstructure:"enabled"`
	LogEnabled bool        `mapstructure:"log_enabled"`
	BufferSize int         `mapstructure:"buffer_size"`
	Batch      BatchConfig `mapstructure:"batch"`
}

// BatchConfig controls hub flushing.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// ScheduleConfig lists recurring crawls.
type ScheduleConfig struct {
	Entries []ScheduleEntry `mapstructure:"entries"`
}

// ScheduleEntry is one cron-driven enqueue.
type ScheduleEntry struct {
	Spec           string `mapstructure:"spec"`
	TargetType     string `mapstructure:"target_type"`
	Slug           string `mapstructure:"slug"`
	LoadMoreClicks int    `mapstructure:"load_more_clicks"`
	Query          string `mapstructure:"query"`
	URL            string `mapstructure:"url"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.seed_on_startup", true)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.queue_backend", "memory")
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("browser.max_sessions", 2)
	v.SetDefault("browser.nav_timeout", 30*time.Second)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.rate_per_second", 0.5)
	v.SetDefault("browser.burst", 1)
	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.timeout", 5*time.Second)
	v.SetDefault("policy.cache_ttl", time.Hour)
	v.SetDefault("policy.cache_size", 128)
	v.SetDefault("policy.denied_status", "skipped")
	v.SetDefault("policy.user_agent", "*")
	v.SetDefault("enrichment.mode", "synthetic")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.snapshots", false)
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key", "catalog:jobs")
	v.SetDefault("redis.poll_timeout", 2*time.Second)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("telemetry.service_name", "catalog-crawler")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	switch c.Crawler.QueueBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("crawler.queue_backend must be memory or redis, got %q", c.Crawler.QueueBackend)
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be > 0")
	}
	if c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("browser.nav_timeout must be > 0")
	}
	if c.Policy.Timeout <= 0 {
		return fmt.Errorf("policy.timeout must be > 0")
	}
	switch c.Policy.DeniedStatus {
	case "skipped", "completed":
	default:
		return fmt.Errorf("policy.denied_status must be skipped or completed, got %q", c.Policy.DeniedStatus)
	}
	switch c.Enrichment.Mode {
	case "synthetic", "none", "detail_page":
	default:
		return fmt.Errorf("enrichment.mode must be synthetic, none or detail_page, got %q", c.Enrichment.Mode)
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.Local.BaseDir == "" {
		return fmt.Errorf("storage.local.base_dir must be set for the local backend")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// HubFlushWait converts the progress batch wait into a duration.
func (c Config) HubFlushWait() time.Duration {
	return time.Duration(c.Progress.Batch.MaxWaitMs) * time.Millisecond
}
