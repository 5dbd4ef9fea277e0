// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/relay"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Archive drivers.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Publisher drivers.
const (
	PubSubNone   = "none"
	PubSubMemory = "memory"
	PubSubGCP    = "gcp"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Relays  RelaysConfig  `mapstructure:"relays"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Storage StorageConfig `mapstructure:"storage"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	// CORSOrigins enables CORS for browser clients; empty disables it.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures the outbound transport used to reach relays.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// RelaysConfig lists relay endpoints and their politeness limits.
type RelaysConfig struct {
	Endpoints []relay.EndpointConfig `mapstructure:"endpoints"`
	// RPS <= 0 disables throttling.
	RPS         float64            `mapstructure:"rps"`
	Burst       int                `mapstructure:"burst"`
	PerRelayRPS map[string]float64 `mapstructure:"per_relay_rps"`
	SampleURL   string             `mapstructure:"sample_url"`
}

// ScrapeConfig holds default job settings and pagination ceilings.
type ScrapeConfig struct {
	ReviewLimit      int     `mapstructure:"review_limit"`
	DelayMs          int     `mapstructure:"delay_ms"`
	MinRating        float64 `mapstructure:"min_rating"`
	RetryAttempts    int     `mapstructure:"retry_attempts"`
	MaxPages         int     `mapstructure:"max_pages"`
	MaxRecords       int     `mapstructure:"max_records"`
	BaseRetryDelayMs int     `mapstructure:"base_retry_delay_ms"`
	// SeedHost is the site every registered seed URL must point at.
	SeedHost string `mapstructure:"seed_host"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int32  `mapstructure:"max_conns"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ArchiveConfig selects where raw pages are archived.
type ArchiveConfig struct {
	Driver  string `mapstructure:"driver"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
	// Gzip compresses pages stored in GCS.
	Gzip    bool   `mapstructure:"gzip"`
}

// PubSubConfig holds metadata for job completion notifications.
type PubSubConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	if len(cfg.Relays.Endpoints) == 0 {
		cfg.Relays.Endpoints = relay.DefaultEndpointConfigs()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := crawler.DefaultSettings()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("relays.rps", 1.0)
	v.SetDefault("relays.burst", 1)
	v.SetDefault("relays.sample_url", "https://www.trustpilot.com/categories/bakery")
	v.SetDefault("scrape.review_limit", defaults.ReviewLimit)
	v.SetDefault("scrape.delay_ms", defaults.DelayMs)
	v.SetDefault("scrape.min_rating", defaults.MinRating)
	v.SetDefault("scrape.retry_attempts", defaults.RetryAttempts)
	v.SetDefault("scrape.max_pages", 10)
	v.SetDefault("scrape.max_records", 500)
	v.SetDefault("scrape.base_retry_delay_ms", 2000)
	v.SetDefault("scrape.seed_host", "trustpilot.com")
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.sqlite_path", "harvester.db")
	v.SetDefault("archive.driver", ArchiveNone)
	v.SetDefault("archive.base_dir", "data/pages")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.gzip", true)
	v.SetDefault("pubsub.driver", PubSubNone)
	v.SetDefault("pubsub.topic_name", "scrape-jobs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := relay.BuildEndpoints(c.Relays.Endpoints); err != nil {
		return fmt.Errorf("relays.endpoints: %w", err)
	}
	if err := c.Scrape.validate(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres driver")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local driver")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	switch c.PubSub.Driver {
	case PubSubNone, PubSubMemory:
	case PubSubGCP:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the gcp driver")
		}
	default:
		return fmt.Errorf("pubsub.driver %q is not supported", c.PubSub.Driver)
	}
	return nil
}

func (s ScrapeConfig) validate() error {
	if s.ReviewLimit <= 0 {
		return fmt.Errorf("scrape.review_limit must be > 0")
	}
	if s.DelayMs < 0 {
		return fmt.Errorf("scrape.delay_ms must be >= 0")
	}
	if s.MinRating < 0 || s.MinRating > 5 {
		return fmt.Errorf("scrape.min_rating must be within [0,5]")
	}
	if s.RetryAttempts <= 0 {
		return fmt.Errorf("scrape.retry_attempts must be > 0")
	}
	if s.MaxPages <= 0 || s.MaxRecords <= 0 {
		return fmt.Errorf("scrape.max_pages and scrape.max_records must be > 0")
	}
	return nil
}

// DefaultSettings returns the job settings used when a request omits them.
func (c Config) DefaultSettings() crawler.Settings {
	settings := crawler.DefaultSettings()
	settings.ReviewLimit = c.Scrape.ReviewLimit
	settings.DelayMs = c.Scrape.DelayMs
	settings.MinRating = c.Scrape.MinRating
	settings.RetryAttempts = c.Scrape.RetryAttempts
	return settings
}

// FetchTimeout converts http.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds inbound API requests.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// BaseRetryDelay is the linear page retry unit.
func (c Config) BaseRetryDelay() time.Duration {
	return time.Duration(c.Scrape.BaseRetryDelayMs) * time.Millisecond
}
