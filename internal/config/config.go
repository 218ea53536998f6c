// Package config handles loading and validation of connector configuration.
// Supports both development (env vars or config file) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"unycop-connector/internal/export"
	"unycop-connector/internal/feed"
	"unycop-connector/internal/progress"
)

// Defaults match the plugin's upload directory layout.
const (
	DefaultFeedPath   = "/var/www/html/wp-content/uploads/unycop/stocklocal.csv"
	DefaultExportPath = "/var/www/html/wp-content/uploads/unycop/orders.csv"
	DefaultTimeZone   = "Europe/Madrid"

	// Progress files live next to the feed unless a path is configured.
	DefaultSQLiteFile = "unycop-progress.db"
	DefaultBadgerDir  = "unycop-progress"
	DefaultChunkSize  = 100
	DefaultTimeout    = 30 * time.Second
)

// Config holds all connector configuration.
// Environment determines whether store credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	Environment string `mapstructure:"environment"` // "development" or "production"
	LogLevel    string `mapstructure:"log_level"`   // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string `mapstructure:"gcp_project"`
	StoreID    string `mapstructure:"store_id"`

	Store    StoreConfig    `mapstructure:"store"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Progress ProgressConfig `mapstructure:"progress"`
	Export   ExportConfig   `mapstructure:"export"`
}

// StoreConfig holds the WooCommerce REST credentials.
// In production, this is loaded from Secret Manager as JSON.
type StoreConfig struct {
	URL       string        `json:"store_url" mapstructure:"url"`
	APIKey    string        `json:"api_key" mapstructure:"api_key"`
	APISecret string        `json:"api_secret" mapstructure:"api_secret"`
	Timeout   time.Duration `json:"-" mapstructure:"timeout"`
}

// FeedConfig locates and describes the stock feed.
type FeedConfig struct {
	Path       string `mapstructure:"path"`
	Encoding   string `mapstructure:"encoding"` // auto, utf-8, latin1
	MinColumns int    `mapstructure:"min_columns"`
}

// SyncConfig tunes reconciliation.
type SyncConfig struct {
	ChunkSize        int    `mapstructure:"chunk_size"`
	AutoCreate       bool   `mapstructure:"auto_create"`
	Verify           bool   `mapstructure:"verify"`
	RequireMigration bool   `mapstructure:"require_migration"`
	PriceTolerance   string `mapstructure:"price_tolerance"` // decimal, e.g. "0.01"
}

// ProgressConfig selects where run progress is persisted.
type ProgressConfig struct {
	Backend string `mapstructure:"backend"` // memory, badger, sqlite, postgres
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

// ExportConfig configures the order export file.
type ExportConfig struct {
	Path     string `mapstructure:"path"`
	Status   string `mapstructure:"status"`
	TimeZone string `mapstructure:"time_zone"`
	BOM      bool   `mapstructure:"bom"`
	Format   string `mapstructure:"format"` // csv or xlsx
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		StoreID:     envOrDefault("STORE_ID", "unycop"),
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading store credentials: %w", err)
		}
	}

	cfg.resolveProgressPath()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every default on v so file configs can stay short.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_id", "unycop")
	v.SetDefault("store.timeout", DefaultTimeout)
	v.SetDefault("feed.path", DefaultFeedPath)
	v.SetDefault("feed.encoding", string(feed.EncodingAuto))
	v.SetDefault("feed.min_columns", feed.MinColumns)
	v.SetDefault("sync.chunk_size", DefaultChunkSize)
	v.SetDefault("sync.auto_create", false)
	v.SetDefault("sync.verify", true)
	v.SetDefault("sync.require_migration", false)
	v.SetDefault("sync.price_tolerance", "0.01")
	v.SetDefault("progress.backend", progress.BackendSQLite)
	v.SetDefault("export.path", DefaultExportPath)
	v.SetDefault("export.status", export.DefaultStatus)
	v.SetDefault("export.time_zone", DefaultTimeZone)
	v.SetDefault("export.bom", false)
	v.SetDefault("export.format", export.FormatCSV)
}

// loadFromFile reads all configuration from a JSON, YAML or TOML file,
// picked by extension. Used for local development and cron hosts.
func loadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.resolveProgressPath()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFromSecretManager fetches store credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{store_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoreID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	return c.applySecret(result.Payload.Data)
}

// applySecret overlays the credential JSON onto the store config.
// Fields absent from the secret keep their env values.
func (c *Config) applySecret(data []byte) error {
	var secret StoreConfig
	if err := json.Unmarshal(data, &secret); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if secret.URL != "" {
		c.Store.URL = secret.URL
	}
	if secret.APIKey != "" {
		c.Store.APIKey = secret.APIKey
	}
	if secret.APISecret != "" {
		c.Store.APISecret = secret.APISecret
	}
	return nil
}

// loadFromEnv reads everything but the production secret from individual
// environment variables.
func (c *Config) loadFromEnv() error {
	var err error
	parse := func(key string, fn func(string) error) {
		if err != nil {
			return
		}
		if val := os.Getenv(key); val != "" {
			if perr := fn(val); perr != nil {
				err = fmt.Errorf("parsing %s: %w", key, perr)
			}
		}
	}
	atoi := func(dst *int) func(string) error {
		return func(s string) error {
			n, err := strconv.Atoi(s)
			*dst = n
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(s string) error {
			b, err := strconv.ParseBool(s)
			*dst = b
			return err
		}
	}

	c.Store = StoreConfig{
		URL:       os.Getenv("STORE_URL"),
		APIKey:    os.Getenv("STORE_API_KEY"),
		APISecret: os.Getenv("STORE_API_SECRET"),
		Timeout:   DefaultTimeout,
	}
	parse("STORE_TIMEOUT", func(s string) error {
		d, err := time.ParseDuration(s)
		c.Store.Timeout = d
		return err
	})

	c.Feed = FeedConfig{
		Path:       envOrDefault("FEED_PATH", DefaultFeedPath),
		Encoding:   envOrDefault("FEED_ENCODING", string(feed.EncodingAuto)),
		MinColumns: feed.MinColumns,
	}
	parse("FEED_MIN_COLUMNS", atoi(&c.Feed.MinColumns))

	c.Sync = SyncConfig{
		ChunkSize:      DefaultChunkSize,
		Verify:         true,
		PriceTolerance: envOrDefault("SYNC_PRICE_TOLERANCE", "0.01"),
	}
	parse("SYNC_CHUNK_SIZE", atoi(&c.Sync.ChunkSize))
	parse("SYNC_AUTO_CREATE", boolean(&c.Sync.AutoCreate))
	parse("SYNC_VERIFY", boolean(&c.Sync.Verify))
	parse("SYNC_REQUIRE_MIGRATION", boolean(&c.Sync.RequireMigration))

	c.Progress = ProgressConfig{
		Backend: envOrDefault("PROGRESS_BACKEND", progress.BackendSQLite),
		Path:    os.Getenv("PROGRESS_PATH"),
		DSN:     os.Getenv("PROGRESS_DSN"),
	}

	c.Export = ExportConfig{
		Path:     envOrDefault("EXPORT_PATH", DefaultExportPath),
		Status:   envOrDefault("EXPORT_STATUS", export.DefaultStatus),
		TimeZone: envOrDefault("EXPORT_TIMEZONE", DefaultTimeZone),
		Format:   envOrDefault("EXPORT_FORMAT", export.FormatCSV),
	}
	parse("EXPORT_BOM", boolean(&c.Export.BOM))

	return err
}

// validate checks that all required configuration fields are present and
// every enumerated field holds a known value.
func (c *Config) validate() error {
	if c.Store.URL == "" {
		return fmt.Errorf("store_url is required")
	}
	if c.Store.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.Store.APISecret == "" {
		return fmt.Errorf("api_secret is required")
	}
	u, err := url.Parse(c.Store.URL)
	if err != nil {
		return fmt.Errorf("invalid store_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid store_url: scheme must be http or https")
	}

	switch feed.Encoding(c.Feed.Encoding) {
	case feed.EncodingAuto, feed.EncodingUTF8, feed.EncodingLatin1:
	default:
		return fmt.Errorf("invalid feed encoding %q (auto, utf-8 or latin1)", c.Feed.Encoding)
	}
	if c.Feed.MinColumns < 1 {
		return fmt.Errorf("feed min_columns must be positive")
	}

	if c.Sync.ChunkSize < 1 {
		return fmt.Errorf("sync chunk_size must be positive")
	}
	if _, err := c.PriceTolerance(); err != nil {
		return err
	}

	switch c.Progress.Backend {
	case progress.BackendMemory, progress.BackendBadger:
	case progress.BackendSQLite:
		if c.Progress.Path == "" {
			return fmt.Errorf("progress path is required for the sqlite backend")
		}
	case progress.BackendPostgres:
		if c.Progress.DSN == "" {
			return fmt.Errorf("progress dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid progress backend %q", c.Progress.Backend)
	}

	switch c.Export.Format {
	case export.FormatCSV, export.FormatXLSX:
	default:
		return fmt.Errorf("invalid export format %q (csv or xlsx)", c.Export.Format)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// resolveProgressPath places file-backed progress next to the feed when no
// path is set. Each CLI call is a new process, so progress must outlive it.
func (c *Config) resolveProgressPath() {
	if c.Progress.Path != "" {
		return
	}
	dir := filepath.Dir(c.Feed.Path)
	switch c.Progress.Backend {
	case progress.BackendSQLite:
		c.Progress.Path = filepath.Join(dir, DefaultSQLiteFile)
	case progress.BackendBadger:
		c.Progress.Path = filepath.Join(dir, DefaultBadgerDir)
	}
}

// PriceTolerance parses the quick-sync price tolerance.
func (c *Config) PriceTolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.Sync.PriceTolerance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price_tolerance %q: %w", c.Sync.PriceTolerance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("price_tolerance must not be negative")
	}
	return d, nil
}

// Location loads the export time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Export.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid export time_zone %q: %w", c.Export.TimeZone, err)
	}
	return loc, nil
}

// ProgressOptions converts the progress section for progress.Open.
func (c *Config) ProgressOptions() progress.Options {
	return progress.Options{Backend: c.Progress.Backend, Path: c.Progress.Path, DSN: c.Progress.DSN}
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
