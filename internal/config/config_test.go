package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"unycop-connector/internal/progress"
)

var allEnvVars = []string{
	"CONFIG_FILE", "ENVIRONMENT", "LOG_LEVEL", "GCP_PROJECT", "STORE_ID",
	"STORE_URL", "STORE_API_KEY", "STORE_API_SECRET", "STORE_TIMEOUT",
	"FEED_PATH", "FEED_ENCODING", "FEED_MIN_COLUMNS",
	"SYNC_CHUNK_SIZE", "SYNC_AUTO_CREATE", "SYNC_VERIFY", "SYNC_REQUIRE_MIGRATION", "SYNC_PRICE_TOLERANCE",
	"PROGRESS_BACKEND", "PROGRESS_PATH", "PROGRESS_DSN",
	"EXPORT_PATH", "EXPORT_STATUS", "EXPORT_TIMEZONE", "EXPORT_BOM", "EXPORT_FORMAT",
}

// clearEnv blanks every variable Load reads; envOrDefault treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnvVars {
		t.Setenv(k, "")
	}
}

func setStoreEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_URL", "https://farmacia.example.com")
	t.Setenv("STORE_API_KEY", "ck_test123")
	t.Setenv("STORE_API_SECRET", "cs_test456")
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	setStoreEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_TIMEOUT", "45s")
	t.Setenv("FEED_ENCODING", "latin1")
	t.Setenv("SYNC_CHUNK_SIZE", "250")
	t.Setenv("SYNC_AUTO_CREATE", "false")
	t.Setenv("SYNC_REQUIRE_MIGRATION", "true")
	t.Setenv("PROGRESS_BACKEND", "sqlite")
	t.Setenv("PROGRESS_PATH", "/tmp/progress.db")
	t.Setenv("EXPORT_BOM", "true")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Store.URL != "https://farmacia.example.com" || cfg.Store.APIKey != "ck_test123" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", cfg.Store.Timeout)
	}
	if cfg.Feed.Encoding != "latin1" || cfg.Feed.Path != DefaultFeedPath || cfg.Feed.MinColumns != 7 {
		t.Errorf("Feed = %+v", cfg.Feed)
	}
	if cfg.Sync.ChunkSize != 250 || cfg.Sync.AutoCreate || !cfg.Sync.Verify || !cfg.Sync.RequireMigration {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if opts := cfg.ProgressOptions(); opts.Backend != progress.BackendSQLite || opts.Path != "/tmp/progress.db" {
		t.Errorf("ProgressOptions() = %+v", opts)
	}
	if !cfg.Export.BOM || cfg.Export.Format != "csv" || cfg.Export.Status != "completed" {
		t.Errorf("Export = %+v", cfg.Export)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setStoreEnv(t)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Environment != "development" || cfg.StoreID != "unycop" {
		t.Errorf("Environment/StoreID = %s/%s", cfg.Environment, cfg.StoreID)
	}
	tol, err := cfg.PriceTolerance()
	if err != nil || tol.String() != "0.01" {
		t.Errorf("PriceTolerance() = %s, %v", tol, err)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != DefaultTimeZone {
		t.Errorf("Location() = %v, %v", loc, err)
	}
	if cfg.Sync.AutoCreate {
		t.Error("AutoCreate = true, want creation disabled by default")
	}
	wantPath := filepath.Join(filepath.Dir(DefaultFeedPath), DefaultSQLiteFile)
	if cfg.Progress.Backend != progress.BackendSQLite || cfg.Progress.Path != wantPath {
		t.Errorf("Progress = %+v, want sqlite at %s", cfg.Progress, wantPath)
	}
}

func TestLoadProgressPathFollowsFeed(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{progress.BackendSQLite, "/data/unycop/" + DefaultSQLiteFile},
		{progress.BackendBadger, "/data/unycop/" + DefaultBadgerDir},
		{progress.BackendMemory, ""},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			clearEnv(t)
			setStoreEnv(t)
			t.Setenv("FEED_PATH", "/data/unycop/stocklocal.csv")
			t.Setenv("PROGRESS_BACKEND", tt.backend)

			cfg, err := Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.Progress.Path != tt.want {
				t.Errorf("Progress.Path = %q, want %q", cfg.Progress.Path, tt.want)
			}
		})
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantErr string
	}{
		{"missing store_url", "STORE_URL", "store_url is required"},
		{"missing api_key", "STORE_API_KEY", "api_key is required"},
		{"missing api_secret", "STORE_API_SECRET", "api_secret is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setStoreEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load(context.Background())
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad url scheme", "STORE_URL", "ftp://shop", "scheme"},
		{"bad encoding", "FEED_ENCODING", "ebcdic", "feed encoding"},
		{"bad chunk size", "SYNC_CHUNK_SIZE", "0", "chunk_size"},
		{"unparsable chunk size", "SYNC_CHUNK_SIZE", "many", "SYNC_CHUNK_SIZE"},
		{"bad tolerance", "SYNC_PRICE_TOLERANCE", "cheap", "price_tolerance"},
		{"negative tolerance", "SYNC_PRICE_TOLERANCE", "-0.5", "negative"},
		{"bad backend", "PROGRESS_BACKEND", "redis", "progress backend"},
		{"postgres without dsn", "PROGRESS_BACKEND", "postgres", "dsn is required"},
		{"bad format", "EXPORT_FORMAT", "ods", "export format"},
		{"bad time zone", "EXPORT_TIMEZONE", "Mars/Olympus", "time_zone"},
		{"bad bool", "EXPORT_BOM", "perhaps", "EXPORT_BOM"},
		{"production without project", "ENVIRONMENT", "production", "GCP_PROJECT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setStoreEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load(context.Background())
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "config.yaml",
			content: `
log_level: warn
store:
  url: https://farmacia.example.com
  api_key: ck_file
  api_secret: cs_file
  timeout: 10s
feed:
  path: /data/stock.csv
sync:
  chunk_size: 50
  price_tolerance: "0.05"
progress:
  backend: badger
  path: /data/progress
export:
  format: xlsx
  time_zone: Atlantic/Canary
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{
  "log_level": "warn",
  "store": {"url": "https://farmacia.example.com", "api_key": "ck_file", "api_secret": "cs_file", "timeout": "10s"},
  "feed": {"path": "/data/stock.csv"},
  "sync": {"chunk_size": 50, "price_tolerance": "0.05"},
  "progress": {"backend": "badger", "path": "/data/progress"},
  "export": {"format": "xlsx", "time_zone": "Atlantic/Canary"}
}`,
		},
		{
			name: "toml",
			file: "config.toml",
			content: `
log_level = "warn"

[store]
url = "https://farmacia.example.com"
api_key = "ck_file"
api_secret = "cs_file"
timeout = "10s"

[feed]
path = "/data/stock.csv"

[sync]
chunk_size = 50
price_tolerance = "0.05"

[progress]
backend = "badger"
path = "/data/progress"

[export]
format = "xlsx"
time_zone = "Atlantic/Canary"
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			t.Setenv("CONFIG_FILE", path)

			cfg, err := Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.LogLevel != "warn" || cfg.Store.APIKey != "ck_file" || cfg.Store.Timeout != 10*time.Second {
				t.Errorf("cfg = %+v", cfg)
			}
			if cfg.Feed.Path != "/data/stock.csv" || cfg.Feed.Encoding != "auto" || cfg.Feed.MinColumns != 7 {
				t.Errorf("Feed = %+v", cfg.Feed)
			}
			// defaults survive a partial sync section
			if cfg.Sync.ChunkSize != 50 || cfg.Sync.AutoCreate || !cfg.Sync.Verify {
				t.Errorf("Sync = %+v", cfg.Sync)
			}
			if tol, _ := cfg.PriceTolerance(); tol.String() != "0.05" {
				t.Errorf("PriceTolerance() = %s", tol)
			}
			if cfg.Progress.Backend != "badger" || cfg.Export.Format != "xlsx" || cfg.Export.Status != "completed" {
				t.Errorf("Progress/Export = %+v / %+v", cfg.Progress, cfg.Export)
			}
		})
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(context.Background()); err == nil {
		t.Error("Load(missing file) error = nil")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("feed:\n  path: /x\n"), 0o600)
	t.Setenv("CONFIG_FILE", path)
	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store_url is required") {
		t.Errorf("Load(no credentials) error = %v", err)
	}
}

func TestApplySecret(t *testing.T) {
	cfg := &Config{Store: StoreConfig{URL: "https://env.example.com", APIKey: "ck_env"}}
	err := cfg.applySecret([]byte(`{"api_key":"ck_secret","api_secret":"cs_secret"}`))
	if err != nil {
		t.Fatalf("applySecret() error: %v", err)
	}
	if cfg.Store.URL != "https://env.example.com" {
		t.Errorf("URL = %s, want env value kept", cfg.Store.URL)
	}
	if cfg.Store.APIKey != "ck_secret" || cfg.Store.APISecret != "cs_secret" {
		t.Errorf("Store = %+v", cfg.Store)
	}

	if err := cfg.applySecret([]byte("not json")); err == nil {
		t.Error("applySecret(invalid) error = nil")
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("UNYCOP_TEST_VAR", "set")
	if got := envOrDefault("UNYCOP_TEST_VAR", "default"); got != "set" {
		t.Errorf("envOrDefault() = %s, want set", got)
	}
	t.Setenv("UNYCOP_TEST_VAR", "")
	if got := envOrDefault("UNYCOP_TEST_VAR", "default"); got != "default" {
		t.Errorf("envOrDefault() = %s, want default", got)
	}
}
