package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ELASTIC_HOST", "ELASTIC_USER", "ELASTIC_PASSWORD", "ELASTIC_INDEX",
		"THEHIVE_URL", "THEHIVE_API_KEY", "SYNC_STATE_FILE", "SYNC_STATE_BACKEND",
		"SYNC_INTERVAL", "SYNC_LOOKBACK", "SYNC_BATCH_SIZE", "JOURNAL_BROKERS",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Elastic.URL != "http://elasticsearch:9200" {
		t.Fatalf("expected default elastic url, got %q", cfg.Elastic.URL)
	}
	if cfg.Elastic.Index != ".siem-signals-default-000001" {
		t.Fatalf("expected default index, got %q", cfg.Elastic.Index)
	}
	if cfg.TheHive.URL != "http://thehive:9000/api/alert" {
		t.Fatalf("expected default thehive url, got %q", cfg.TheHive.URL)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Fatalf("expected interval=30s, got %v", cfg.Sync.Interval)
	}
	if cfg.Sync.Lookback != 5*time.Minute {
		t.Fatalf("expected lookback=5m, got %v", cfg.Sync.Lookback)
	}
	if cfg.Sync.BatchSize != 20 {
		t.Fatalf("expected batch=20, got %d", cfg.Sync.BatchSize)
	}
	if cfg.State.Backend != "file" || cfg.State.Path != "/data/sync_state.json" {
		t.Fatalf("unexpected state defaults: %+v", cfg.State)
	}
	if cfg.Elastic.ProbeTimeout > 10*time.Second || cfg.TheHive.ProbeTimeout > 10*time.Second {
		t.Fatal("probe timeouts must not exceed 10s")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yml")
	body := `
elastic:
  url: http://es.internal:9200
  index: .alerts-security.alerts-default
thehive:
  url: https://hive.internal/api/alert
sync:
  interval: 1m
  lookback: 10m
  batch_size: 50
state:
  backend: sqlite
  path: /var/lib/sync/state.db
tagging:
  keywords:
    - when: ["powershell"]
      tags: ["technique:execution"]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Elastic.URL != "http://es.internal:9200" {
		t.Fatalf("elastic url = %q", cfg.Elastic.URL)
	}
	if cfg.Sync.Interval != time.Minute || cfg.Sync.Lookback != 10*time.Minute {
		t.Fatalf("durations = %v / %v", cfg.Sync.Interval, cfg.Sync.Lookback)
	}
	if cfg.Sync.BatchSize != 50 {
		t.Fatalf("batch = %d", cfg.Sync.BatchSize)
	}
	if cfg.State.Backend != "sqlite" {
		t.Fatalf("backend = %q", cfg.State.Backend)
	}
	if len(cfg.Tagging.Keywords) != 1 || cfg.Tagging.Keywords[0].Tags[0] != "technique:execution" {
		t.Fatalf("tagging = %+v", cfg.Tagging)
	}
	// untouched fields still get defaults
	if cfg.Elastic.User != "elastic" {
		t.Fatalf("user = %q", cfg.Elastic.User)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ELASTIC_HOST", "http://es:9201")
	t.Setenv("THEHIVE_API_KEY", "secret")
	t.Setenv("SYNC_INTERVAL", "45")
	t.Setenv("SYNC_LOOKBACK", "15")
	t.Setenv("SYNC_STATE_FILE", "/tmp/state.json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Elastic.URL != "http://es:9201" {
		t.Fatalf("url = %q", cfg.Elastic.URL)
	}
	if cfg.TheHive.APIKey != "secret" {
		t.Fatalf("api key not applied")
	}
	if cfg.Sync.Interval != 45*time.Second {
		t.Fatalf("interval = %v, want 45s", cfg.Sync.Interval)
	}
	if cfg.Sync.Lookback != 15*time.Minute {
		t.Fatalf("lookback = %v, want 15m", cfg.Sync.Lookback)
	}
	if cfg.State.Path != "/tmp/state.json" {
		t.Fatalf("state path = %q", cfg.State.Path)
	}
}

func TestLoad_EnvDurationString(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNC_INTERVAL", "2m30s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Interval != 150*time.Second {
		t.Fatalf("interval = %v", cfg.Sync.Interval)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNC_BATCH_SIZE", "many")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "SYNC_BATCH_SIZE") {
		t.Fatalf("expected SYNC_BATCH_SIZE error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	bad := cfg
	bad.State.Backend = "etcd"
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "unknown state backend") {
		t.Fatalf("expected backend error, got %v", err)
	}

	bad = cfg
	bad.State.Backend = "postgres"
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "state.dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}

	bad = cfg
	bad.Sync.BatchSize = -1
	bad.TheHive.URL = " "
	err = bad.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "batch_size") || !strings.Contains(err.Error(), "thehive.url") {
		t.Fatalf("expected both errors joined, got %v", err)
	}
}

func TestValidate_BackendCaseInsensitive(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	for _, backend := range []string{"SQLite", "FILE", "Redis"} {
		c := cfg
		c.State.Backend = backend
		if err := c.Validate(); err != nil {
			t.Errorf("backend %q: unexpected error %v", backend, err)
		}
	}
	c := cfg
	c.State.Backend = "Postgres"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "state.dsn") {
		t.Fatalf("expected dsn error for Postgres, got %v", err)
	}
}

func TestRedacted(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Elastic.Password = "pw"
	cfg.TheHive.APIKey = "key"

	r := cfg.Redacted()
	if r.Elastic.Password != "***" || r.TheHive.APIKey != "***" {
		t.Fatalf("secrets not redacted: %+v", r)
	}
	if cfg.Elastic.Password != "pw" {
		t.Fatal("Redacted mutated the original")
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join("..", "..", "config.example.yml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Elastic.MaxRetries != 3 || cfg.Elastic.Backoff != 500*time.Millisecond {
		t.Fatalf("elastic retry settings = %d / %v", cfg.Elastic.MaxRetries, cfg.Elastic.Backoff)
	}
	if got := cfg.Tagging.Severity.Mapping[4]; got != "severity:critical" {
		t.Fatalf("severity mapping = %q", got)
	}
	if !cfg.Metrics.Enable || cfg.Metrics.ListenAddress != ":9108" {
		t.Fatalf("metrics = %+v", cfg.Metrics)
	}
}
