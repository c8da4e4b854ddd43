package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ElasticConfig struct {
	URL          string        `yaml:"url"` // http://elasticsearch:9200
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Index        string        `yaml:"index"`         // detection signals index
	Timeout      time.Duration `yaml:"timeout"`       // search request timeout
	ProbeTimeout time.Duration `yaml:"probe_timeout"` // _cat/health timeout
	MaxRetries   int           `yaml:"max_retries"`   // attempts per fetch, 1 = no retry
	Backoff      time.Duration `yaml:"backoff"`       // initial backoff between attempts
	MaxBackoff   time.Duration `yaml:"max_backoff"`   // cap
	UserAgent    string        `yaml:"user_agent"`
}

type TheHiveConfig struct {
	URL          string        `yaml:"url"` // full alert endpoint, http://thehive:9000/api/alert
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	UserAgent    string        `yaml:"user_agent"`
}

type SyncConfig struct {
	Interval  time.Duration `yaml:"interval"`   // wait between cycles
	Lookback  time.Duration `yaml:"lookback"`   // trailing search window
	BatchSize int           `yaml:"batch_size"` // max hits per fetch
}

type StateConfig struct {
	Backend string      `yaml:"backend"` // file | sqlite | postgres | redis
	Path    string      `yaml:"path"`    // file path, or sqlite database path
	DSN     string      `yaml:"dsn"`     // postgres DSN
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"` // key prefix, default elastic-hive-sync
}

type KeywordRule struct {
	When []string `yaml:"when"` // substrings (case-insensitive) matched against rule name and description
	Tags []string `yaml:"tags"`
}

type RegexRule struct {
	Field string   `yaml:"field"` // rule_name|rule_description|rule_id|index
	Expr  string   `yaml:"expr"`
	Tags  []string `yaml:"tags"`
}

type SeverityRule struct {
	Mapping map[int]string `yaml:"mapping"` // 3: "severity:high"
}

type TaggingConfig struct {
	Keywords []KeywordRule `yaml:"keywords"`
	Regex    []RegexRule   `yaml:"regex"`
	Severity SeverityRule  `yaml:"severity"`
}

type JournalConfig struct {
	Brokers []string      `yaml:"brokers"` // empty disables the journal
	Topic   string        `yaml:"topic"`
	Timeout time.Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	Enable        bool   `yaml:"enable"`
	ListenAddress string `yaml:"listen_address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

type Config struct {
	Elastic ElasticConfig `yaml:"elastic"`
	TheHive TheHiveConfig `yaml:"thehive"`
	Sync    SyncConfig    `yaml:"sync"`
	State   StateConfig   `yaml:"state"`
	Tagging TaggingConfig `yaml:"tagging"`
	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// Load reads the YAML file at path (skipped when path is empty), fills
// defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyDefaults(&c)
	if err := applyEnv(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyDefaults(c *Config) {
	if c.Elastic.URL == "" {
		c.Elastic.URL = "http://elasticsearch:9200"
	}
	if c.Elastic.User == "" {
		c.Elastic.User = "elastic"
	}
	if c.Elastic.Index == "" {
		c.Elastic.Index = ".siem-signals-default-000001"
	}
	if c.Elastic.Timeout == 0 {
		c.Elastic.Timeout = 15 * time.Second
	}
	if c.Elastic.ProbeTimeout == 0 {
		c.Elastic.ProbeTimeout = 10 * time.Second
	}
	if c.Elastic.MaxRetries == 0 {
		c.Elastic.MaxRetries = 1
	}
	if c.Elastic.Backoff == 0 {
		c.Elastic.Backoff = 500 * time.Millisecond
	}
	if c.Elastic.MaxBackoff == 0 {
		c.Elastic.MaxBackoff = 5 * time.Second
	}
	if c.TheHive.URL == "" {
		c.TheHive.URL = "http://thehive:9000/api/alert"
	}
	if c.TheHive.Timeout == 0 {
		c.TheHive.Timeout = 15 * time.Second
	}
	if c.TheHive.ProbeTimeout == 0 {
		c.TheHive.ProbeTimeout = 10 * time.Second
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Second
	}
	if c.Sync.Lookback == 0 {
		c.Sync.Lookback = 5 * time.Minute
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 20
	}
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.State.Path == "" {
		c.State.Path = "/data/sync_state.json"
	}
	if c.State.Redis.Addr == "" {
		c.State.Redis.Addr = "localhost:6379"
	}
	if c.State.Redis.Prefix == "" {
		c.State.Redis.Prefix = "elastic-hive-sync"
	}
	if c.Journal.Topic == "" {
		c.Journal.Topic = "thehive-forwarded-alerts"
	}
	if c.Journal.Timeout == 0 {
		c.Journal.Timeout = 10 * time.Second
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9108"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// applyEnv keeps the variable names the bridge has always been deployed with.
func applyEnv(c *Config) error {
	if v := os.Getenv("ELASTIC_HOST"); v != "" {
		c.Elastic.URL = v
	}
	if v := os.Getenv("ELASTIC_USER"); v != "" {
		c.Elastic.User = v
	}
	if v := os.Getenv("ELASTIC_PASSWORD"); v != "" {
		c.Elastic.Password = v
	}
	if v := os.Getenv("ELASTIC_INDEX"); v != "" {
		c.Elastic.Index = v
	}
	if v := os.Getenv("THEHIVE_URL"); v != "" {
		c.TheHive.URL = v
	}
	if v := os.Getenv("THEHIVE_API_KEY"); v != "" {
		c.TheHive.APIKey = v
	}
	if v := os.Getenv("SYNC_STATE_FILE"); v != "" {
		c.State.Path = v
	}
	if v := os.Getenv("SYNC_STATE_BACKEND"); v != "" {
		c.State.Backend = v
	}
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		d, err := parseDurationOrSeconds(v)
		if err != nil {
			return fmt.Errorf("SYNC_INTERVAL: %w", err)
		}
		c.Sync.Interval = d
	}
	if v := os.Getenv("SYNC_LOOKBACK"); v != "" {
		d, err := parseDurationOrMinutes(v)
		if err != nil {
			return fmt.Errorf("SYNC_LOOKBACK: %w", err)
		}
		c.Sync.Lookback = d
	}
	if v := os.Getenv("SYNC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SYNC_BATCH_SIZE: %w", err)
		}
		c.Sync.BatchSize = n
	}
	if v := os.Getenv("JOURNAL_BROKERS"); v != "" {
		c.Journal.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Bare integers are seconds, matching the old check_interval setting.
func parseDurationOrSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Bare integers are minutes, matching the old lookback_minutes setting.
func parseDurationOrMinutes(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	return time.ParseDuration(s)
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Elastic.URL) == "" {
		errs = append(errs, errors.New("elastic.url is required"))
	}
	if strings.TrimSpace(c.Elastic.Index) == "" {
		errs = append(errs, errors.New("elastic.index is required"))
	}
	if strings.TrimSpace(c.TheHive.URL) == "" {
		errs = append(errs, errors.New("thehive.url is required"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Sync.Lookback <= 0 {
		errs = append(errs, errors.New("sync.lookback must be positive"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync.batch_size must be positive"))
	}
	switch strings.ToLower(c.State.Backend) {
	case "file", "sqlite":
		if c.State.Path == "" {
			errs = append(errs, fmt.Errorf("state.path is required for %s backend", c.State.Backend))
		}
	case "postgres":
		if c.State.DSN == "" {
			errs = append(errs, errors.New("state.dsn is required for postgres backend"))
		}
	case "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown state backend: %s", c.State.Backend))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	r := c
	if r.Elastic.Password != "" {
		r.Elastic.Password = "***"
	}
	if r.TheHive.APIKey != "" {
		r.TheHive.APIKey = "***"
	}
	if r.State.DSN != "" {
		r.State.DSN = "***"
	}
	if r.State.Redis.Password != "" {
		r.State.Redis.Password = "***"
	}
	return r
}
