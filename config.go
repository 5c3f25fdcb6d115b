package streamstore

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds store configuration in a form loadable from the
// environment or from a YAML file. Programmatic callers can use the
// functional options on New directly instead.
type Config struct {
	// Backend selects the backing log: "sqlite", "postgres" or "memory"
	Backend string `yaml:"backend"`

	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`

	PollInterval time.Duration `yaml:"-"`
	BatchSize    int           `yaml:"batch_size"`
}

// fileConfig mirrors Config for yaml decoding; durations come in as
// strings ("50ms") which yaml cannot place into a time.Duration directly
type fileConfig struct {
	Backend      string `yaml:"backend"`
	SQLitePath   string `yaml:"sqlite_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	PollInterval string `yaml:"poll_interval"`
	BatchSize    int    `yaml:"batch_size"`
}

// FromEnv loads configuration from STREAMSTORE_* environment variables
// with development defaults
func FromEnv() Config {
	return Config{
		Backend:      getEnv("STREAMSTORE_BACKEND", "sqlite"),
		SQLitePath:   getEnv("STREAMSTORE_SQLITE_PATH", "events.db"),
		PostgresDSN:  getEnv("STREAMSTORE_POSTGRES_DSN", ""),
		PollInterval: parseDuration("STREAMSTORE_POLL_INTERVAL", 100*time.Millisecond),
		BatchSize:    parseInt("STREAMSTORE_BATCH_SIZE", 100),
	}
}

// FromFile loads configuration from a YAML file
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Config{
		Backend:     fc.Backend,
		SQLitePath:  fc.SQLitePath,
		PostgresDSN: fc.PostgresDSN,
		BatchSize:   fc.BatchSize,
	}

	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_interval: %w", err)
		}

		cfg.PollInterval = d
	}

	return cfg, nil
}

// Options maps the config onto store options for New
func (c Config) Options() ([]Option, error) {
	opts := []Option{}

	switch c.Backend {
	case "sqlite":
		if c.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite backend requires sqlite_path")
		}

		opts = append(opts, WithSQLiteDB(c.SQLitePath))
	case "postgres":
		if c.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_dsn")
		}

		opts = append(opts, WithPostgresDB(c.PostgresDSN))
	case "memory":
		opts = append(opts, WithInMemoryLog())
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.PollInterval > 0 {
		opts = append(opts, WithPollInterval(c.PollInterval))
	}

	if c.BatchSize > 0 {
		opts = append(opts, WithLogBatchSize(c.BatchSize))
	}

	return opts, nil
}

// NewFromConfig constructs a store from a Config
func NewFromConfig(cfg Config, opts ...Option) (*Store, error) {
	cfgOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	return New(append(cfgOpts, opts...)...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}

	return d
}

func parseInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}
