// Package streamstore provides an event store client abstraction for
// event-sourced applications: durable stream appends under optimistic
// concurrency control, ordered forward reads, live and catch-up
// subscriptions with acknowledgment based checkpointing, and point-in-time
// aggregate snapshots.
//
// The backing log is pluggable; a gorm backed SQL log (sqlite or postgres)
// and an in-memory log are bundled.
package streamstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Cfg represents store configuration
type Cfg struct {
	PostgresDSN  string
	SQLitePath   string
	InMemory     bool
	PollInterval time.Duration
	BatchSize    int
	Logger       *slog.Logger
	Metrics      Metrics
}

// Option represents a store configuration option
type Option func(Cfg) Cfg

// WithPostgresDB configures the store to use postgres as the backing log
// (pgx driver)
func WithPostgresDB(dsn string) Option {
	return func(cfg Cfg) Cfg {
		cfg.PostgresDSN = dsn

		return cfg
	}
}

// WithSQLiteDB configures the store to use sqlite as the backing log
func WithSQLiteDB(path string) Option {
	return func(cfg Cfg) Cfg {
		cfg.SQLitePath = path

		return cfg
	}
}

// WithInMemoryLog configures the store to use the bundled in-memory log.
// Events do not survive the process; intended for tests and development
func WithInMemoryLog() Option {
	return func(cfg Cfg) Cfg {
		cfg.InMemory = true

		return cfg
	}
}

// WithPollInterval sets how often the SQL log polls for newly appended
// events on behalf of live subscriptions
func WithPollInterval(d time.Duration) Option {
	return func(cfg Cfg) Cfg {
		cfg.PollInterval = d

		return cfg
	}
}

// WithLogBatchSize sets the page size the SQL log uses when feeding live
// subscriptions
func WithLogBatchSize(n int) Option {
	return func(cfg Cfg) Cfg {
		cfg.BatchSize = n

		return cfg
	}
}

// WithLogger sets the slog logger used by the store and its subscriptions
func WithLogger(l *slog.Logger) Option {
	return func(cfg Cfg) Cfg {
		cfg.Logger = l

		return cfg
	}
}

// WithMetrics sets the metrics sink (see NewPrometheusMetrics)
func WithMetrics(m Metrics) Option {
	return func(cfg Cfg) Cfg {
		cfg.Metrics = m

		return cfg
	}
}

// New constructs a store with a backing log selected by the provided
// options. Exactly one of WithSQLiteDB, WithPostgresDB or WithInMemoryLog
// must be given.
func New(opts ...Option) (*Store, error) {
	var cfg Cfg

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}

	backends := 0
	for _, b := range []bool{cfg.PostgresDSN != "", cfg.SQLitePath != "", cfg.InMemory} {
		if b {
			backends++
		}
	}

	if backends != 1 {
		return nil, fmt.Errorf("exactly one backing log must be configured (sqlite path, postgres dsn or in-memory)")
	}

	if cfg.InMemory {
		return newStore(NewMemLog(), cfg), nil
	}

	var dial gorm.Dialector

	if cfg.PostgresDSN != "" {
		dial = postgres.Open(cfg.PostgresDSN)
	}

	if cfg.SQLitePath != "" {
		dial = sqlite.Open(cfg.SQLitePath)
	}

	db, err := gorm.Open(dial, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open backing db: %w", err)
	}

	log, err := NewGormLog(db, GormLogConfig{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	return newStore(log, cfg), nil
}

// NewWithLog constructs a store on top of an already constructed backing
// log implementation.
func NewWithLog(log Log, opts ...Option) *Store {
	var cfg Cfg

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	return newStore(log, cfg)
}

func newStore(log Log, cfg Cfg) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}

	return &Store{
		log:     log,
		logger:  logger.With(slog.String("component", "streamstore")),
		metrics: metrics,
	}
}

// Store is the event store client. It is safe for concurrent use; the only
// serialization points are the per-stream version counters and per
// subscription cursors owned by the backing log.
type Store struct {
	log     Log
	logger  *slog.Logger
	metrics Metrics
}

// Log exposes the underlying backing log.
func (s *Store) Log() Log { return s.log }

// Close releases the backing log's resources. The store must not be used
// afterwards.
func (s *Store) Close() error {
	return s.log.Close()
}

// DeleteStream permanently removes a stream. Further appends and reads
// fail with ErrStreamDeleted.
func (s *Store) DeleteStream(ctx context.Context, stream string) error {
	if stream == "" {
		return fmt.Errorf("stream name must be provided")
	}

	return s.log.DeleteStream(ctx, stream)
}
