package streamstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

type logEvent struct {
	ID            string `gorm:"unique"`
	Position      uint64 `gorm:"autoIncrement;primaryKey"`
	Type          string
	Data          []byte
	Meta          []byte
	CausationID   *string
	CorrelationID *string
	StreamID      string    `gorm:"index:idx_optimistic_check,unique;index"`
	StreamVersion int64     `gorm:"index:idx_optimistic_check,unique"`
	OccurredOn    time.Time `gorm:"autoCreateTime"`
}

// TableName returns gorm table name
func (le *logEvent) TableName() string { return "event" }

type logCursor struct {
	Name      string `gorm:"primaryKey"`
	Position  uint64
	UpdatedAt time.Time
}

// TableName returns gorm table name
func (lc *logCursor) TableName() string { return "subscription_cursor" }

type logSnapshot struct {
	SourceID string `gorm:"primaryKey"`
	Version  int64
	Data     []byte
	Meta     []byte
	TakenAt  time.Time
}

// TableName returns gorm table name
func (ls *logSnapshot) TableName() string { return "snapshot" }

type logTombstone struct {
	StreamID  string `gorm:"primaryKey"`
	DeletedAt time.Time
}

// TableName returns gorm table name
func (lt *logTombstone) TableName() string { return "stream_tombstone" }

// GormLogConfig configures the SQL backing log
type GormLogConfig struct {
	// PollInterval is how often live feeds poll for new events
	PollInterval time.Duration

	// BatchSize is the page size live feeds read with
	BatchSize int
}

// GormLog is a Log implementation on top of a gorm-managed database
// (sqlite or postgres). The compound unique index on
// (stream_id, stream_version) is the per-stream serialization point for
// optimistic concurrency; live feeds poll the event table in position
// order.
type GormLog struct {
	db  *gorm.DB
	cfg GormLogConfig

	// Durable consumer claims are per process; one store process owns its
	// durable subscriptions, so no lease table is needed.
	mu     sync.Mutex
	claims map[string]struct{}
}

// NewGormLog constructs a SQL backing log and migrates its tables
func NewGormLog(db *gorm.DB, cfg GormLogConfig) (*GormLog, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}

	err := db.AutoMigrate(&logEvent{}, &logCursor{}, &logSnapshot{}, &logTombstone{})
	if err != nil {
		return nil, fmt.Errorf("migrate backing log schema: %w", err)
	}

	return &GormLog{
		db:     db,
		cfg:    cfg,
		claims: map[string]struct{}{},
	}, nil
}

// Append implements Log
func (g *GormLog) Append(ctx context.Context, stream string, expected ExpectedVersion, recs []Record) error {
	deleted, err := g.tombstoned(ctx, stream)
	if err != nil {
		return err
	}

	if deleted {
		return ErrStreamDeleted
	}

	// Up to a few attempts resolve the benign race where a concurrent
	// writer advances the stream between the version lookup and the
	// insert while the caller asked for Any.
	attempts := 1
	if expected.IsAny() {
		attempts = 3
	}

	for {
		cur, err := g.currentVersion(ctx, stream)
		if err != nil {
			return err
		}

		switch {
		case expected.IsAny():
		case expected.IsNoStream():
			if cur != 0 {
				return ErrWrongExpectedVersion
			}
		default:
			v, _ := expected.Version()
			if cur != v {
				return ErrWrongExpectedVersion
			}
		}

		events := make([]logEvent, len(recs))

		for i, rec := range recs {
			events[i] = logEvent{
				ID:            rec.ID,
				Type:          rec.Type,
				Data:          rec.Data,
				Meta:          rec.Meta,
				StreamID:      stream,
				StreamVersion: cur + int64(i) + 1,
				OccurredOn:    rec.OccurredOn,
			}

			if rec.CorrelationID != "" {
				events[i].CorrelationID = &rec.CorrelationID
			}

			if rec.CausationID != "" {
				events[i].CausationID = &rec.CausationID
			}
		}

		err = g.db.WithContext(ctx).Create(&events).Error
		if err == nil {
			return nil
		}

		if !isUniqueViolation(err) {
			return err
		}

		attempts--
		if attempts < 1 {
			return ErrWrongExpectedVersion
		}
	}
}

func isUniqueViolation(err error) bool {
	if e, ok := err.(sqlite3.Error); ok && e.Code == 19 {
		return true
	}

	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func (g *GormLog) currentVersion(ctx context.Context, stream string) (int64, error) {
	var cur int64

	err := g.db.WithContext(ctx).
		Model(&logEvent{}).
		Where("stream_id = ?", stream).
		Select("COALESCE(MAX(stream_version), 0)").
		Scan(&cur).Error
	if err != nil {
		return 0, err
	}

	return cur, nil
}

func (g *GormLog) tombstoned(ctx context.Context, stream string) (bool, error) {
	var n int64

	err := g.db.WithContext(ctx).
		Model(&logTombstone{}).
		Where("stream_id = ?", stream).
		Count(&n).Error
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Read implements Log
func (g *GormLog) Read(ctx context.Context, stream string, fromVersion int64, limit int) ([]Record, error) {
	deleted, err := g.tombstoned(ctx, stream)
	if err != nil {
		return nil, err
	}

	if deleted {
		return nil, ErrStreamDeleted
	}

	var events []logEvent

	err = g.db.WithContext(ctx).
		Where("stream_id = ? AND stream_version > ?", stream, fromVersion).
		Order("stream_version asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		cur, err := g.currentVersion(ctx, stream)
		if err != nil {
			return nil, err
		}

		if cur == 0 {
			return nil, ErrStreamNotFound
		}
	}

	return toRecords(events), nil
}

// ReadFrom implements Log
func (g *GormLog) ReadFrom(ctx context.Context, target Target, fromPosition uint64, limit int) ([]Record, error) {
	q := g.db.WithContext(ctx).
		Where("position > ?", fromPosition).
		Where("stream_id NOT IN (?)", g.db.Model(&logTombstone{}).Select("stream_id"))

	if !target.IsAll() {
		q = q.Where("stream_id = ?", target.StreamID())
	}

	var events []logEvent

	err := q.Order("position asc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}

	return toRecords(events), nil
}

// Tail implements Log
func (g *GormLog) Tail(ctx context.Context, target Target) (uint64, error) {
	q := g.db.WithContext(ctx).Model(&logEvent{})

	if !target.IsAll() {
		q = q.Where("stream_id = ?", target.StreamID())
	}

	var tail uint64

	err := q.Select("COALESCE(MAX(position), 0)").Scan(&tail).Error
	if err != nil {
		return 0, err
	}

	return tail, nil
}

// SubscribeLive implements Log. The feed polls the event table in position
// order starting at the tail observed now.
func (g *GormLog) SubscribeLive(ctx context.Context, target Target) (LiveFeed, error) {
	offset, err := g.Tail(ctx, target)
	if err != nil {
		return nil, err
	}

	f := &gormFeed{
		ch:   make(chan Record, g.cfg.BatchSize),
		done: make(chan struct{}),
	}

	go func() {
		defer close(f.ch)

		for {
			select {
			case <-f.done:
				return
			case <-ctx.Done():
				f.err = ctx.Err()

				return
			case <-time.After(g.cfg.PollInterval):
				recs, err := g.ReadFrom(ctx, target, offset, g.cfg.BatchSize)
				if err != nil {
					f.err = err

					return
				}

				for _, rec := range recs {
					select {
					case f.ch <- rec:
						offset = rec.Position
					case <-f.done:
						return
					case <-ctx.Done():
						f.err = ctx.Err()

						return
					}
				}
			}
		}
	}()

	return f, nil
}

// LoadCursor implements Log
func (g *GormLog) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	var cursor logCursor

	err := g.db.WithContext(ctx).Where("name = ?", name).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return cursor.Position, true, nil
}

// SaveCursor implements Log
func (g *GormLog) SaveCursor(ctx context.Context, name string, pos uint64) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cursor logCursor

		err := tx.Where("name = ?", name).First(&cursor).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Cursors only move forward.
		if cursor.Position >= pos {
			return nil
		}

		cursor.Name = name
		cursor.Position = pos
		cursor.UpdatedAt = time.Now().UTC()

		return tx.Save(&cursor).Error
	})
}

// ClaimSubscription implements Log
func (g *GormLog) ClaimSubscription(_ context.Context, name string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.claims[name]; ok {
		return nil, ErrSubscriptionNameInUse
	}

	g.claims[name] = struct{}{}

	var once sync.Once

	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()

			delete(g.claims, name)
		})
	}, nil
}

// ReadSnapshot implements Log
func (g *GormLog) ReadSnapshot(ctx context.Context, sourceID string) (SnapshotRecord, error) {
	var snap logSnapshot

	err := g.db.WithContext(ctx).Where("source_id = ?", sourceID).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SnapshotRecord{}, ErrSnapshotNotFound
	}

	if err != nil {
		return SnapshotRecord{}, err
	}

	return SnapshotRecord{
		SourceID: snap.SourceID,
		Version:  snap.Version,
		Data:     snap.Data,
		Meta:     snap.Meta,
		TakenAt:  snap.TakenAt,
	}, nil
}

// WriteSnapshot implements Log
func (g *GormLog) WriteSnapshot(ctx context.Context, snap SnapshotRecord) error {
	return g.db.WithContext(ctx).Save(&logSnapshot{
		SourceID: snap.SourceID,
		Version:  snap.Version,
		Data:     snap.Data,
		Meta:     snap.Meta,
		TakenAt:  snap.TakenAt,
	}).Error
}

// DeleteSnapshot implements Log
func (g *GormLog) DeleteSnapshot(ctx context.Context, sourceID string) error {
	return g.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Delete(&logSnapshot{}).Error
}

// DeleteStream implements Log. Event rows stay in place so global
// positions never shrink; tombstoned streams are filtered from reads.
func (g *GormLog) DeleteStream(ctx context.Context, stream string) error {
	err := g.db.WithContext(ctx).Create(&logTombstone{
		StreamID:  stream,
		DeletedAt: time.Now().UTC(),
	}).Error
	if isUniqueViolation(err) {
		return nil
	}

	return err
}

// Close implements Log
func (g *GormLog) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

var _ Log = (*GormLog)(nil)

type gormFeed struct {
	ch   chan Record
	done chan struct{}
	once sync.Once
	err  error
}

func (f *gormFeed) Recs() <-chan Record { return f.ch }

func (f *gormFeed) Err() error { return f.err }

func (f *gormFeed) Cancel() {
	f.once.Do(func() {
		close(f.done)
	})
}

func toRecords(events []logEvent) []Record {
	recs := make([]Record, len(events))

	for i, e := range events {
		recs[i] = Record{
			ID:            e.ID,
			Position:      e.Position,
			StreamID:      e.StreamID,
			StreamVersion: e.StreamVersion,
			Type:          e.Type,
			Data:          e.Data,
			Meta:          e.Meta,
			OccurredOn:    e.OccurredOn,
		}

		if e.CorrelationID != nil {
			recs[i].CorrelationID = *e.CorrelationID
		}

		if e.CausationID != nil {
			recs[i].CausationID = *e.CausationID
		}
	}

	return recs
}
