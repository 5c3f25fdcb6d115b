package streamstore

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/xid"
)

// MemLog is an in-memory Log implementation with the same optimistic
// concurrency semantics as the SQL log. Intended for tests and development.
type MemLog struct {
	mu        sync.Mutex
	recs      []Record
	streams   map[string][]Record
	tails     map[string]uint64
	deleted   map[string]struct{}
	cursors   map[string]uint64
	claims    map[string]struct{}
	snapshots map[string]SnapshotRecord
	feeds     map[string]*memFeed
	closed    bool
}

// NewMemLog constructs an empty in-memory log
func NewMemLog() *MemLog {
	return &MemLog{
		streams:   map[string][]Record{},
		tails:     map[string]uint64{},
		deleted:   map[string]struct{}{},
		cursors:   map[string]uint64{},
		claims:    map[string]struct{}{},
		snapshots: map[string]SnapshotRecord{},
		feeds:     map[string]*memFeed{},
	}
}

var errLogClosed = errors.New("backing log closed")

// Append implements Log. The mutex is the per-process serialization point:
// of two racing appends with the same expected version exactly one wins.
func (m *MemLog) Append(_ context.Context, stream string, expected ExpectedVersion, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errLogClosed
	}

	if _, ok := m.deleted[stream]; ok {
		return ErrStreamDeleted
	}

	cur := int64(len(m.streams[stream]))

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

	// The log owns version and position assignment regardless of what the
	// caller pre-computed.
	for i := range recs {
		recs[i].StreamVersion = cur + int64(i) + 1
		recs[i].Position = uint64(len(m.recs)) + uint64(i) + 1
	}

	m.recs = append(m.recs, recs...)
	m.streams[stream] = append(m.streams[stream], recs...)
	m.tails[stream] = recs[len(recs)-1].Position

	for _, f := range m.feeds {
		f.notifyAppend()
	}

	return nil
}

// Read implements Log
func (m *MemLog) Read(_ context.Context, stream string, fromVersion int64, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deleted[stream]; ok {
		return nil, ErrStreamDeleted
	}

	recs, ok := m.streams[stream]
	if !ok {
		return nil, ErrStreamNotFound
	}

	var out []Record

	for _, r := range recs {
		if r.StreamVersion <= fromVersion {
			continue
		}

		out = append(out, r)

		if len(out) == limit {
			break
		}
	}

	return out, nil
}

// ReadFrom implements Log
func (m *MemLog) ReadFrom(_ context.Context, target Target, fromPosition uint64, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.readFromLocked(target, fromPosition, limit), nil
}

func (m *MemLog) readFromLocked(target Target, fromPosition uint64, limit int) []Record {
	var out []Record

	// Positions are contiguous so the slice can be entered directly.
	start := int(fromPosition)
	if start > len(m.recs) {
		return nil
	}

	for _, r := range m.recs[start:] {
		if !target.matches(r.StreamID) {
			continue
		}

		if _, ok := m.deleted[r.StreamID]; ok {
			continue
		}

		out = append(out, r)

		if len(out) == limit {
			break
		}
	}

	return out
}

// Tail implements Log
func (m *MemLog) Tail(_ context.Context, target Target) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if target.IsAll() {
		return uint64(len(m.recs)), nil
	}

	return m.tails[target.StreamID()], nil
}

// SubscribeLive implements Log
func (m *MemLog) SubscribeLive(_ context.Context, target Target) (LiveFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errLogClosed
	}

	id := xid.New().String()

	f := &memFeed{
		log:    m,
		id:     id,
		target: target,
		pos:    uint64(len(m.recs)),
		ch:     make(chan Record),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.feeds[id] = f

	go f.pump()

	return f, nil
}

// LoadCursor implements Log
func (m *MemLog) LoadCursor(_ context.Context, name string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.cursors[name]

	return pos, ok, nil
}

// SaveCursor implements Log
func (m *MemLog) SaveCursor(_ context.Context, name string, pos uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.cursors[name]; ok && cur >= pos {
		return nil
	}

	m.cursors[name] = pos

	return nil
}

// ClaimSubscription implements Log
func (m *MemLog) ClaimSubscription(_ context.Context, name string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.claims[name]; ok {
		return nil, ErrSubscriptionNameInUse
	}

	m.claims[name] = struct{}{}

	var once sync.Once

	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			delete(m.claims, name)
		})
	}, nil
}

// ReadSnapshot implements Log
func (m *MemLog) ReadSnapshot(_ context.Context, sourceID string) (SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[sourceID]
	if !ok {
		return SnapshotRecord{}, ErrSnapshotNotFound
	}

	return snap, nil
}

// WriteSnapshot implements Log
func (m *MemLog) WriteSnapshot(_ context.Context, snap SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[snap.SourceID] = snap

	return nil
}

// DeleteSnapshot implements Log
func (m *MemLog) DeleteSnapshot(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, sourceID)

	return nil
}

// DeleteStream implements Log
func (m *MemLog) DeleteStream(_ context.Context, stream string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleted[stream] = struct{}{}
	delete(m.streams, stream)
	delete(m.tails, stream)

	return nil
}

// Close implements Log
func (m *MemLog) Close() error {
	m.mu.Lock()
	feeds := m.feeds
	m.feeds = map[string]*memFeed{}
	m.closed = true
	m.mu.Unlock()

	for _, f := range feeds {
		f.Cancel()
	}

	return nil
}

var _ Log = (*MemLog)(nil)

// memFeed tails the log from the position captured at subscribe time.
// Appenders only tap the notify channel, so a slow feed consumer never
// blocks a writer.
type memFeed struct {
	log    *MemLog
	id     string
	target Target
	pos    uint64
	ch     chan Record
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (f *memFeed) Recs() <-chan Record { return f.ch }

func (f *memFeed) Err() error { return f.err }

func (f *memFeed) Cancel() {
	f.once.Do(func() {
		close(f.done)

		f.log.mu.Lock()
		delete(f.log.feeds, f.id)
		f.log.mu.Unlock()
	})
}

func (f *memFeed) notifyAppend() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *memFeed) pump() {
	defer close(f.ch)

	for {
		select {
		case <-f.done:
			return
		case <-f.notify:
		}

		for {
			f.log.mu.Lock()
			recs := f.log.readFromLocked(f.target, f.pos, 64)
			f.log.mu.Unlock()

			if len(recs) == 0 {
				break
			}

			for _, r := range recs {
				select {
				case f.ch <- r:
					f.pos = r.Position
				case <-f.done:
					return
				}
			}
		}
	}
}
