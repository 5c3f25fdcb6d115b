package streamstore

import (
	"context"
	"fmt"
	"iter"
)

// ReadConfig (configure using ReadOpt)
type ReadConfig struct {
	fromVersion int64
	batchSize   int
}

// ReadOpt represents a forward read option
type ReadOpt func(ReadConfig) ReadConfig

// WithFromVersion starts the read after the given stream version
// (exclusive); zero reads from the start of the stream
func WithFromVersion(v int64) ReadOpt {
	return func(cfg ReadConfig) ReadConfig {
		cfg.fromVersion = v

		return cfg
	}
}

// WithReadBatchSize sets the page size used when fetching events from the
// backing log
func WithReadBatchSize(n int) ReadOpt {
	return func(cfg ReadConfig) ReadConfig {
		cfg.batchSize = n

		return cfg
	}
}

// StreamForward reads a stream forward as a lazy sequence. Pages of events
// are fetched from the backing log on demand; consumers observe one ordered
// sequence regardless of page boundaries.
//
// The sequence is restartable: every range over it re-issues reads from the
// configured start version. It is finite, ending at the stream's tail as
// observed when the iteration begins, and never mutates stream or
// subscription state.
//
// A stream that has never been appended to yields ErrStreamNotFound; a
// tombstoned stream yields ErrStreamDeleted.
func (s *Store) StreamForward(ctx context.Context, stream string, opts ...ReadOpt) iter.Seq2[RecordedEvent, error] {
	cfg := ReadConfig{
		fromVersion: 0,
		batchSize:   1000,
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	return func(yield func(RecordedEvent, error) bool) {
		if stream == "" {
			yield(RecordedEvent{}, fmt.Errorf("stream name must be provided"))

			return
		}

		if cfg.batchSize < 1 {
			yield(RecordedEvent{}, fmt.Errorf("batch size should be at least 1"))

			return
		}

		// The tail observed here bounds the iteration; events appended
		// while iterating are not picked up.
		tail, err := s.log.Tail(ctx, Stream(stream))
		if err != nil {
			yield(RecordedEvent{}, err)

			return
		}

		from := cfg.fromVersion

		for {
			recs, err := s.log.Read(ctx, stream, from, cfg.batchSize)
			if err != nil {
				yield(RecordedEvent{}, err)

				return
			}

			if len(recs) == 0 {
				return
			}

			for _, rec := range recs {
				if rec.Position > tail {
					return
				}

				evt, err := decodeRecord(rec)
				if err != nil {
					yield(RecordedEvent{}, err)

					return
				}

				if !yield(evt, nil) {
					return
				}

				from = evt.StreamVersion
			}

			if len(recs) < cfg.batchSize {
				return
			}
		}
	}
}

// ReadStream reads a whole stream eagerly into a slice. Shorthand for
// collecting StreamForward.
func (s *Store) ReadStream(ctx context.Context, stream string, opts ...ReadOpt) ([]RecordedEvent, error) {
	var events []RecordedEvent

	for evt, err := range s.StreamForward(ctx, stream, opts...) {
		if err != nil {
			return nil, err
		}

		events = append(events, evt)
	}

	return events, nil
}
