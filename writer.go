package streamstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendConfig (configure using AppendOpt)
type AppendConfig struct {
	meta          map[string]string
	correlationID string
	causationID   string
}

// AppendOpt represents an append option
type AppendOpt func(AppendConfig) AppendConfig

// WithMetaData attaches metadata to every event of the batch, overriding
// any per-event Meta
func WithMetaData(meta map[string]string) AppendOpt {
	return func(cfg AppendConfig) AppendConfig {
		cfg.meta = meta

		return cfg
	}
}

// WithCorrelationID stamps every event of the batch with a correlation id
func WithCorrelationID(id string) AppendOpt {
	return func(cfg AppendConfig) AppendConfig {
		cfg.correlationID = id

		return cfg
	}
}

// WithCausationID stamps every event of the batch with a causation id
func WithCausationID(id string) AppendOpt {
	return func(cfg AppendConfig) AppendConfig {
		cfg.causationID = id

		return cfg
	}
}

// Append appends a batch of events to a stream under an expected version
// precondition. The batch is applied atomically: either every event is
// persisted with contiguous stream versions or none is.
//
// expected is NoStream for streams that must not exist yet, Any to skip
// the check, or Exact with the stream's current version. A failed
// precondition surfaces as ErrWrongExpectedVersion; the caller re-reads
// and retries, the store never retries on its own.
func (s *Store) Append(
	ctx context.Context,
	stream string,
	expected ExpectedVersion,
	events []EventData,
	opts ...AppendOpt) error {

	if stream == "" {
		return fmt.Errorf("stream name must be provided")
	}

	if len(events) == 0 {
		return nil
	}

	var cfg AppendConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	// The precondition anchors version assignment. Under Any the log itself
	// resolves the base version at its serialization point.
	base, _ := expected.Version()

	recs := make([]Record, len(events))

	for i, evt := range events {
		if evt.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}

			evt.ID = id.String()
		}

		if cfg.meta != nil {
			m, err := json.Marshal(cfg.meta)
			if err != nil {
				return err
			}

			evt.Meta = m
		}

		if cfg.correlationID != "" {
			evt.CorrelationID = cfg.correlationID
		}

		if cfg.causationID != "" {
			evt.CausationID = cfg.causationID
		}

		rec, err := encodeEvent(stream, base+int64(i)+1, evt)
		if err != nil {
			return err
		}

		recs[i] = rec
	}

	start := time.Now()

	if err := s.log.Append(ctx, stream, expected, recs); err != nil {
		return err
	}

	s.metrics.AppendObserved(stream, len(recs), time.Since(start))

	return nil
}
