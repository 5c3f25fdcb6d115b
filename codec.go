package streamstore

import (
	"fmt"
	"time"
)

// The codec is the single place where application shapes and log record
// shapes meet. Every field is mapped explicitly and required fields are
// validated up front so a malformed record fails the operation instead of
// flowing on with defaulted values.

func encodeEvent(streamID string, version int64, e EventData) (Record, error) {
	if e.Type == "" {
		return Record{}, fmt.Errorf("%w: event type tag missing", ErrMalformedRecord)
	}

	if e.ID == "" {
		return Record{}, fmt.Errorf("%w: event id missing", ErrMalformedRecord)
	}

	if streamID == "" {
		return Record{}, fmt.Errorf("%w: stream id missing", ErrMalformedRecord)
	}

	if version < 1 {
		return Record{}, fmt.Errorf("%w: stream version %d out of range", ErrMalformedRecord, version)
	}

	occurred := e.OccurredOn
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	return Record{
		ID:            e.ID,
		StreamID:      streamID,
		StreamVersion: version,
		Type:          e.Type,
		Data:          e.Data,
		Meta:          e.Meta,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		OccurredOn:    occurred,
	}, nil
}

func decodeRecord(r Record) (RecordedEvent, error) {
	if r.ID == "" {
		return RecordedEvent{}, fmt.Errorf("%w: event id missing", ErrMalformedRecord)
	}

	if r.StreamID == "" {
		return RecordedEvent{}, fmt.Errorf("%w: stream id missing", ErrMalformedRecord)
	}

	if r.StreamVersion < 1 {
		return RecordedEvent{}, fmt.Errorf("%w: stream version %d out of range", ErrMalformedRecord, r.StreamVersion)
	}

	if r.Type == "" {
		return RecordedEvent{}, fmt.Errorf("%w: event type tag missing", ErrMalformedRecord)
	}

	return RecordedEvent{
		ID:            r.ID,
		Position:      r.Position,
		StreamID:      r.StreamID,
		StreamVersion: r.StreamVersion,
		Type:          r.Type,
		Data:          r.Data,
		Meta:          r.Meta,
		CorrelationID: r.CorrelationID,
		CausationID:   r.CausationID,
		OccurredOn:    r.OccurredOn,
	}, nil
}

func encodeSnapshot(s SnapshotData) (SnapshotRecord, error) {
	if s.SourceID == "" {
		return SnapshotRecord{}, fmt.Errorf("%w: snapshot source id missing", ErrMalformedRecord)
	}

	if s.Version < 1 {
		return SnapshotRecord{}, fmt.Errorf("%w: snapshot version %d out of range", ErrMalformedRecord, s.Version)
	}

	taken := s.TakenAt
	if taken.IsZero() {
		taken = time.Now().UTC()
	}

	return SnapshotRecord{
		SourceID: s.SourceID,
		Version:  s.Version,
		Data:     s.Data,
		Meta:     s.Meta,
		TakenAt:  taken,
	}, nil
}

func decodeSnapshot(r SnapshotRecord) (SnapshotData, error) {
	if r.SourceID == "" {
		return SnapshotData{}, fmt.Errorf("%w: snapshot source id missing", ErrMalformedRecord)
	}

	if r.Version < 1 {
		return SnapshotData{}, fmt.Errorf("%w: snapshot version %d out of range", ErrMalformedRecord, r.Version)
	}

	return SnapshotData{
		SourceID: r.SourceID,
		Version:  r.Version,
		Data:     r.Data,
		Meta:     r.Meta,
		TakenAt:  r.TakenAt,
	}, nil
}
