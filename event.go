package streamstore

import "time"

// EventData represents an event pending persistence. Data and Meta are
// opaque to the store and pass through unmodified.
type EventData struct {
	// Type tags the event for later decoding. Required.
	Type string

	Data []byte
	Meta []byte

	// Optional
	ID            string
	CorrelationID string
	CausationID   string
	OccurredOn    time.Time
}

// RecordedEvent holds a persisted, ordered event as read back from the log.
// It is never mutated after the log produces it.
type RecordedEvent struct {
	ID            string
	Position      uint64
	StreamID      string
	StreamVersion int64
	Type          string
	Data          []byte
	Meta          []byte
	CorrelationID string
	CausationID   string
	OccurredOn    time.Time
}

// SnapshotData is a serialized aggregate state checkpoint. At most one
// snapshot is kept per source id.
type SnapshotData struct {
	SourceID string
	Version  int64
	Data     []byte
	Meta     []byte
	TakenAt  time.Time
}

// Record is the backing log's persisted event shape. Only Log
// implementations and the codec deal with records.
type Record struct {
	ID            string
	Position      uint64
	StreamID      string
	StreamVersion int64
	Type          string
	Data          []byte
	Meta          []byte
	CorrelationID string
	CausationID   string
	OccurredOn    time.Time
}

// SnapshotRecord is the backing log's persisted snapshot shape.
type SnapshotRecord struct {
	SourceID string
	Version  int64
	Data     []byte
	Meta     []byte
	TakenAt  time.Time
}
