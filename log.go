package streamstore

import "context"

// Log is the boundary to the backing append-only log. The store ships two
// implementations - a gorm backed SQL log and an in-memory log - selected
// through configuration. The log exclusively owns global positions and
// stream versions; everything above it only maps representations.
type Log interface {
	// Append atomically appends a batch of records to a stream under the
	// given expected version. Returns ErrWrongExpectedVersion when the
	// precondition fails and ErrStreamDeleted for tombstoned streams.
	Append(ctx context.Context, stream string, expected ExpectedVersion, recs []Record) error

	// Read returns up to limit records of a stream with stream version
	// strictly greater than fromVersion, in version order. Returns
	// ErrStreamNotFound if the stream has never been appended to.
	Read(ctx context.Context, stream string, fromVersion int64, limit int) ([]Record, error)

	// ReadFrom returns up to limit records matching the target with global
	// position strictly greater than fromPosition, in position order.
	ReadFrom(ctx context.Context, target Target, fromPosition uint64, limit int) ([]Record, error)

	// Tail returns the highest global position occupied by the target, zero
	// if the target holds no events.
	Tail(ctx context.Context, target Target) (uint64, error)

	// SubscribeLive starts delivering records appended to the target from
	// now on. The feed stays open until cancelled.
	SubscribeLive(ctx context.Context, target Target) (LiveFeed, error)

	// LoadCursor returns the durable cursor persisted for a subscription
	// name. ok is false when no cursor was ever saved.
	LoadCursor(ctx context.Context, name string) (pos uint64, ok bool, err error)

	// SaveCursor persists the durable cursor for a subscription name.
	// Cursors only move forward; a stale position is ignored.
	SaveCursor(ctx context.Context, name string, pos uint64) error

	// ClaimSubscription registers the caller as the single active consumer
	// for a subscription name. Returns ErrSubscriptionNameInUse if another
	// consumer holds the claim; otherwise the returned func releases it.
	ClaimSubscription(ctx context.Context, name string) (release func(), err error)

	// ReadSnapshot returns the stored snapshot for a source id or
	// ErrSnapshotNotFound.
	ReadSnapshot(ctx context.Context, sourceID string) (SnapshotRecord, error)

	// WriteSnapshot stores a snapshot, overwriting any prior one for the
	// same source id.
	WriteSnapshot(ctx context.Context, snap SnapshotRecord) error

	// DeleteSnapshot removes the snapshot for a source id. Idempotent.
	DeleteSnapshot(ctx context.Context, sourceID string) error

	// DeleteStream permanently tombstones a stream. Subsequent appends and
	// reads observe ErrStreamDeleted.
	DeleteStream(ctx context.Context, stream string) error

	Close() error
}

// LiveFeed delivers newly appended records to a live subscriber.
type LiveFeed interface {
	// Recs produces records in append order. The channel is closed after
	// Cancel or when the feed fails; Err reports why.
	Recs() <-chan Record

	// Err returns the terminal feed error, nil after a clean Cancel.
	Err() error

	// Cancel stops the feed. Idempotent.
	Cancel()
}
