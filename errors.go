package streamstore

import "errors"

var (
	// ErrStreamNotFound indicates that the requested stream has never been
	// appended to
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamDeleted indicates that the stream was permanently removed
	ErrStreamDeleted = errors.New("stream deleted")

	// ErrWrongExpectedVersion indicates that the optimistic concurrency
	// precondition did not hold; the caller should re-read the stream and
	// retry with the updated version
	ErrWrongExpectedVersion = errors.New("wrong expected version")

	// ErrSnapshotNotFound indicates that no snapshot is stored for the
	// requested source id
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrMalformedRecord indicates that a record read from the backing log
	// is missing a required field and cannot be decoded
	ErrMalformedRecord = errors.New("malformed record")

	// ErrSubscriptionNameInUse indicates that a durable subscription name is
	// already claimed by another active consumer
	ErrSubscriptionNameInUse = errors.New("subscription name already in use")

	// ErrSubscriptionClosedByClient is produced by a subscription's Err
	// channel after the client calls Close
	ErrSubscriptionClosedByClient = errors.New("subscription closed by client")

	// ErrSubscriptionDropped indicates that a durable subscription exhausted
	// its retry budget and entered the terminal error state
	ErrSubscriptionDropped = errors.New("subscription dropped")
)
