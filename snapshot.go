package streamstore

import (
	"context"
	"fmt"
)

// Snapshots are a replay shortcut, not a correctness critical log: a
// record is not atomic with any event append, and only the latest snapshot
// per source id is kept.

// ReadSnapshot returns the latest snapshot stored for a source id, or
// ErrSnapshotNotFound when none exists.
func (s *Store) ReadSnapshot(ctx context.Context, sourceID string) (SnapshotData, error) {
	if sourceID == "" {
		return SnapshotData{}, fmt.Errorf("source id must be provided")
	}

	rec, err := s.log.ReadSnapshot(ctx, sourceID)
	if err != nil {
		return SnapshotData{}, err
	}

	return decodeSnapshot(rec)
}

// RecordSnapshot stores a snapshot, overwriting any prior snapshot for the
// same source id.
func (s *Store) RecordSnapshot(ctx context.Context, snap SnapshotData) error {
	rec, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	if err := s.log.WriteSnapshot(ctx, rec); err != nil {
		return err
	}

	s.metrics.SnapshotObserved("record")

	return nil
}

// DeleteSnapshot removes the snapshot for a source id. Deleting a
// non-existent snapshot succeeds.
func (s *Store) DeleteSnapshot(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return fmt.Errorf("source id must be provided")
	}

	if err := s.log.DeleteSnapshot(ctx, sourceID); err != nil {
		return err
	}

	s.metrics.SnapshotObserved("delete")

	return nil
}
