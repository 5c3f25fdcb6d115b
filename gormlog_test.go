package streamstore_test

import (
	"context"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/aleskr/streamstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var integration = flag.Bool("integration", false, "perform integration tests")

func newSQLiteStore(t *testing.T) *streamstore.Store {
	t.Helper()

	if !*integration {
		t.Skip("skipping integration tests")
	}

	es, err := streamstore.New(
		streamstore.WithSQLiteDB(filepath.Join(t.TempDir(), "events.db")),
		streamstore.WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = es.Close()
	})

	return es
}

func TestSQLiteShouldReadAppendedEvents(t *testing.T) {
	es := newSQLiteStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(3)))

	got, err := es.ReadStream(ctx, "some-stream")
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, evt := range got {
		assert.Equal(t, int64(i+1), evt.StreamVersion)
		assert.Equal(t, uint64(i+1), evt.Position)
		assert.Equal(t, "SomeEvent", evt.Type)
	}
}

func TestSQLiteShouldFailOnWrongExpectedVersion(t *testing.T) {
	es := newSQLiteStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(2)))

	err := es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(1))
	assert.ErrorIs(t, err, streamstore.ErrWrongExpectedVersion)

	err = es.Append(ctx, "some-stream", streamstore.Exact(5), someEvents(1))
	assert.ErrorIs(t, err, streamstore.ErrWrongExpectedVersion)

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.Exact(2), someEvents(1)))
}

func TestSQLiteShouldAppendWithAny(t *testing.T) {
	es := newSQLiteStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.Any(), someEvents(2)))
	require.NoError(t, es.Append(ctx, "some-stream", streamstore.Any(), someEvents(2)))

	got, err := es.ReadStream(ctx, "some-stream")
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestSQLiteReadingUnknownStreamFails(t *testing.T) {
	es := newSQLiteStore(t)

	_, err := es.ReadStream(context.Background(), "no-such-stream")
	assert.ErrorIs(t, err, streamstore.ErrStreamNotFound)
}

func TestSQLiteDurableSubscriptionCatchesUpAndResumesAfterAck(t *testing.T) {
	es := newSQLiteStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(4)))

	var c collector

	sub, err := es.SubscribeDurable(ctx, streamstore.AllStreams(), "sqlite-sub", &c)
	require.NoError(t, err)

	eventually(t, func() bool { return c.len() == 4 })

	require.NoError(t, sub.Ack(ctx, c.at(1)))

	sub.Close()

	var resumed collector

	sub2, err := es.SubscribeDurable(ctx, streamstore.AllStreams(), "sqlite-sub", &resumed)
	require.NoError(t, err)

	defer sub2.Close()

	eventually(t, func() bool { return resumed.len() == 2 })

	assert.Equal(t, []uint64{3, 4}, resumed.positions())
}

func TestSQLiteLiveSubscriptionPollsNewEvents(t *testing.T) {
	es := newSQLiteStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(1)))

	sub, err := es.Subscribe(ctx, streamstore.AllStreams())
	require.NoError(t, err)

	defer sub.Close()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.Exact(1), someEvents(1)))

	select {
	case evt := <-sub.EventData:
		assert.Equal(t, int64(2), evt.StreamVersion)
	case err := <-sub.Err:
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for polled event")
	}
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	es := newSQLiteStore(t)

	ctx := context.Background()

	require.NoError(t, es.RecordSnapshot(ctx, streamstore.SnapshotData{
		SourceID: "order-1",
		Version:  2,
		Data:     []byte(`{"balance":10}`),
	}))

	require.NoError(t, es.RecordSnapshot(ctx, streamstore.SnapshotData{
		SourceID: "order-1",
		Version:  5,
		Data:     []byte(`{"balance":99}`),
	}))

	got, err := es.ReadSnapshot(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, []byte(`{"balance":99}`), got.Data)

	require.NoError(t, es.DeleteSnapshot(ctx, "order-1"))
	require.NoError(t, es.DeleteSnapshot(ctx, "order-1"))

	_, err = es.ReadSnapshot(ctx, "order-1")
	assert.ErrorIs(t, err, streamstore.ErrSnapshotNotFound)
}

func TestSQLiteDeleteStreamTombstones(t *testing.T) {
	es := newSQLiteStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "doomed", streamstore.NoStream(), someEvents(2)))
	require.NoError(t, es.DeleteStream(ctx, "doomed"))
	require.NoError(t, es.DeleteStream(ctx, "doomed"))

	_, err := es.ReadStream(ctx, "doomed")
	assert.ErrorIs(t, err, streamstore.ErrStreamDeleted)

	err = es.Append(ctx, "doomed", streamstore.Any(), someEvents(1))
	assert.ErrorIs(t, err, streamstore.ErrStreamDeleted)
}
