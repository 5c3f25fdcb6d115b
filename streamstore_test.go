package streamstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aleskr/streamstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *streamstore.Store {
	t.Helper()

	es, err := streamstore.New(streamstore.WithInMemoryLog())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = es.Close()
	})

	return es
}

func someEvents(n int) []streamstore.EventData {
	events := make([]streamstore.EventData, n)

	for i := range events {
		events[i] = streamstore.EventData{
			Type: "SomeEvent",
			Data: []byte(fmt.Sprintf(`{"user_id":"user-%d"}`, i+1)),
		}
	}

	return events
}

func TestShouldReadAppendedEvents(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()
	evts := someEvents(3)

	err := es.Append(ctx, "some-stream", streamstore.NoStream(), evts)
	require.NoError(t, err)

	got, err := es.ReadStream(ctx, "some-stream")
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, evt := range got {
		assert.Equal(t, evts[i].Data, evt.Data)
		assert.Equal(t, "SomeEvent", evt.Type)
		assert.Equal(t, int64(i+1), evt.StreamVersion)
		assert.Equal(t, "some-stream", evt.StreamID)
		assert.NotEmpty(t, evt.ID)
		assert.False(t, evt.OccurredOn.IsZero())
	}
}

func TestShouldAssignStrictlyIncreasingPositions(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "stream-one", streamstore.NoStream(), someEvents(2)))
	require.NoError(t, es.Append(ctx, "stream-two", streamstore.NoStream(), someEvents(2)))

	one, err := es.ReadStream(ctx, "stream-one")
	require.NoError(t, err)

	two, err := es.ReadStream(ctx, "stream-two")
	require.NoError(t, err)

	var last uint64

	for _, evt := range append(one, two...) {
		assert.Greater(t, evt.Position, last)

		last = evt.Position
	}
}

func TestShouldAppendToExistingStreamWithExactVersion(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(2)))

	err := es.Append(ctx, "some-stream", streamstore.Exact(2), someEvents(1))
	require.NoError(t, err)

	got, err := es.ReadStream(ctx, "some-stream")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[2].StreamVersion)
}

func TestShouldFailAppendOnWrongExpectedVersion(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(2)))

	err := es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(1))
	assert.ErrorIs(t, err, streamstore.ErrWrongExpectedVersion)

	err = es.Append(ctx, "some-stream", streamstore.Exact(1), someEvents(1))
	assert.ErrorIs(t, err, streamstore.ErrWrongExpectedVersion)

	err = es.Append(ctx, "some-stream", streamstore.Exact(5), someEvents(1))
	assert.ErrorIs(t, err, streamstore.ErrWrongExpectedVersion)
}

func TestShouldSkipVersionCheckWithAny(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.Any(), someEvents(2)))
	require.NoError(t, es.Append(ctx, "some-stream", streamstore.Any(), someEvents(1)))

	got, err := es.ReadStream(ctx, "some-stream")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[2].StreamVersion)
}

func TestConcurrentAppendsWithSameExpectedVersionYieldOneWinner(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()
	errs := make(chan error, 2)

	var wg sync.WaitGroup

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs <- es.Append(ctx, "contended", streamstore.NoStream(), someEvents(1))
		}()
	}

	wg.Wait()
	close(errs)

	var won, lost int

	for err := range errs {
		switch {
		case err == nil:
			won++
		case assert.ErrorIs(t, err, streamstore.ErrWrongExpectedVersion):
			lost++
		}
	}

	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	got, err := es.ReadStream(ctx, "contended")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAppendingNoEventsIsANoOp(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), nil))

	_, err := es.ReadStream(ctx, "some-stream")
	assert.ErrorIs(t, err, streamstore.ErrStreamNotFound)
}

func TestAppendRequiresStreamName(t *testing.T) {
	es := newTestStore(t)

	err := es.Append(context.Background(), "", streamstore.NoStream(), someEvents(1))
	assert.Error(t, err)
}

func TestAppendRejectsUntypedEvents(t *testing.T) {
	es := newTestStore(t)

	err := es.Append(context.Background(), "some-stream", streamstore.NoStream(), []streamstore.EventData{
		{Data: []byte(`{}`)},
	})
	assert.ErrorIs(t, err, streamstore.ErrMalformedRecord)
}

func TestShouldStampBatchMetaData(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	err := es.Append(
		ctx, "some-stream", streamstore.NoStream(), someEvents(2),
		streamstore.WithMetaData(map[string]string{"ip": "127.0.0.1"}),
		streamstore.WithCorrelationID("corr-1"),
		streamstore.WithCausationID("cause-1"),
	)
	require.NoError(t, err)

	got, err := es.ReadStream(ctx, "some-stream")
	require.NoError(t, err)

	for _, evt := range got {
		assert.JSONEq(t, `{"ip":"127.0.0.1"}`, string(evt.Meta))
		assert.Equal(t, "corr-1", evt.CorrelationID)
		assert.Equal(t, "cause-1", evt.CausationID)
	}
}

func TestStreamForwardPaginatesTransparently(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(25)))

	var versions []int64

	for evt, err := range es.StreamForward(ctx, "some-stream", streamstore.WithReadBatchSize(4)) {
		require.NoError(t, err)

		versions = append(versions, evt.StreamVersion)
	}

	require.Len(t, versions, 25)

	for i, v := range versions {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestStreamForwardIsRestartable(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(5)))

	seq := es.StreamForward(ctx, "some-stream", streamstore.WithReadBatchSize(2))

	for range 2 {
		var got []int64

		for evt, err := range seq {
			require.NoError(t, err)

			got = append(got, evt.StreamVersion)
		}

		assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
	}
}

func TestStreamForwardFromVersion(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(5)))

	var got []int64

	for evt, err := range es.StreamForward(ctx, "some-stream", streamstore.WithFromVersion(3)) {
		require.NoError(t, err)

		got = append(got, evt.StreamVersion)
	}

	assert.Equal(t, []int64{4, 5}, got)
}

func TestStreamForwardStopsEarlyWhenConsumerBreaks(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "some-stream", streamstore.NoStream(), someEvents(10)))

	var got int

	for _, err := range es.StreamForward(ctx, "some-stream") {
		require.NoError(t, err)

		got++
		if got == 3 {
			break
		}
	}

	assert.Equal(t, 3, got)
}

func TestReadingUnknownStreamFails(t *testing.T) {
	es := newTestStore(t)

	_, err := es.ReadStream(context.Background(), "no-such-stream")
	assert.ErrorIs(t, err, streamstore.ErrStreamNotFound)
}

func TestDeletedStreamIsGoneForGood(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, "doomed", streamstore.NoStream(), someEvents(2)))
	require.NoError(t, es.DeleteStream(ctx, "doomed"))

	_, err := es.ReadStream(ctx, "doomed")
	assert.ErrorIs(t, err, streamstore.ErrStreamDeleted)

	err = es.Append(ctx, "doomed", streamstore.Any(), someEvents(1))
	assert.ErrorIs(t, err, streamstore.ErrStreamDeleted)
}

// The scenario from the drawing board: a fresh order stream, a stale
// writer and a successful retry.
func TestOrderStreamScenario(t *testing.T) {
	es := newTestStore(t)

	ctx := context.Background()

	err := es.Append(ctx, "order-1", streamstore.NoStream(), someEvents(2))
	require.NoError(t, err)

	err = es.Append(ctx, "order-1", streamstore.NoStream(), someEvents(1))
	require.ErrorIs(t, err, streamstore.ErrWrongExpectedVersion)

	err = es.Append(ctx, "order-1", streamstore.Exact(2), someEvents(1))
	require.NoError(t, err)

	var got []int64

	for evt, err := range es.StreamForward(ctx, "order-1", streamstore.WithReadBatchSize(10)) {
		require.NoError(t, err)

		got = append(got, evt.StreamVersion)
	}

	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestNewRequiresExactlyOneBackend(t *testing.T) {
	_, err := streamstore.New()
	assert.Error(t, err)

	_, err = streamstore.New(
		streamstore.WithInMemoryLog(),
		streamstore.WithSQLiteDB("events.db"),
	)
	assert.Error(t, err)
}
