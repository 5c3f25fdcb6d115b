package aggregate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aleskr/streamstore"
	"github.com/aleskr/streamstore/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecLoadsExecutesAndSaves(t *testing.T) {
	store, _ := newAccountStore(t)

	ctx := context.Background()

	require.NoError(t, store.Save(ctx, NewAccount("acc-1")))

	exec := aggregate.NewExecutor(store)

	var acc Account

	acc.ID = "acc-1"

	err := exec(ctx, &acc, func(_ context.Context) error {
		acc.Deposit(30)

		return nil
	})
	require.NoError(t, err)

	var loaded Account

	require.NoError(t, store.ByID(ctx, "acc-1", &loaded))
	assert.Equal(t, 30, loaded.Balance)
}

func TestExecDoesNotSaveWhenCommandFails(t *testing.T) {
	store, _ := newAccountStore(t)

	ctx := context.Background()

	require.NoError(t, store.Save(ctx, NewAccount("acc-1")))

	wantErr := errors.New("insufficient funds")

	var acc Account

	acc.ID = "acc-1"

	err := aggregate.Exec(ctx, store, &acc, func(_ context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	var loaded Account

	require.NoError(t, store.ByID(ctx, "acc-1", &loaded))
	assert.Equal(t, int64(1), loaded.Version())
}

func TestExecSurfacesMissingAggregate(t *testing.T) {
	store, _ := newAccountStore(t)

	var acc Account

	acc.ID = "no-such-account"

	err := aggregate.Exec(context.Background(), store, &acc, func(_ context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, streamstore.ErrStreamNotFound)
}
