package credstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Zrodkin/CharityPad123-sub001/credstore"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]credstore.Store {
	t.Helper()

	sqliteStore, err := credstore.NewSQLiteStore(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]credstore.Store{
		"sqlite": sqliteStore,
		"memory": credstore.NewInMemoryStore(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			// Stored tokens must come back byte-identical.
			value := []byte("EAAAl\x00binary\xff-token")
			require.NoError(t, store.Set(ctx, "oauth.access_token", value))

			got, err := store.Get(ctx, "oauth.access_token")
			require.NoError(t, err)
			require.Equal(t, value, got)
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "k", []byte("first")))
			require.NoError(t, store.Set(ctx, "k", []byte("second")))

			got, err := store.Get(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, []byte("second"), got)
		})
	}
}

func TestStoreMissingKey(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "missing")
			require.ErrorIs(t, err, credstore.ErrNotFound)
		})
	}
}

func TestStoreDeleteAndClear(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "a", []byte("1")))
			require.NoError(t, store.Set(ctx, "b", []byte("2")))

			require.NoError(t, store.Delete(ctx, "a"))
			_, err := store.Get(ctx, "a")
			require.ErrorIs(t, err, credstore.ErrNotFound)

			// Deleting an absent key is not an error.
			require.NoError(t, store.Delete(ctx, "a"))

			require.NoError(t, store.Clear(ctx))
			_, err = store.Get(ctx, "b")
			require.ErrorIs(t, err, credstore.ErrNotFound)
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "creds.db")

	store, err := credstore.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "oauth.refresh_token", []byte("rt-123")))
	require.NoError(t, store.Close())

	reopened, err := credstore.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "oauth.refresh_token")
	require.NoError(t, err)
	require.Equal(t, []byte("rt-123"), got)
}
