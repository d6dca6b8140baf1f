package ledger_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zrodkin/CharityPad123-sub001/ledger"
	"github.com/stretchr/testify/require"
)

func openLedgers(t *testing.T) map[string]ledger.Ledger {
	t.Helper()

	sqliteLedger, err := ledger.NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteLedger.Close() })

	return map[string]ledger.Ledger{
		"sqlite": sqliteLedger,
		"memory": ledger.NewInMemoryLedger(),
	}
}

func TestLedgerPutGet(t *testing.T) {
	ctx := context.Background()

	for name, l := range openLedgers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := l.Get(ctx, "txn-1")
			require.ErrorIs(t, err, ledger.ErrNotFound)

			require.NoError(t, l.Put(ctx, "txn-1", "key-a"))

			key, err := l.Get(ctx, "txn-1")
			require.NoError(t, err)
			require.Equal(t, "key-a", key)
		})
	}
}

func TestLedgerDelete(t *testing.T) {
	ctx := context.Background()

	for name, l := range openLedgers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, l.Put(ctx, "txn-1", "key-a"))
			require.NoError(t, l.Delete(ctx, "txn-1"))

			_, err := l.Get(ctx, "txn-1")
			require.ErrorIs(t, err, ledger.ErrNotFound)
		})
	}
}

func TestLedgerPurgeOlderThan(t *testing.T) {
	ctx := context.Background()

	now := time.Now()
	l := ledger.NewInMemoryLedger()

	l.NowTime = func() time.Time { return now.Add(-48 * time.Hour) }
	require.NoError(t, l.Put(ctx, "txn-old", "key-old"))

	l.NowTime = func() time.Time { return now }
	require.NoError(t, l.Put(ctx, "txn-new", "key-new"))

	removed, err := l.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = l.Get(ctx, "txn-old")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	key, err := l.Get(ctx, "txn-new")
	require.NoError(t, err)
	require.Equal(t, "key-new", key)
}

func TestSQLiteLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	l, err := ledger.NewSQLiteLedger(dbPath)
	require.NoError(t, err)
	require.NoError(t, l.Put(ctx, "txn-1", "key-a"))
	require.NoError(t, l.Close())

	reopened, err := ledger.NewSQLiteLedger(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	key, err := reopened.Get(ctx, "txn-1")
	require.NoError(t, err)
	require.Equal(t, "key-a", key)
}
