package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	transaction_id  TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL,
	created_at      INTEGER NOT NULL
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_idempotency_created_at ON idempotency_keys (created_at);
`

// SQLiteLedger persists idempotency keys in a single on-device SQLite file.
type SQLiteLedger struct {
	db      *sql.DB
	nowTime func() time.Time
}

var _ Ledger = (*SQLiteLedger)(nil)

func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSQLiteLedger] failed to open database")
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "[NewSQLiteLedger] failed to initialize schema")
	}

	return &SQLiteLedger{db: db, nowTime: time.Now}, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Get(ctx context.Context, transactionID string) (string, error) {
	var key string
	err := l.db.QueryRowContext(ctx,
		`SELECT idempotency_key FROM idempotency_keys WHERE transaction_id = ?`,
		transactionID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "[SQLiteLedger.Get] query")
	}
	return key, nil
}

func (l *SQLiteLedger) Put(ctx context.Context, transactionID, idempotencyKey string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (transaction_id, idempotency_key, created_at) VALUES (?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET idempotency_key = excluded.idempotency_key`,
		transactionID, idempotencyKey, l.nowTime().Unix())
	if err != nil {
		return errors.Wrap(err, "[SQLiteLedger.Put] upsert")
	}
	return nil
}

func (l *SQLiteLedger) Delete(ctx context.Context, transactionID string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE transaction_id = ?`, transactionID); err != nil {
		return errors.Wrap(err, "[SQLiteLedger.Delete] delete")
	}
	return nil
}

func (l *SQLiteLedger) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := l.nowTime().Add(-age).Unix()
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "[SQLiteLedger.PurgeOlderThan] delete")
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[SQLiteLedger.PurgeOlderThan] rows affected")
	}
	return removed, nil
}
