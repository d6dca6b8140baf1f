// Package ledger maps locally-generated transaction ids to reusable
// idempotency keys. Entries are durable across process restarts so a crash
// mid-payment cannot silently mint a second key for the same logical
// transaction.
package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("idempotency key not found")

type Ledger interface {
	// Get returns the idempotency key previously minted for the
	// transaction id, or ErrNotFound.
	Get(ctx context.Context, transactionID string) (string, error)

	// Put stores the key for the transaction id, overwriting any prior
	// entry. Callers must Put before submitting the payment.
	Put(ctx context.Context, transactionID, idempotencyKey string) error

	// Delete removes the entry. Used when an outcome classifies the key
	// as not retained.
	Delete(ctx context.Context, transactionID string) error

	// PurgeOlderThan removes entries created more than age ago and
	// returns how many were removed.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
